package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"staffline/internal/domain"
	"staffline/internal/engine"
	"staffline/internal/metrics"
	"staffline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *log.Logger
	// Metrics, when set, is served at /metrics outside the API base path.
	Metrics  *metrics.Recorder
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot start project: current status is \"draft\", must be one of: planning, workers_shared"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"current_status\":\"draft\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the staffline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Staffline API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerStatusTransitions(group, cfg.Engine)
	registerProfiles(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics.Handler())
	}

	return router, nil
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method, "path", r.URL.Path, "status", ww.Status(),
				"duration", time.Since(start), "request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var invalid *engine.InvalidTransitionError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusBadRequest, "invalid_transition", err.Error(), map[string]any{
			"transition":       string(invalid.Transition),
			"current_status":   string(invalid.Current),
			"allowed_statuses": invalid.Allowed,
		})
	}
	switch engine.StatusCode(err) {
	case http.StatusNotFound:
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case http.StatusBadRequest:
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["actorHeader"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: actorHeader,
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"actorHeader": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Staffline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

var readErrors = []int{
	http.StatusUnauthorized,
	http.StatusNotFound,
	http.StatusInternalServerError,
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project with its worker assignments",
		Errors:      readErrors,
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(notFound(err))
		}
		assignments, err := e.Repo.ListAssignments(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if assignments == nil {
			assignments = []domain.WorkerAssignment{}
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: ProjectResponse{Project: p, Assignments: assignments}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-status-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status-history",
		Summary:     "List project status history",
		Errors:      readErrors,
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body StatusHistoryListResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(notFound(err))
		}
		items, err := e.Repo.ListStatusHistory(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.StatusHistory{}
		}
		return &struct {
			Body StatusHistoryListResponse `json:"body"`
		}{Body: StatusHistoryListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-status-documents",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status-documents",
		Summary:     "List documents attached to project status changes",
		Errors:      readErrors,
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body StatusDocumentListResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(notFound(err))
		}
		items, err := e.Repo.ListStatusDocuments(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.StatusDocument{}
		}
		return &struct {
			Body StatusDocumentListResponse `json:"body"`
		}{Body: StatusDocumentListResponse{Items: items}}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	type profilePath struct {
		ProfileID string `path:"profile_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-stage-transitions",
		Method:      http.MethodGet,
		Path:        "/profiles/{profile_id}/stage-transitions",
		Summary:     "List a worker profile's stage transitions",
		Errors:      readErrors,
	}, func(ctx context.Context, input *profilePath) (*struct {
		Body StageTransitionListResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetProfile(ctx, input.ProfileID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "profile not found", nil)
			}
			return nil, handleError(err)
		}
		items, err := e.Repo.ListStageTransitions(ctx, input.ProfileID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.StageTransition{}
		}
		return &struct {
			Body StageTransitionListResponse `json:"body"`
		}{Body: StageTransitionListResponse{Items: items}}, nil
	})
}

type transitionOutput struct {
	Body TransitionResponse `json:"body"`
}

func transitionOperation(id, verb, summary string) huma.Operation {
	return huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/status/" + verb,
		Summary:     summary,
		Tags:        []string{"project-status"},
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}
}

func registerStatusTransitions(api huma.API, e engine.Engine) {
	huma.Register(api, transitionOperation("start-project", "start", "Start project and deploy assigned workers"),
		func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			Body      StartProjectRequest
		}) (*transitionOutput, error) {
			actorID, aerr := actorIDFromContext(ctx)
			if aerr != nil {
				return nil, aerr
			}
			start, err := parseDate("start_date", input.Body.StartDate)
			if err != nil {
				return nil, handleError(err)
			}
			res, err := e.Start(ctx, engine.StartOptions{
				ProjectID: input.ProjectID,
				UserID:    actorID,
				StartDate: start,
				Notes:     input.Body.Notes,
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &transitionOutput{Body: res}, nil
		})

	huma.Register(api, transitionOperation("hold-project", "hold", "Put project on hold"),
		func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			Body      HoldProjectRequest
		}) (*transitionOutput, error) {
			actorID, aerr := actorIDFromContext(ctx)
			if aerr != nil {
				return nil, aerr
			}
			res, err := e.Hold(ctx, engine.HoldOptions{
				ProjectID: input.ProjectID,
				UserID:    actorID,
				Reason:    domain.HoldReason(input.Body.OnHoldReason),
				Notes:     input.Body.Notes,
				Documents: mapDocuments(input.Body.Documents),
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &transitionOutput{Body: res}, nil
		})

	huma.Register(api, transitionOperation("resume-project", "resume", "Resume project from hold"),
		func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			Body      ResumeProjectRequest
		}) (*transitionOutput, error) {
			actorID, aerr := actorIDFromContext(ctx)
			if aerr != nil {
				return nil, aerr
			}
			res, err := e.Resume(ctx, engine.ResumeOptions{
				ProjectID:    input.ProjectID,
				UserID:       actorID,
				ResumeReason: input.Body.ResumeReason,
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &transitionOutput{Body: res}, nil
		})

	huma.Register(api, transitionOperation("complete-project", "complete", "Complete project and bench workers"),
		func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			Body      CompleteProjectRequest
		}) (*transitionOutput, error) {
			actorID, aerr := actorIDFromContext(ctx)
			if aerr != nil {
				return nil, aerr
			}
			end, err := parseDate("actual_end_date", input.Body.ActualEndDate)
			if err != nil {
				return nil, handleError(err)
			}
			res, err := e.Complete(ctx, engine.CompleteOptions{
				ProjectID:       input.ProjectID,
				UserID:          actorID,
				ActualEndDate:   end,
				CompletionNotes: input.Body.CompletionNotes,
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &transitionOutput{Body: res}, nil
		})

	huma.Register(api, transitionOperation("short-close-project", "short-close", "Short close project and bench workers"),
		func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			Body      ShortCloseProjectRequest
		}) (*transitionOutput, error) {
			actorID, aerr := actorIDFromContext(ctx)
			if aerr != nil {
				return nil, aerr
			}
			end, err := parseDate("actual_end_date", input.Body.ActualEndDate)
			if err != nil {
				return nil, handleError(err)
			}
			res, err := e.ShortClose(ctx, engine.ShortCloseOptions{
				ProjectID:        input.ProjectID,
				UserID:           actorID,
				ActualEndDate:    end,
				ShortCloseReason: input.Body.ShortCloseReason,
				Documents:        mapDocuments(input.Body.Documents),
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &transitionOutput{Body: res}, nil
		})

	huma.Register(api, transitionOperation("terminate-project", "terminate", "Terminate project"),
		func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			Body      TerminateProjectRequest
		}) (*transitionOutput, error) {
			actorID, aerr := actorIDFromContext(ctx)
			if aerr != nil {
				return nil, aerr
			}
			date, err := parseDate("termination_date", input.Body.TerminationDate)
			if err != nil {
				return nil, handleError(err)
			}
			res, err := e.Terminate(ctx, engine.TerminateOptions{
				ProjectID:         input.ProjectID,
				UserID:            actorID,
				TerminationDate:   date,
				TerminationReason: input.Body.TerminationReason,
				Documents:         mapDocuments(input.Body.Documents),
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &transitionOutput{Body: res}, nil
		})
}

// parseDate accepts an empty value as unset; the engine reports it missing.
func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := domain.ParseTime(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD or RFC3339", engine.ErrInvalidInput, field)
	}
	return t, nil
}

func notFound(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return engine.ErrProjectNotFound
	}
	return err
}
