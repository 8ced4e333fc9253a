package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"staffline/internal/domain"
	"staffline/internal/events"
	"staffline/internal/metrics"
	"staffline/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Log     *log.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
}

func New(db *sql.DB, logger *log.Logger) Engine {
	if logger == nil {
		logger = log.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Log:    logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Log != nil {
		return e.Log
	}
	return log.Default()
}

// WorkersUpdated summarizes the cascade applied to assigned workers.
type WorkersUpdated struct {
	Count      int      `json:"count"`
	ProfileIDs []string `json:"profile_ids"`
	NewStage   string   `json:"new_stage"`
	Strategy   string   `json:"strategy,omitempty"`
}

// Result is returned by every status operation.
type Result struct {
	Project        domain.Project          `json:"project"`
	WorkersUpdated WorkersUpdated          `json:"workers_updated"`
	History        domain.StatusHistory    `json:"history"`
	Documents      []domain.StatusDocument `json:"documents,omitempty"`
}

type StartOptions struct {
	ProjectID string
	UserID    string
	StartDate time.Time
	Notes     string
}

// Start moves a planned project to ongoing and deploys every active worker.
func (e Engine) Start(ctx context.Context, opts StartOptions) (Result, error) {
	if err := requireIDs(opts.ProjectID, opts.UserID); err != nil {
		return Result{}, err
	}
	if opts.StartDate.IsZero() {
		return Result{}, invalidInput("start date is required")
	}
	start := domain.FormatTime(opts.StartDate)
	return e.execute(ctx, transitionRequest{
		transition: domain.TransitionStart,
		projectID:  opts.ProjectID,
		userID:     opts.UserID,
		statusDate: opts.StartDate,
		reason:     orDefault(opts.Notes, "Project started"),
		update: repo.ProjectUpdate{
			StartDateIfUnset: &start,
			ActualStartDate:  &start,
		},
	})
}

type HoldOptions struct {
	ProjectID string
	UserID    string
	Reason    domain.HoldReason
	Notes     string
	Documents []domain.DocumentInput
}

// Hold pauses an ongoing project. Workers stand down only when the hold is
// not attributable to the employer.
func (e Engine) Hold(ctx context.Context, opts HoldOptions) (Result, error) {
	if err := requireIDs(opts.ProjectID, opts.UserID); err != nil {
		return Result{}, err
	}
	if !opts.Reason.IsValid() {
		return Result{}, invalidInput("on hold reason must be one of employer, buildsewa, force_majeure, got %q", string(opts.Reason))
	}
	if err := validateDocuments(opts.Documents); err != nil {
		return Result{}, err
	}
	reason := string(opts.Reason)
	return e.execute(ctx, transitionRequest{
		transition:     domain.TransitionHold,
		projectID:      opts.ProjectID,
		userID:         opts.UserID,
		statusDate:     e.now(),
		reason:         orDefault(opts.Notes, "Project put on hold: "+reason),
		attributableTo: &reason,
		holdReason:     opts.Reason,
		documents:      opts.Documents,
		update:         repo.ProjectUpdate{OnHoldReason: &reason},
	})
}

type ResumeOptions struct {
	ProjectID    string
	UserID       string
	ResumeReason string
}

// Resume returns an on-hold project to ongoing, redeploying only workers
// that were stood down.
func (e Engine) Resume(ctx context.Context, opts ResumeOptions) (Result, error) {
	if err := requireIDs(opts.ProjectID, opts.UserID); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(opts.ResumeReason) == "" {
		return Result{}, invalidInput("resume reason is required")
	}
	return e.execute(ctx, transitionRequest{
		transition: domain.TransitionResume,
		projectID:  opts.ProjectID,
		userID:     opts.UserID,
		statusDate: e.now(),
		reason:     opts.ResumeReason,
		update:     repo.ProjectUpdate{ClearOnHoldReason: true},
	})
}

type CompleteOptions struct {
	ProjectID       string
	UserID          string
	ActualEndDate   time.Time
	CompletionNotes string
}

// Complete closes a running project and benches every active worker.
func (e Engine) Complete(ctx context.Context, opts CompleteOptions) (Result, error) {
	if err := requireIDs(opts.ProjectID, opts.UserID); err != nil {
		return Result{}, err
	}
	if opts.ActualEndDate.IsZero() {
		return Result{}, invalidInput("actual end date is required")
	}
	end := domain.FormatTime(opts.ActualEndDate)
	return e.execute(ctx, transitionRequest{
		transition: domain.TransitionComplete,
		projectID:  opts.ProjectID,
		userID:     opts.UserID,
		statusDate: opts.ActualEndDate,
		reason:     orDefault(opts.CompletionNotes, "Project completed"),
		update:     repo.ProjectUpdate{ActualEndDate: &end},
	})
}

type ShortCloseOptions struct {
	ProjectID        string
	UserID           string
	ActualEndDate    time.Time
	ShortCloseReason string
	Documents        []domain.DocumentInput
}

// ShortClose ends a project early and benches every active worker.
func (e Engine) ShortClose(ctx context.Context, opts ShortCloseOptions) (Result, error) {
	if err := requireIDs(opts.ProjectID, opts.UserID); err != nil {
		return Result{}, err
	}
	if opts.ActualEndDate.IsZero() {
		return Result{}, invalidInput("actual end date is required")
	}
	if strings.TrimSpace(opts.ShortCloseReason) == "" {
		return Result{}, invalidInput("short close reason is required")
	}
	if err := validateDocuments(opts.Documents); err != nil {
		return Result{}, err
	}
	end := domain.FormatTime(opts.ActualEndDate)
	return e.execute(ctx, transitionRequest{
		transition: domain.TransitionShortClose,
		projectID:  opts.ProjectID,
		userID:     opts.UserID,
		statusDate: opts.ActualEndDate,
		reason:     "Project short closed: " + opts.ShortCloseReason,
		documents:  opts.Documents,
		update:     repo.ProjectUpdate{ActualEndDate: &end},
	})
}

type TerminateOptions struct {
	ProjectID         string
	UserID            string
	TerminationDate   time.Time
	TerminationReason string
	Documents         []domain.DocumentInput
}

// Terminate cancels a project. Workers are restored to their previous stage
// when the project had not started by the termination date, otherwise benched.
func (e Engine) Terminate(ctx context.Context, opts TerminateOptions) (Result, error) {
	if err := requireIDs(opts.ProjectID, opts.UserID); err != nil {
		return Result{}, err
	}
	if opts.TerminationDate.IsZero() {
		return Result{}, invalidInput("termination date is required")
	}
	if strings.TrimSpace(opts.TerminationReason) == "" {
		return Result{}, invalidInput("termination reason is required")
	}
	if err := validateDocuments(opts.Documents); err != nil {
		return Result{}, err
	}
	date := domain.FormatTime(opts.TerminationDate)
	reason := opts.TerminationReason
	return e.execute(ctx, transitionRequest{
		transition:      domain.TransitionTerminate,
		projectID:       opts.ProjectID,
		userID:          opts.UserID,
		statusDate:      opts.TerminationDate,
		reason:          "Project terminated: " + reason,
		terminationDate: opts.TerminationDate,
		documents:       opts.Documents,
		update: repo.ProjectUpdate{
			ActualEndDate:     &date,
			TerminationDate:   &date,
			TerminationReason: &reason,
		},
	})
}

func requireIDs(projectID, userID string) error {
	if strings.TrimSpace(projectID) == "" {
		return invalidInput("project id is required")
	}
	if strings.TrimSpace(userID) == "" {
		return invalidInput("user id is required")
	}
	return nil
}

func validateDocuments(docs []domain.DocumentInput) error {
	for i, d := range docs {
		if strings.TrimSpace(d.DocumentTitle) == "" {
			return invalidInput("documents[%d]: document_title is required", i)
		}
		if strings.TrimSpace(d.FileURL) == "" {
			return invalidInput("documents[%d]: file_url is required", i)
		}
	}
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
