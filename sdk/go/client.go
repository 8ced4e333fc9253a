package stafflinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Staffline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID                string       `json:"id"`
	Code              string       `json:"code"`
	Name              string       `json:"name"`
	Status            string       `json:"status"`
	StartDate         string       `json:"start_date"`
	EndDate           string       `json:"end_date"`
	ActualStartDate   string       `json:"actual_start_date"`
	ActualEndDate     string       `json:"actual_end_date"`
	OnHoldReason      string       `json:"on_hold_reason"`
	TerminationDate   string       `json:"termination_date"`
	TerminationReason string       `json:"termination_reason"`
	Assignments       []Assignment `json:"assignments,omitempty"`
}

type Assignment struct {
	ID           string `json:"id"`
	ProfileID    string `json:"profile_id"`
	DeployedDate string `json:"deployed_date"`
	RemovedAt    string `json:"removed_at"`
}

// StatusHistory is one row of a project's status ledger.
type StatusHistory struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	FromStatus      string `json:"from_status"`
	ToStatus        string `json:"to_status"`
	ChangedByUserID string `json:"changed_by_user_id"`
	StatusDate      string `json:"status_date"`
	ChangeReason    string `json:"change_reason"`
	AttributableTo  string `json:"attributable_to"`
}

type StatusDocument struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	DocumentTitle    string `json:"document_title"`
	FileURL          string `json:"file_url"`
	UploadedByUserID string `json:"uploaded_by_user_id"`
}

type StageTransition struct {
	ID                   string `json:"id"`
	ProfileID            string `json:"profile_id"`
	FromStage            string `json:"from_stage"`
	ToStage              string `json:"to_stage"`
	TransitionedByUserID string `json:"transitioned_by_user_id"`
	TransitionedAt       string `json:"transitioned_at"`
	Notes                string `json:"notes"`
}

// WorkersUpdated summarizes the worker cascade of a transition.
type WorkersUpdated struct {
	Count      int      `json:"count"`
	ProfileIDs []string `json:"profile_ids"`
	NewStage   string   `json:"new_stage"`
	Strategy   string   `json:"strategy"`
}

// TransitionResult is returned by every status operation.
type TransitionResult struct {
	Project        Project          `json:"project"`
	WorkersUpdated WorkersUpdated   `json:"workers_updated"`
	History        StatusHistory    `json:"history"`
	Documents      []StatusDocument `json:"documents"`
}

// Document is an already-uploaded file attached to a transition.
type Document struct {
	DocumentTitle    string `json:"document_title"`
	FileURL          string `json:"file_url"`
	UploadedByUserID string `json:"uploaded_by_user_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetProject fetches a project with its worker assignments.
func (c *Client) GetProject(ctx context.Context, projectID string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, ""), nil, &resp)
	return resp, err
}

// StatusHistory lists a project's status changes, oldest first.
func (c *Client) StatusHistory(ctx context.Context, projectID string) ([]StatusHistory, error) {
	var resp struct {
		Items []StatusHistory `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "status-history"), nil, &resp)
	return resp.Items, err
}

// StatusDocuments lists documents attached to a project's status changes.
func (c *Client) StatusDocuments(ctx context.Context, projectID string) ([]StatusDocument, error) {
	var resp struct {
		Items []StatusDocument `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "status-documents"), nil, &resp)
	return resp.Items, err
}

// StageTransitions lists a worker profile's stage ledger.
func (c *Client) StageTransitions(ctx context.Context, profileID string) ([]StageTransition, error) {
	var resp struct {
		Items []StageTransition `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("profiles/%s/stage-transitions", url.PathEscape(profileID)), nil, &resp)
	return resp.Items, err
}

// Start starts a project. startDate is YYYY-MM-DD or RFC3339.
func (c *Client) Start(ctx context.Context, projectID, startDate, notes string) (TransitionResult, error) {
	return c.transition(ctx, projectID, "start", map[string]any{"start_date": startDate, "notes": notes})
}

// Hold puts a project on hold. reason is employer, buildsewa or force_majeure.
func (c *Client) Hold(ctx context.Context, projectID, reason, notes string, docs ...Document) (TransitionResult, error) {
	return c.transition(ctx, projectID, "hold", map[string]any{"on_hold_reason": reason, "notes": notes, "documents": docs})
}

func (c *Client) Resume(ctx context.Context, projectID, reason string) (TransitionResult, error) {
	return c.transition(ctx, projectID, "resume", map[string]any{"resume_reason": reason})
}

func (c *Client) Complete(ctx context.Context, projectID, actualEndDate, notes string) (TransitionResult, error) {
	return c.transition(ctx, projectID, "complete", map[string]any{"actual_end_date": actualEndDate, "completion_notes": notes})
}

func (c *Client) ShortClose(ctx context.Context, projectID, actualEndDate, reason string, docs ...Document) (TransitionResult, error) {
	return c.transition(ctx, projectID, "short-close", map[string]any{"actual_end_date": actualEndDate, "short_close_reason": reason, "documents": docs})
}

func (c *Client) Terminate(ctx context.Context, projectID, date, reason string, docs ...Document) (TransitionResult, error) {
	return c.transition(ctx, projectID, "terminate", map[string]any{"termination_date": date, "termination_reason": reason, "documents": docs})
}

func (c *Client) transition(ctx context.Context, projectID, verb string, body map[string]any) (TransitionResult, error) {
	if docs, ok := body["documents"].([]Document); ok && len(docs) == 0 {
		delete(body, "documents")
	}
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "status/"+verb), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(projectID, p string) string {
	out := "projects/" + url.PathEscape(projectID)
	if p != "" {
		out += "/" + strings.TrimLeft(p, "/")
	}
	return out
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
