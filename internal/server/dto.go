package server

import (
	"staffline/internal/domain"
	"staffline/internal/engine"
)

// Request payloads. Dates accept YYYY-MM-DD or RFC3339.

type StatusDocumentRequest struct {
	DocumentTitle    string `json:"document_title" minLength:"1"`
	FileURL          string `json:"file_url" minLength:"1"`
	UploadedByUserID string `json:"uploaded_by_user_id,omitempty"`
}

type StartProjectRequest struct {
	StartDate string `json:"start_date" example:"2024-01-15"`
	Notes     string `json:"notes,omitempty"`
}

type HoldProjectRequest struct {
	OnHoldReason string                  `json:"on_hold_reason" enum:"employer,buildsewa,force_majeure"`
	Notes        string                  `json:"notes,omitempty"`
	Documents    []StatusDocumentRequest `json:"documents,omitempty"`
}

type ResumeProjectRequest struct {
	ResumeReason string `json:"resume_reason"`
}

type CompleteProjectRequest struct {
	ActualEndDate   string `json:"actual_end_date" example:"2024-03-01"`
	CompletionNotes string `json:"completion_notes,omitempty"`
}

type ShortCloseProjectRequest struct {
	ActualEndDate    string                  `json:"actual_end_date" example:"2024-03-01"`
	ShortCloseReason string                  `json:"short_close_reason"`
	Documents        []StatusDocumentRequest `json:"documents,omitempty"`
}

type TerminateProjectRequest struct {
	TerminationDate   string                  `json:"termination_date" example:"2024-03-01"`
	TerminationReason string                  `json:"termination_reason"`
	Documents         []StatusDocumentRequest `json:"documents,omitempty"`
}

// Responses

type TransitionResponse = engine.Result

type StatusHistoryListResponse struct {
	Items []domain.StatusHistory `json:"items"`
}

type StatusDocumentListResponse struct {
	Items []domain.StatusDocument `json:"items"`
}

type StageTransitionListResponse struct {
	Items []domain.StageTransition `json:"items"`
}

type ProjectResponse struct {
	domain.Project
	Assignments []domain.WorkerAssignment `json:"assignments"`
}

func mapDocuments(in []StatusDocumentRequest) []domain.DocumentInput {
	out := make([]domain.DocumentInput, 0, len(in))
	for _, d := range in {
		out = append(out, domain.DocumentInput{
			DocumentTitle:    d.DocumentTitle,
			FileURL:          d.FileURL,
			UploadedByUserID: d.UploadedByUserID,
		})
	}
	return out
}
