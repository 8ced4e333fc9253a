package domain

type Project struct {
	ID                string  `json:"id"`
	Code              string  `json:"code"`
	Name              string  `json:"name,omitempty"`
	Status            Status  `json:"status"`
	StartDate         *string `json:"start_date,omitempty" format:"date-time"`
	EndDate           *string `json:"end_date,omitempty" format:"date-time"`
	ActualStartDate   *string `json:"actual_start_date,omitempty" format:"date-time"`
	ActualEndDate     *string `json:"actual_end_date,omitempty" format:"date-time"`
	OnHoldReason      *string `json:"on_hold_reason,omitempty"`
	TerminationDate   *string `json:"termination_date,omitempty" format:"date-time"`
	TerminationReason *string `json:"termination_reason,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

type Profile struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	FullName     string `json:"full_name,omitempty"`
	CurrentStage Stage  `json:"current_stage"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type WorkerAssignment struct {
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	ProfileID    string  `json:"profile_id"`
	DeployedDate *string `json:"deployed_date,omitempty" format:"date-time"`
	RemovedAt    *string `json:"removed_at,omitempty" format:"date-time"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// ActiveAssignment is an assignment with removed_at unset, joined to the
// assigned profile's stage as read inside the enclosing transaction.
type ActiveAssignment struct {
	AssignmentID string  `json:"assignment_id"`
	ProfileID    string  `json:"profile_id"`
	CurrentStage Stage   `json:"current_stage"`
	DeployedDate *string `json:"deployed_date,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

type StatusHistory struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	FromStatus      *Status `json:"from_status,omitempty"`
	ToStatus        Status  `json:"to_status"`
	ChangedByUserID string  `json:"changed_by_user_id"`
	StatusDate      string  `json:"status_date" format:"date-time"`
	ChangeReason    string  `json:"change_reason"`
	AttributableTo  *string `json:"attributable_to,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type StageTransition struct {
	ID                   string `json:"id"`
	ProfileID            string `json:"profile_id"`
	FromStage            *Stage `json:"from_stage,omitempty"`
	ToStage              Stage  `json:"to_stage"`
	TransitionedByUserID string `json:"transitioned_by_user_id"`
	TransitionedAt       string `json:"transitioned_at" format:"date-time"`
	Notes                string `json:"notes"`
}

type StatusDocument struct {
	ID                     string `json:"id"`
	ProjectStatusHistoryID string `json:"project_status_history_id"`
	ProjectID              string `json:"project_id"`
	Status                 Status `json:"status"`
	DocumentTitle          string `json:"document_title"`
	FileURL                string `json:"file_url"`
	UploadedByUserID       string `json:"uploaded_by_user_id"`
	CreatedAt              string `json:"created_at" format:"date-time"`
}

// DocumentInput is an already-uploaded document attached to a transition.
type DocumentInput struct {
	DocumentTitle    string `json:"document_title"`
	FileURL          string `json:"file_url"`
	UploadedByUserID string `json:"uploaded_by_user_id,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
