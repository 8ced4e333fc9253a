package repo

import (
	"context"
	"database/sql"
	"strings"

	"staffline/internal/domain"
)

func (r Repo) AppendStatusHistoryTx(ctx context.Context, tx *sql.Tx, h domain.StatusHistory) error {
	var from any
	if h.FromStatus != nil {
		from = string(*h.FromStatus)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO project_status_history(id,project_id,from_status,to_status,changed_by_user_id,status_date,change_reason,attributable_to,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		h.ID, h.ProjectID, from, string(h.ToStatus), h.ChangedByUserID, h.StatusDate, h.ChangeReason, nullableStringPtr(h.AttributableTo), h.CreatedAt)
	return err
}

// AppendStageTransitionsTx writes all rows with a single multi-row insert.
func (r Repo) AppendStageTransitionsTx(ctx context.Context, tx *sql.Tx, rows []domain.StageTransition) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*7)
	for _, t := range rows {
		var from any
		if t.FromStage != nil {
			from = string(*t.FromStage)
		}
		values = append(values, "(?,?,?,?,?,?,?)")
		args = append(args, t.ID, t.ProfileID, from, string(t.ToStage), t.TransitionedByUserID, t.TransitionedAt, t.Notes)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO stage_transitions(id,profile_id,from_stage,to_stage,transitioned_by_user_id,transitioned_at,notes) VALUES `+strings.Join(values, ","), args...)
	return err
}

func (r Repo) InsertStatusDocumentTx(ctx context.Context, tx *sql.Tx, d domain.StatusDocument) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_status_documents(id,project_status_history_id,project_id,status,document_title,file_url,uploaded_by_user_id,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		d.ID, d.ProjectStatusHistoryID, d.ProjectID, string(d.Status), d.DocumentTitle, d.FileURL, d.UploadedByUserID, d.CreatedAt)
	return err
}

// ListStatusHistory returns a project's status history, oldest first.
func (r Repo) ListStatusHistory(ctx context.Context, projectID string) ([]domain.StatusHistory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,from_status,to_status,changed_by_user_id,status_date,change_reason,attributable_to,created_at
FROM project_status_history WHERE project_id=? ORDER BY created_at ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusHistory
	for rows.Next() {
		var h domain.StatusHistory
		var from, attributable sql.NullString
		var to string
		if err := rows.Scan(&h.ID, &h.ProjectID, &from, &to, &h.ChangedByUserID, &h.StatusDate, &h.ChangeReason, &attributable, &h.CreatedAt); err != nil {
			return nil, err
		}
		if from.Valid {
			s := domain.Status(from.String)
			h.FromStatus = &s
		}
		h.ToStatus = domain.Status(to)
		h.AttributableTo = stringPtr(attributable)
		res = append(res, h)
	}
	return res, rows.Err()
}

// ListStageTransitions returns a profile's stage ledger, oldest first.
func (r Repo) ListStageTransitions(ctx context.Context, profileID string) ([]domain.StageTransition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,profile_id,from_stage,to_stage,transitioned_by_user_id,transitioned_at,notes
FROM stage_transitions WHERE profile_id=? ORDER BY transitioned_at ASC, rowid ASC`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageTransition
	for rows.Next() {
		var t domain.StageTransition
		var from sql.NullString
		var to string
		if err := rows.Scan(&t.ID, &t.ProfileID, &from, &to, &t.TransitionedByUserID, &t.TransitionedAt, &t.Notes); err != nil {
			return nil, err
		}
		if from.Valid {
			s := domain.Stage(from.String)
			t.FromStage = &s
		}
		t.ToStage = domain.Stage(to)
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListStatusDocuments returns documents attached to a project's status
// changes, oldest first.
func (r Repo) ListStatusDocuments(ctx context.Context, projectID string) ([]domain.StatusDocument, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_status_history_id,project_id,status,document_title,file_url,uploaded_by_user_id,created_at
FROM project_status_documents WHERE project_id=? ORDER BY created_at ASC, rowid ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusDocument
	for rows.Next() {
		var d domain.StatusDocument
		var status string
		if err := rows.Scan(&d.ID, &d.ProjectStatusHistoryID, &d.ProjectID, &status, &d.DocumentTitle, &d.FileURL, &d.UploadedByUserID, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Status = domain.Status(status)
		res = append(res, d)
	}
	return res, rows.Err()
}
