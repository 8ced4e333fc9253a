package repo

import (
	"context"
	"database/sql"

	"staffline/internal/domain"
)

const profileColumns = `id,code,full_name,current_stage,created_at,updated_at`

func scanProfile(row rowScanner) (domain.Profile, error) {
	var p domain.Profile
	var stage string
	err := row.Scan(&p.ID, &p.Code, &p.FullName, &stage, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.CurrentStage = domain.Stage(stage)
	return p, nil
}

func (r Repo) InsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO profiles(`+profileColumns+`) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Code, p.FullName, string(p.CurrentStage), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	return scanProfile(r.DB.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id))
}

func (r Repo) InsertAssignment(ctx context.Context, a domain.WorkerAssignment) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO project_worker_assignments(id,project_id,profile_id,deployed_date,removed_at,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.ProfileID, nullableStringPtr(a.DeployedDate), nullableStringPtr(a.RemovedAt), a.CreatedAt)
	return err
}

func (r Repo) ListAssignments(ctx context.Context, projectID string) ([]domain.WorkerAssignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,profile_id,deployed_date,removed_at,created_at FROM project_worker_assignments WHERE project_id=? ORDER BY created_at ASC, id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkerAssignment
	for rows.Next() {
		var a domain.WorkerAssignment
		var deployed, removed sql.NullString
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.ProfileID, &deployed, &removed, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.DeployedDate = stringPtr(deployed)
		a.RemovedAt = stringPtr(removed)
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActiveAssignmentsTx returns the project's non-removed assignments joined to
// the assigned profile's current stage, read inside tx.
func (r Repo) ActiveAssignmentsTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.ActiveAssignment, error) {
	rows, err := tx.QueryContext(ctx, `SELECT a.id, a.profile_id, p.current_stage, a.deployed_date, a.created_at
FROM project_worker_assignments a
JOIN profiles p ON p.id = a.profile_id
WHERE a.project_id=? AND a.removed_at IS NULL
ORDER BY a.created_at ASC, a.id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActiveAssignment
	for rows.Next() {
		var a domain.ActiveAssignment
		var stage string
		var deployed sql.NullString
		if err := rows.Scan(&a.AssignmentID, &a.ProfileID, &stage, &deployed, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CurrentStage = domain.Stage(stage)
		a.DeployedDate = stringPtr(deployed)
		res = append(res, a)
	}
	return res, rows.Err()
}

// SetProfileStageTx moves the given profiles to stage in one statement.
func (r Repo) SetProfileStageTx(ctx context.Context, tx *sql.Tx, profileIDs []string, stage domain.Stage, updatedAt string) error {
	if len(profileIDs) == 0 {
		return nil
	}
	args := []any{string(stage), updatedAt}
	for _, id := range profileIDs {
		args = append(args, id)
	}
	_, err := tx.ExecContext(ctx, `UPDATE profiles SET current_stage=?, updated_at=? WHERE id IN (`+placeholders(len(profileIDs))+`)`, args...)
	return err
}

// MarkDeployedTx stamps deployed_date on the given assignments where it is
// still unset. Existing dates are kept.
func (r Repo) MarkDeployedTx(ctx context.Context, tx *sql.Tx, assignmentIDs []string, deployedAt string) error {
	if len(assignmentIDs) == 0 {
		return nil
	}
	args := []any{deployedAt}
	for _, id := range assignmentIDs {
		args = append(args, id)
	}
	_, err := tx.ExecContext(ctx, `UPDATE project_worker_assignments SET deployed_date=? WHERE deployed_date IS NULL AND id IN (`+placeholders(len(assignmentIDs))+`)`, args...)
	return err
}

// PreviousStageTx finds the stage a profile held before it entered stage,
// looking only at transitions recorded at or before asOf. ok is false when
// no such transition exists.
func (r Repo) PreviousStageTx(ctx context.Context, tx *sql.Tx, profileID string, stage domain.Stage, asOf string) (domain.Stage, bool, error) {
	var from sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT from_stage FROM stage_transitions
WHERE profile_id=? AND to_stage=? AND transitioned_at<=?
ORDER BY transitioned_at DESC, rowid DESC LIMIT 1`, profileID, string(stage), asOf).Scan(&from)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !from.Valid || from.String == "" {
		return "", false, nil
	}
	return domain.Stage(from.String), true, nil
}
