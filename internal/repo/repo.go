package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"staffline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const projectColumns = `id,code,name,status,start_date,end_date,actual_start_date,actual_end_date,on_hold_reason,termination_date,termination_reason,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var status string
	var startDate, endDate, actualStart, actualEnd, holdReason, termDate, termReason sql.NullString
	err := row.Scan(&p.ID, &p.Code, &p.Name, &status, &startDate, &endDate, &actualStart, &actualEnd,
		&holdReason, &termDate, &termReason, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Status = domain.Status(status)
	p.StartDate = stringPtr(startDate)
	p.EndDate = stringPtr(endDate)
	p.ActualStartDate = stringPtr(actualStart)
	p.ActualEndDate = stringPtr(actualEnd)
	p.OnHoldReason = stringPtr(holdReason)
	p.TerminationDate = stringPtr(termDate)
	p.TerminationReason = stringPtr(termReason)
	return p, nil
}

// InsertProject stores a project row. Projects are created by onboarding
// flows; this exists for those flows, seeding and tests.
func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Code, p.Name, string(p.Status), nullableStringPtr(p.StartDate), nullableStringPtr(p.EndDate),
		nullableStringPtr(p.ActualStartDate), nullableStringPtr(p.ActualEndDate), nullableStringPtr(p.OnHoldReason),
		nullableStringPtr(p.TerminationDate), nullableStringPtr(p.TerminationReason), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return getProject(ctx, r.DB, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return getProject(ctx, tx, id)
}

func getProject(ctx context.Context, q queryer, id string) (domain.Project, error) {
	return scanProject(q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

type ProjectFilters struct {
	Status domain.Status
	// StartDueBy selects projects whose planned start_date is on or before it.
	StartDueBy string
	// EndedBefore selects projects whose planned end_date is strictly before it.
	EndedBefore string
	Limit       int
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.StartDueBy != "" {
		clauses = append(clauses, "start_date IS NOT NULL AND start_date<=?")
		args = append(args, f.StartDueBy)
	}
	if f.EndedBefore != "" {
		clauses = append(clauses, "end_date IS NOT NULL AND end_date<?")
		args = append(args, f.EndedBefore)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectColumns + ` FROM projects ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProjectUpdate carries the fields a status transition writes. Nil pointers
// leave the column untouched.
type ProjectUpdate struct {
	Status            domain.Status
	StartDateIfUnset  *string
	ActualStartDate   *string
	ActualEndDate     *string
	OnHoldReason      *string
	ClearOnHoldReason bool
	TerminationDate   *string
	TerminationReason *string
	UpdatedAt         string
}

// TransitionProjectTx applies u only while the project still has status
// from. It returns false when no row matched, meaning another writer moved
// the project first.
func (r Repo) TransitionProjectTx(ctx context.Context, tx *sql.Tx, id string, from domain.Status, u ProjectUpdate) (bool, error) {
	if u.Status == "" {
		return false, errors.New("target status required")
	}
	fields := []string{"status=?", "updated_at=?"}
	args := []any{string(u.Status), u.UpdatedAt}
	if u.StartDateIfUnset != nil {
		fields = append(fields, "start_date=COALESCE(start_date,?)")
		args = append(args, *u.StartDateIfUnset)
	}
	if u.ActualStartDate != nil {
		fields = append(fields, "actual_start_date=?")
		args = append(args, *u.ActualStartDate)
	}
	if u.ActualEndDate != nil {
		fields = append(fields, "actual_end_date=?")
		args = append(args, *u.ActualEndDate)
	}
	switch {
	case u.ClearOnHoldReason:
		fields = append(fields, "on_hold_reason=NULL")
	case u.OnHoldReason != nil:
		fields = append(fields, "on_hold_reason=?")
		args = append(args, *u.OnHoldReason)
	}
	if u.TerminationDate != nil {
		fields = append(fields, "termination_date=?")
		args = append(args, *u.TerminationDate)
	}
	if u.TerminationReason != nil {
		fields = append(fields, "termination_reason=?")
		args = append(args, *u.TerminationReason)
	}
	args = append(args, id, string(from))
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=? AND status=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// placeholders returns "?,?,...,?" with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
