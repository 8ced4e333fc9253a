package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"staffline/internal/domain"
	"staffline/internal/repo"
)

// DemoProjectID is the project created by Seed.
const DemoProjectID = "demo-tower"

type SeedResult struct {
	Created    bool     `json:"created"`
	ProjectID  string   `json:"project_id"`
	ProfileIDs []string `json:"profile_ids"`
}

// Seed inserts a workers_shared demo project with three allocated workers.
// It does nothing when the demo project already exists.
func Seed(ctx context.Context, r repo.Repo, now time.Time) (SeedResult, error) {
	profileIDs := lo.Map([]int{1, 2, 3}, func(i int, _ int) string { return fmt.Sprintf("demo-worker-%d", i) })
	res := SeedResult{ProjectID: DemoProjectID, ProfileIDs: profileIDs}
	if _, err := r.GetProject(ctx, DemoProjectID); err == nil {
		return res, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return res, err
	}

	registered := domain.FormatTime(now.AddDate(0, 0, -14))
	matched := domain.FormatTime(now.AddDate(0, 0, -7))
	assigned := domain.FormatTime(now.AddDate(0, 0, -6))
	start := domain.FormatTime(now)
	if err := r.InsertProject(ctx, domain.Project{
		ID:        DemoProjectID,
		Code:      "PRJ-DEMO-001",
		Name:      "Demo Tower Block",
		Status:    domain.StatusWorkersShared,
		StartDate: &start,
		EndDate:   lo.ToPtr(domain.FormatTime(now.AddDate(0, 3, 0))),
		CreatedAt: registered,
		UpdatedAt: registered,
	}); err != nil {
		return res, fmt.Errorf("insert project: %w", err)
	}

	var ledger []domain.StageTransition
	for i, id := range profileIDs {
		if err := r.InsertProfile(ctx, domain.Profile{
			ID:           id,
			Code:         fmt.Sprintf("WRK-%03d", i+1),
			FullName:     fmt.Sprintf("Demo Worker %d", i+1),
			CurrentStage: domain.StageAllocated,
			CreatedAt:    registered,
			UpdatedAt:    matched,
		}); err != nil {
			return res, fmt.Errorf("insert profile: %w", err)
		}
		if err := r.InsertAssignment(ctx, domain.WorkerAssignment{
			ID:        id + "-assignment",
			ProjectID: DemoProjectID,
			ProfileID: id,
			CreatedAt: assigned,
		}); err != nil {
			return res, fmt.Errorf("insert assignment: %w", err)
		}
		from := domain.StageWorker
		ledger = append(ledger, domain.StageTransition{
			ID:                   id + "-allocated",
			ProfileID:            id,
			FromStage:            &from,
			ToStage:              domain.StageAllocated,
			TransitionedByUserID: "seed",
			TransitionedAt:       matched,
			Notes:                "Allocated to " + DemoProjectID,
		})
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	if err := r.AppendStageTransitionsTx(ctx, tx, ledger); err != nil {
		return res, fmt.Errorf("seed stage ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	res.Created = true
	return res, nil
}
