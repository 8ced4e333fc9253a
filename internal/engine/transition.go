package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"staffline/internal/domain"
	"staffline/internal/events"
	"staffline/internal/repo"
)

const (
	StrategyRestorePrevious = "restore_previous"
	StrategyBenchAll        = "bench_all"

	unchangedStage = "deployed (no change)"
	restoredStage  = "previous stages (restored)"
)

type matchKind int

const (
	// matchNone leaves every worker where it is.
	matchNone matchKind = iota
	// matchAll selects every active assignment.
	matchAll
	// matchStage selects assignments whose profile is in cascadeRule.from.
	matchStage
	// matchRestore selects every active assignment and sends each profile
	// back to the stage it held before joining the project.
	matchRestore
)

type cascadeRule struct {
	match        matchKind
	from         domain.Stage
	to           domain.Stage
	markDeployed bool
	noteSuffix   string
	label        string
	strategy     string
}

func (r cascadeRule) selects(a domain.ActiveAssignment) bool {
	switch r.match {
	case matchAll, matchRestore:
		return true
	case matchStage:
		return a.CurrentStage == r.from
	default:
		return false
	}
}

type transitionRequest struct {
	transition      domain.Transition
	projectID       string
	userID          string
	statusDate      time.Time
	reason          string
	attributableTo  *string
	holdReason      domain.HoldReason
	terminationDate time.Time
	documents       []domain.DocumentInput
	update          repo.ProjectUpdate
}

// cascadeFor returns the worker cascade a transition applies to project p.
func cascadeFor(req transitionRequest, p domain.Project) cascadeRule {
	switch req.transition {
	case domain.TransitionStart:
		return cascadeRule{match: matchAll, to: domain.StageDeployed, markDeployed: true}
	case domain.TransitionHold:
		if !req.holdReason.StandsDownWorkers() {
			return cascadeRule{match: matchNone, label: unchangedStage}
		}
		return cascadeRule{match: matchStage, from: domain.StageDeployed, to: domain.StageOnHold,
			noteSuffix: fmt.Sprintf(" (%s)", req.holdReason)}
	case domain.TransitionResume:
		return cascadeRule{match: matchStage, from: domain.StageOnHold, to: domain.StageDeployed}
	case domain.TransitionComplete, domain.TransitionShortClose:
		return cascadeRule{match: matchAll, to: domain.StageBenched}
	case domain.TransitionTerminate:
		if terminatedBeforeStart(p, req.terminationDate) {
			return cascadeRule{match: matchRestore, to: domain.StageBenched, label: restoredStage,
				strategy: StrategyRestorePrevious, noteSuffix: " before start (restored to previous stage)"}
		}
		return cascadeRule{match: matchAll, to: domain.StageBenched,
			strategy: StrategyBenchAll, noteSuffix: " after start"}
	}
	panic(fmt.Sprintf("engine: unknown transition %q", string(req.transition)))
}

// terminatedBeforeStart compares against the actual start when the project
// ran, otherwise the planned start. A project with neither never started.
func terminatedBeforeStart(p domain.Project, at time.Time) bool {
	ref := p.ActualStartDate
	if ref == nil {
		ref = p.StartDate
	}
	if ref == nil {
		return true
	}
	start, err := domain.ParseTime(*ref)
	if err != nil {
		return true
	}
	return at.Before(start)
}

// execute runs one status transition and records its outcome.
func (e Engine) execute(ctx context.Context, req transitionRequest) (Result, error) {
	res, err := e.apply(ctx, req)
	if err != nil {
		e.Metrics.Failure(string(req.transition), StatusCode(err))
		return res, err
	}
	e.Metrics.Transition(string(req.transition), string(*res.History.FromStatus), string(res.History.ToStatus),
		res.WorkersUpdated.Count, res.WorkersUpdated.NewStage)
	return res, nil
}

// apply runs one status transition in a single transaction.
func (e Engine) apply(ctx context.Context, req transitionRequest) (Result, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, req.projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrProjectNotFound, req.projectID)
		}
		return Result{}, fmt.Errorf("load project: %w", err)
	}
	if !req.transition.Permits(p.Status) {
		return Result{}, &InvalidTransitionError{Transition: req.transition, Current: p.Status, Allowed: req.transition.Sources()}
	}

	assignments, err := e.Repo.ActiveAssignmentsTx(ctx, tx, p.ID)
	if err != nil {
		return Result{}, fmt.Errorf("resolve assignments: %w", err)
	}
	rule := cascadeFor(req, p)
	nowStr := domain.FormatTime(e.now())

	update := req.update
	update.Status = req.transition.Target()
	update.UpdatedAt = nowStr
	ok, err := e.Repo.TransitionProjectTx(ctx, tx, p.ID, p.Status, update)
	if err != nil {
		return Result{}, fmt.Errorf("update project: %w", err)
	}
	if !ok {
		return Result{}, &InvalidTransitionError{Transition: req.transition, Current: p.Status, Allowed: req.transition.Sources()}
	}

	workers, err := e.cascade(ctx, tx, p, req, rule, assignments, nowStr)
	if err != nil {
		return Result{}, err
	}

	from := p.Status
	history := domain.StatusHistory{
		ID:              uuid.NewString(),
		ProjectID:       p.ID,
		FromStatus:      &from,
		ToStatus:        req.transition.Target(),
		ChangedByUserID: req.userID,
		StatusDate:      domain.FormatTime(req.statusDate),
		ChangeReason:    req.reason,
		AttributableTo:  req.attributableTo,
		CreatedAt:       nowStr,
	}
	if err := e.Repo.AppendStatusHistoryTx(ctx, tx, history); err != nil {
		return Result{}, fmt.Errorf("append status history: %w", err)
	}

	var docs []domain.StatusDocument
	for _, in := range req.documents {
		d := domain.StatusDocument{
			ID:                     uuid.NewString(),
			ProjectStatusHistoryID: history.ID,
			ProjectID:              p.ID,
			Status:                 history.ToStatus,
			DocumentTitle:          in.DocumentTitle,
			FileURL:                in.FileURL,
			UploadedByUserID:       orDefault(in.UploadedByUserID, req.userID),
			CreatedAt:              nowStr,
		}
		if err := e.Repo.InsertStatusDocumentTx(ctx, tx, d); err != nil {
			return Result{}, fmt.Errorf("insert status document: %w", err)
		}
		docs = append(docs, d)
	}

	updated, err := e.Repo.GetProjectTx(ctx, tx, p.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reload project: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}

	e.logger().Info("project status changed",
		"project_id", p.ID, "from", string(from), "to", string(history.ToStatus), "workers", workers.Count)
	e.notify(ctx, req, history, workers)

	return Result{Project: updated, WorkersUpdated: workers, History: history, Documents: docs}, nil
}

func (e Engine) cascade(ctx context.Context, tx *sql.Tx, p domain.Project, req transitionRequest, rule cascadeRule, assignments []domain.ActiveAssignment, nowStr string) (WorkersUpdated, error) {
	out := WorkersUpdated{ProfileIDs: []string{}, NewStage: string(rule.to), Strategy: rule.strategy}
	if rule.label != "" {
		out.NewStage = rule.label
	}
	if rule.match == matchNone {
		return out, nil
	}
	selected := lo.UniqBy(lo.Filter(assignments, func(a domain.ActiveAssignment, _ int) bool {
		return rule.selects(a)
	}), func(a domain.ActiveAssignment) string { return a.ProfileID })
	if len(selected) == 0 {
		return out, nil
	}

	targets := make(map[string]domain.Stage, len(selected))
	for _, a := range selected {
		targets[a.ProfileID] = rule.to
		if rule.match != matchRestore {
			continue
		}
		prev, found, err := e.Repo.PreviousStageTx(ctx, tx, a.ProfileID, a.CurrentStage, a.CreatedAt)
		if err != nil {
			return out, fmt.Errorf("previous stage for %s: %w", a.ProfileID, err)
		}
		if found {
			targets[a.ProfileID] = prev
		}
	}

	byStage := lo.GroupBy(selected, func(a domain.ActiveAssignment) domain.Stage { return targets[a.ProfileID] })
	for stage, group := range byStage {
		ids := lo.Map(group, func(a domain.ActiveAssignment, _ int) string { return a.ProfileID })
		if err := e.Repo.SetProfileStageTx(ctx, tx, ids, stage, nowStr); err != nil {
			return out, fmt.Errorf("update profile stages: %w", err)
		}
	}
	if rule.markDeployed {
		assignmentIDs := lo.Map(lo.Filter(assignments, func(a domain.ActiveAssignment, _ int) bool {
			return rule.selects(a)
		}), func(a domain.ActiveAssignment, _ int) string { return a.AssignmentID })
		if err := e.Repo.MarkDeployedTx(ctx, tx, assignmentIDs, nowStr); err != nil {
			return out, fmt.Errorf("mark deployed: %w", err)
		}
	}

	note := fmt.Sprintf("Auto-transitioned: Project %s %s%s", p.Code, req.transition.Event(), rule.noteSuffix)
	ledger := lo.Map(selected, func(a domain.ActiveAssignment, _ int) domain.StageTransition {
		from := a.CurrentStage
		return domain.StageTransition{
			ID:                   uuid.NewString(),
			ProfileID:            a.ProfileID,
			FromStage:            &from,
			ToStage:              targets[a.ProfileID],
			TransitionedByUserID: req.userID,
			TransitionedAt:       nowStr,
			Notes:                note,
		}
	})
	if err := e.Repo.AppendStageTransitionsTx(ctx, tx, ledger); err != nil {
		return out, fmt.Errorf("append stage transitions: %w", err)
	}

	out.Count = len(selected)
	out.ProfileIDs = lo.Map(selected, func(a domain.ActiveAssignment, _ int) string { return a.ProfileID })
	return out, nil
}

// notify appends the outbox event after commit. Failures are logged only.
func (e Engine) notify(ctx context.Context, req transitionRequest, h domain.StatusHistory, workers WorkersUpdated) {
	w := e.Events
	if w.DB == nil {
		w.DB = e.DB
	}
	if w.Now == nil {
		w.Now = e.now
	}
	payload := events.EventPayload{
		"transition":    string(req.transition),
		"from_status":   string(*h.FromStatus),
		"to_status":     string(h.ToStatus),
		"history_id":    h.ID,
		"workers":       workers.Count,
		"profile_ids":   workers.ProfileIDs,
		"new_stage":     workers.NewStage,
		"change_reason": h.ChangeReason,
	}
	if err := w.Append(ctx, w.DB, events.StatusChanged, h.ProjectID, "project", h.ProjectID, req.userID, payload); err != nil {
		e.logger().Warn("status event not recorded", "project_id", h.ProjectID, "err", err)
	}
}
