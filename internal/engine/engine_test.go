package engine_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staffline/internal/db"
	"staffline/internal/domain"
	"staffline/internal/engine"
	"staffline/internal/events"
	"staffline/internal/metrics"
	"staffline/internal/migrate"
)

var fixedNow = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	seq    int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	eng := engine.New(conn, log.New(io.Discard))
	eng.Now = func() time.Time { return fixedNow }
	return &testEnv{Engine: eng, Ctx: context.Background()}
}

func (env *testEnv) next(prefix string) string {
	env.seq++
	return fmt.Sprintf("%s-%d", prefix, env.seq)
}

func (env *testEnv) project(t *testing.T, status domain.Status, mutate ...func(*domain.Project)) domain.Project {
	t.Helper()
	id := env.next("proj")
	p := domain.Project{
		ID:        id,
		Code:      "PRJ-" + id,
		Name:      "Tower " + id,
		Status:    status,
		CreatedAt: domain.FormatTime(fixedNow.Add(-72 * time.Hour)),
		UpdatedAt: domain.FormatTime(fixedNow.Add(-72 * time.Hour)),
	}
	for _, m := range mutate {
		m(&p)
	}
	require.NoError(t, env.Engine.Repo.InsertProject(env.Ctx, p))
	return p
}

// worker creates a profile in stage and assigns it to projectID.
func (env *testEnv) worker(t *testing.T, projectID string, stage domain.Stage, mutate ...func(*domain.WorkerAssignment)) string {
	t.Helper()
	profileID := env.next("prof")
	ts := domain.FormatTime(fixedNow.Add(-48 * time.Hour))
	require.NoError(t, env.Engine.Repo.InsertProfile(env.Ctx, domain.Profile{
		ID: profileID, Code: "W-" + profileID, FullName: "Worker " + profileID,
		CurrentStage: stage, CreatedAt: ts, UpdatedAt: ts,
	}))
	a := domain.WorkerAssignment{ID: env.next("asg"), ProjectID: projectID, ProfileID: profileID, CreatedAt: ts}
	for _, m := range mutate {
		m(&a)
	}
	require.NoError(t, env.Engine.Repo.InsertAssignment(env.Ctx, a))
	return profileID
}

func (env *testEnv) stage(t *testing.T, profileID string) domain.Stage {
	t.Helper()
	p, err := env.Engine.Repo.GetProfile(env.Ctx, profileID)
	require.NoError(t, err)
	return p.CurrentStage
}

func (env *testEnv) reload(t *testing.T, id string) domain.Project {
	t.Helper()
	p, err := env.Engine.Repo.GetProject(env.Ctx, id)
	require.NoError(t, err)
	return p
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStartRejectsIllegalSources(t *testing.T) {
	env := newTestEnv(t)
	for _, status := range domain.AllStatuses() {
		if domain.TransitionStart.Permits(status) {
			continue
		}
		t.Run(string(status), func(t *testing.T) {
			p := env.project(t, status)
			w := env.worker(t, p.ID, domain.StageAllocated)

			_, err := env.Engine.Start(env.Ctx, engine.StartOptions{ProjectID: p.ID, UserID: "ops", StartDate: date(2024, 1, 15)})
			var invalid *engine.InvalidTransitionError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, status, invalid.Current)
			assert.ElementsMatch(t, []domain.Status{domain.StatusPlanning, domain.StatusWorkersShared}, invalid.Allowed)
			assert.Equal(t, 400, engine.StatusCode(err))
			assert.Contains(t, err.Error(), string(status))

			assert.Equal(t, p, env.reload(t, p.ID))
			assert.Equal(t, domain.StageAllocated, env.stage(t, w))
			history, err := env.Engine.Repo.ListStatusHistory(env.Ctx, p.ID)
			require.NoError(t, err)
			assert.Empty(t, history)
			ledger, err := env.Engine.Repo.ListStageTransitions(env.Ctx, w)
			require.NoError(t, err)
			assert.Empty(t, ledger)
		})
	}
}

func TestStartDeploysWorkersWithoutOverwritingDeployedDate(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusWorkersShared)
	earlier := domain.FormatTime(date(2023, 12, 1))
	keep := env.worker(t, p.ID, domain.StageAllocated, func(a *domain.WorkerAssignment) { a.DeployedDate = &earlier })
	fresh := env.worker(t, p.ID, domain.StageOnboarded)

	res, err := env.Engine.Start(env.Ctx, engine.StartOptions{ProjectID: p.ID, UserID: "ops", StartDate: date(2024, 1, 15)})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusOngoing, res.Project.Status)
	require.NotNil(t, res.Project.ActualStartDate)
	assert.Equal(t, domain.FormatTime(date(2024, 1, 15)), *res.Project.ActualStartDate)
	require.NotNil(t, res.Project.StartDate)
	assert.Equal(t, domain.FormatTime(date(2024, 1, 15)), *res.Project.StartDate)
	assert.Equal(t, 2, res.WorkersUpdated.Count)
	assert.ElementsMatch(t, []string{keep, fresh}, res.WorkersUpdated.ProfileIDs)
	assert.Equal(t, "deployed", res.WorkersUpdated.NewStage)
	assert.Equal(t, "Project started", res.History.ChangeReason)

	assert.Equal(t, domain.StageDeployed, env.stage(t, keep))
	assert.Equal(t, domain.StageDeployed, env.stage(t, fresh))

	assignments, err := env.Engine.Repo.ListAssignments(env.Ctx, p.ID)
	require.NoError(t, err)
	dates := lo.SliceToMap(assignments, func(a domain.WorkerAssignment) (string, string) { return a.ProfileID, lo.FromPtr(a.DeployedDate) })
	assert.Equal(t, earlier, dates[keep])
	assert.Equal(t, domain.FormatTime(fixedNow), dates[fresh])

	ledger, err := env.Engine.Repo.ListStageTransitions(env.Ctx, fresh)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, domain.StageOnboarded, *ledger[0].FromStage)
	assert.Equal(t, "Auto-transitioned: Project "+p.Code+" started", ledger[0].Notes)
}

func TestStartKeepsPlannedStartDate(t *testing.T) {
	env := newTestEnv(t)
	planned := domain.FormatTime(date(2024, 1, 5))
	p := env.project(t, domain.StatusPlanning, func(p *domain.Project) { p.StartDate = &planned })

	res, err := env.Engine.Start(env.Ctx, engine.StartOptions{ProjectID: p.ID, UserID: "ops", StartDate: date(2024, 1, 9), Notes: "kickoff"})
	require.NoError(t, err)
	assert.Equal(t, planned, *res.Project.StartDate)
	assert.Equal(t, domain.FormatTime(date(2024, 1, 9)), *res.Project.ActualStartDate)
	assert.Equal(t, "kickoff", res.History.ChangeReason)
	assert.Equal(t, domain.FormatTime(date(2024, 1, 9)), res.History.StatusDate)
}

func TestCompleteBenchesEveryActiveWorker(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusOngoing)
	workers := []string{
		env.worker(t, p.ID, domain.StageDeployed),
		env.worker(t, p.ID, domain.StageDeployed),
		env.worker(t, p.ID, domain.StageOnHold),
	}

	res, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{ProjectID: p.ID, UserID: "ops", ActualEndDate: date(2024, 3, 1)})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, res.Project.Status)
	require.NotNil(t, res.Project.ActualEndDate)
	assert.Equal(t, domain.FormatTime(date(2024, 3, 1)), *res.Project.ActualEndDate)
	assert.Equal(t, 3, res.WorkersUpdated.Count)
	assert.Equal(t, "benched", res.WorkersUpdated.NewStage)

	for _, w := range workers {
		assert.Equal(t, domain.StageBenched, env.stage(t, w))
		ledger, err := env.Engine.Repo.ListStageTransitions(env.Ctx, w)
		require.NoError(t, err)
		require.Len(t, ledger, 1)
		assert.Equal(t, domain.StageBenched, ledger[0].ToStage)
		assert.Equal(t, "ops", ledger[0].TransitionedByUserID)
	}

	history, err := env.Engine.Repo.ListStatusHistory(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusOngoing, *history[0].FromStatus)
	assert.Equal(t, domain.StatusCompleted, history[0].ToStatus)
	assert.Equal(t, "Project completed", history[0].ChangeReason)
}

func TestRemovedAssignmentsAreNotCascaded(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusOngoing)
	removedAt := domain.FormatTime(fixedNow.Add(-time.Hour))
	active := env.worker(t, p.ID, domain.StageDeployed)
	removed := env.worker(t, p.ID, domain.StageDeployed, func(a *domain.WorkerAssignment) { a.RemovedAt = &removedAt })

	res, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{ProjectID: p.ID, UserID: "ops", ActualEndDate: date(2024, 3, 1)})
	require.NoError(t, err)
	assert.Equal(t, []string{active}, res.WorkersUpdated.ProfileIDs)
	assert.Equal(t, domain.StageDeployed, env.stage(t, removed))
}

func TestEveryTransitionWritesOneHistoryRow(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusPlanning)
	env.worker(t, p.ID, domain.StageAllocated)

	steps := []func() (engine.Result, error){
		func() (engine.Result, error) {
			return env.Engine.Start(env.Ctx, engine.StartOptions{ProjectID: p.ID, UserID: "ops", StartDate: date(2024, 1, 2)})
		},
		func() (engine.Result, error) {
			return env.Engine.Hold(env.Ctx, engine.HoldOptions{ProjectID: p.ID, UserID: "ops", Reason: domain.HoldBuildsewa})
		},
		func() (engine.Result, error) {
			return env.Engine.Resume(env.Ctx, engine.ResumeOptions{ProjectID: p.ID, UserID: "ops", ResumeReason: "site reopened"})
		},
		func() (engine.Result, error) {
			return env.Engine.Complete(env.Ctx, engine.CompleteOptions{ProjectID: p.ID, UserID: "ops", ActualEndDate: date(2024, 3, 1)})
		},
	}
	want := [][2]domain.Status{
		{domain.StatusPlanning, domain.StatusOngoing},
		{domain.StatusOngoing, domain.StatusOnHold},
		{domain.StatusOnHold, domain.StatusOngoing},
		{domain.StatusOngoing, domain.StatusCompleted},
	}
	for i, step := range steps {
		res, err := step()
		require.NoError(t, err, "step %d", i)
		history, err := env.Engine.Repo.ListStatusHistory(env.Ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, history, i+1)
		last := history[i]
		assert.Equal(t, want[i][0], *last.FromStatus)
		assert.Equal(t, want[i][1], last.ToStatus)
		assert.Equal(t, res.History.ID, last.ID)
	}
}

func TestDoubleStartCascadesOnce(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusPlanning)
	w := env.worker(t, p.ID, domain.StageAllocated)
	opts := engine.StartOptions{ProjectID: p.ID, UserID: "ops", StartDate: date(2024, 1, 2)}

	_, err := env.Engine.Start(env.Ctx, opts)
	require.NoError(t, err)
	_, err = env.Engine.Start(env.Ctx, opts)
	var invalid *engine.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, domain.StatusOngoing, invalid.Current)

	ledger, err := env.Engine.Repo.ListStageTransitions(env.Ctx, w)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)
}

func TestConcurrentStartsSerialize(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusWorkersShared)
	w := env.worker(t, p.ID, domain.StageAllocated)

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.Start(env.Ctx, engine.StartOptions{ProjectID: p.ID, UserID: fmt.Sprintf("ops-%d", i), StartDate: date(2024, 1, 2)})
		}(i)
	}
	wg.Wait()

	succeeded := lo.CountBy(errs, func(err error) bool { return err == nil })
	assert.Equal(t, 1, succeeded)
	for _, err := range errs {
		if err != nil {
			var invalid *engine.InvalidTransitionError
			assert.ErrorAs(t, err, &invalid)
		}
	}
	history, err := env.Engine.Repo.ListStatusHistory(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	ledger, err := env.Engine.Repo.ListStageTransitions(env.Ctx, w)
	require.NoError(t, err)
	assert.Len(t, ledger, 1)
}

func TestResumeOnlyMovesOnHoldWorkers(t *testing.T) {
	env := newTestEnv(t)
	reason := string(domain.HoldForceMajeure)
	p := env.project(t, domain.StatusOnHold, func(p *domain.Project) { p.OnHoldReason = &reason })
	held1 := env.worker(t, p.ID, domain.StageOnHold)
	held2 := env.worker(t, p.ID, domain.StageOnHold)
	benched := env.worker(t, p.ID, domain.StageBenched)

	res, err := env.Engine.Resume(env.Ctx, engine.ResumeOptions{ProjectID: p.ID, UserID: "ops", ResumeReason: "monsoon over"})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusOngoing, res.Project.Status)
	assert.Nil(t, res.Project.OnHoldReason)
	assert.ElementsMatch(t, []string{held1, held2}, res.WorkersUpdated.ProfileIDs)
	assert.Equal(t, domain.StageDeployed, env.stage(t, held1))
	assert.Equal(t, domain.StageDeployed, env.stage(t, held2))
	assert.Equal(t, domain.StageBenched, env.stage(t, benched))
	assert.Equal(t, "monsoon over", res.History.ChangeReason)
	assert.Equal(t, domain.FormatTime(fixedNow), res.History.StatusDate)

	ledger, err := env.Engine.Repo.ListStageTransitions(env.Ctx, benched)
	require.NoError(t, err)
	assert.Empty(t, ledger)
}

func TestHoldByEmployerKeepsWorkersDeployed(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusOngoing)
	w := env.worker(t, p.ID, domain.StageDeployed)

	res, err := env.Engine.Hold(env.Ctx, engine.HoldOptions{ProjectID: p.ID, UserID: "ops", Reason: domain.HoldEmployer})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusOnHold, res.Project.Status)
	require.NotNil(t, res.Project.OnHoldReason)
	assert.Equal(t, "employer", *res.Project.OnHoldReason)
	assert.Equal(t, 0, res.WorkersUpdated.Count)
	assert.Empty(t, res.WorkersUpdated.ProfileIDs)
	assert.Equal(t, "deployed (no change)", res.WorkersUpdated.NewStage)
	assert.Equal(t, domain.StageDeployed, env.stage(t, w))
	require.NotNil(t, res.History.AttributableTo)
	assert.Equal(t, "employer", *res.History.AttributableTo)
	assert.Equal(t, "Project put on hold: employer", res.History.ChangeReason)
}

func TestHoldByBuildsewaStandsDownDeployedWorkers(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusOngoing)
	deployed := env.worker(t, p.ID, domain.StageDeployed)
	benched := env.worker(t, p.ID, domain.StageBenched)

	res, err := env.Engine.Hold(env.Ctx, engine.HoldOptions{
		ProjectID: p.ID, UserID: "ops", Reason: domain.HoldBuildsewa, Notes: "permit lapsed",
		Documents: []domain.DocumentInput{{DocumentTitle: "Stop notice", FileURL: "https://files.example/stop.pdf"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{deployed}, res.WorkersUpdated.ProfileIDs)
	assert.Equal(t, domain.StageOnHold, env.stage(t, deployed))
	assert.Equal(t, domain.StageBenched, env.stage(t, benched))
	assert.Equal(t, "permit lapsed", res.History.ChangeReason)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, domain.StatusOnHold, res.Documents[0].Status)

	ledger, err := env.Engine.Repo.ListStageTransitions(env.Ctx, deployed)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "Auto-transitioned: Project "+p.Code+" put on hold (buildsewa)", ledger[0].Notes)
}

func TestShortCloseStoresDocuments(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusApproved)
	w := env.worker(t, p.ID, domain.StageMatched)

	res, err := env.Engine.ShortClose(env.Ctx, engine.ShortCloseOptions{
		ProjectID: p.ID, UserID: "ops", ActualEndDate: date(2024, 2, 1), ShortCloseReason: "budget cut",
		Documents: []domain.DocumentInput{
			{DocumentTitle: "Closure letter", FileURL: "https://files.example/closure.pdf"},
			{DocumentTitle: "Signed waiver", FileURL: "https://files.example/waiver.pdf", UploadedByUserID: "legal"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusShortClosed, res.Project.Status)
	assert.Equal(t, "Project short closed: budget cut", res.History.ChangeReason)
	assert.Equal(t, domain.StageBenched, env.stage(t, w))
	require.Len(t, res.Documents, 2)
	assert.Equal(t, "ops", res.Documents[0].UploadedByUserID)
	assert.Equal(t, "legal", res.Documents[1].UploadedByUserID)

	stored, err := env.Engine.Repo.ListStatusDocuments(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, d := range stored {
		assert.Equal(t, res.History.ID, d.ProjectStatusHistoryID)
		assert.Equal(t, domain.StatusShortClosed, d.Status)
	}
}

func TestClosedProjectsRejectCloseOuts(t *testing.T) {
	env := newTestEnv(t)
	for _, status := range []domain.Status{domain.StatusCompleted, domain.StatusShortClosed, domain.StatusTerminated} {
		p := env.project(t, status)
		_, err := env.Engine.ShortClose(env.Ctx, engine.ShortCloseOptions{ProjectID: p.ID, UserID: "ops", ActualEndDate: date(2024, 2, 1), ShortCloseReason: "x"})
		var invalid *engine.InvalidTransitionError
		require.ErrorAs(t, err, &invalid, "short close from %s", status)
		_, err = env.Engine.Terminate(env.Ctx, engine.TerminateOptions{ProjectID: p.ID, UserID: "ops", TerminationDate: date(2024, 2, 1), TerminationReason: "x"})
		require.ErrorAs(t, err, &invalid, "terminate from %s", status)
	}
}

func TestTerminateBeforeStartRestoresPreviousStage(t *testing.T) {
	env := newTestEnv(t)
	planned := domain.FormatTime(date(2024, 2, 1))
	p := env.project(t, domain.StatusWorkersShared, func(p *domain.Project) { p.StartDate = &planned })
	restored := env.worker(t, p.ID, domain.StageAllocated)
	fallback := env.worker(t, p.ID, domain.StageAllocated)

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	require.NoError(t, err)
	from := domain.StageWorker
	require.NoError(t, env.Engine.Repo.AppendStageTransitionsTx(env.Ctx, tx, []domain.StageTransition{{
		ID: "st-1", ProfileID: restored, FromStage: &from, ToStage: domain.StageAllocated,
		TransitionedByUserID: "ops", TransitionedAt: domain.FormatTime(fixedNow.Add(-60 * time.Hour)), Notes: "matched",
	}}))
	require.NoError(t, tx.Commit())

	res, err := env.Engine.Terminate(env.Ctx, engine.TerminateOptions{
		ProjectID: p.ID, UserID: "ops", TerminationDate: date(2024, 1, 20), TerminationReason: "employer withdrew",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusTerminated, res.Project.Status)
	assert.Equal(t, engine.StrategyRestorePrevious, res.WorkersUpdated.Strategy)
	assert.Equal(t, "previous stages (restored)", res.WorkersUpdated.NewStage)
	assert.Equal(t, domain.StageWorker, env.stage(t, restored))
	assert.Equal(t, domain.StageBenched, env.stage(t, fallback))
	require.NotNil(t, res.Project.TerminationReason)
	assert.Equal(t, "employer withdrew", *res.Project.TerminationReason)
	assert.Equal(t, domain.FormatTime(date(2024, 1, 20)), *res.Project.TerminationDate)
	assert.Equal(t, domain.FormatTime(date(2024, 1, 20)), *res.Project.ActualEndDate)
	assert.Equal(t, "Project terminated: employer withdrew", res.History.ChangeReason)
}

func TestTerminateAfterStartBenchesEveryone(t *testing.T) {
	env := newTestEnv(t)
	started := domain.FormatTime(date(2024, 1, 2))
	p := env.project(t, domain.StatusOngoing, func(p *domain.Project) {
		p.StartDate = &started
		p.ActualStartDate = &started
	})
	w := env.worker(t, p.ID, domain.StageDeployed)

	res, err := env.Engine.Terminate(env.Ctx, engine.TerminateOptions{
		ProjectID: p.ID, UserID: "ops", TerminationDate: date(2024, 1, 9), TerminationReason: "contract breach",
		Documents: []domain.DocumentInput{{DocumentTitle: "Notice", FileURL: "https://files.example/notice.pdf"}},
	})
	require.NoError(t, err)
	assert.Equal(t, engine.StrategyBenchAll, res.WorkersUpdated.Strategy)
	assert.Equal(t, domain.StageBenched, env.stage(t, w))
	require.Len(t, res.Documents, 1)

	ledger, err := env.Engine.Repo.ListStageTransitions(env.Ctx, w)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, "Auto-transitioned: Project "+p.Code+" terminated after start", ledger[0].Notes)
}

func TestTransitionWithoutAssignmentsStillRecordsHistory(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusOngoing)

	res, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{ProjectID: p.ID, UserID: "ops", ActualEndDate: date(2024, 3, 1), CompletionNotes: "handover done"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.WorkersUpdated.Count)
	assert.NotNil(t, res.WorkersUpdated.ProfileIDs)
	assert.Equal(t, "handover done", res.History.ChangeReason)

	history, err := env.Engine.Repo.ListStatusHistory(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestMissingProjectIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Resume(env.Ctx, engine.ResumeOptions{ProjectID: "missing", UserID: "ops", ResumeReason: "x"})
	require.ErrorIs(t, err, engine.ErrProjectNotFound)
	assert.Equal(t, 404, engine.StatusCode(err))
}

func TestInputValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusOngoing)
	cases := map[string]func() error{
		"missing user": func() error {
			_, err := env.Engine.Start(env.Ctx, engine.StartOptions{ProjectID: p.ID, StartDate: fixedNow})
			return err
		},
		"missing start date": func() error {
			_, err := env.Engine.Start(env.Ctx, engine.StartOptions{ProjectID: p.ID, UserID: "ops"})
			return err
		},
		"unknown hold reason": func() error {
			_, err := env.Engine.Hold(env.Ctx, engine.HoldOptions{ProjectID: p.ID, UserID: "ops", Reason: "weather"})
			return err
		},
		"blank resume reason": func() error {
			_, err := env.Engine.Resume(env.Ctx, engine.ResumeOptions{ProjectID: p.ID, UserID: "ops", ResumeReason: "  "})
			return err
		},
		"blank short close reason": func() error {
			_, err := env.Engine.ShortClose(env.Ctx, engine.ShortCloseOptions{ProjectID: p.ID, UserID: "ops", ActualEndDate: fixedNow})
			return err
		},
		"document without url": func() error {
			_, err := env.Engine.Terminate(env.Ctx, engine.TerminateOptions{
				ProjectID: p.ID, UserID: "ops", TerminationDate: fixedNow, TerminationReason: "x",
				Documents: []domain.DocumentInput{{DocumentTitle: "Notice"}},
			})
			return err
		},
	}
	for name, call := range cases {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.ErrorIs(t, err, engine.ErrInvalidInput)
			assert.Equal(t, 400, engine.StatusCode(err))
		})
	}
	assert.Equal(t, domain.StatusOngoing, env.reload(t, p.ID).Status)
}

func TestTransitionAppendsStatusEvent(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusOngoing)
	env.worker(t, p.ID, domain.StageDeployed)

	_, err := env.Engine.Complete(env.Ctx, engine.CompleteOptions{ProjectID: p.ID, UserID: "ops", ActualEndDate: date(2024, 3, 1)})
	require.NoError(t, err)

	evts, err := env.Engine.Repo.EventsAfter(env.Ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, events.StatusChanged, evts[0].Type)
	assert.Equal(t, p.ID, evts[0].ProjectID)
	assert.Equal(t, "ops", evts[0].ActorID)
	assert.Contains(t, evts[0].Payload, `"to_status":"completed"`)
}

func TestTransitionsAreCounted(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Metrics = metrics.New()
	p := env.project(t, domain.StatusPlanning)
	env.worker(t, p.ID, domain.StageAllocated)
	env.worker(t, p.ID, domain.StageAllocated)

	_, err := env.Engine.Start(env.Ctx, engine.StartOptions{ProjectID: p.ID, UserID: "ops", StartDate: date(2024, 1, 15)})
	require.NoError(t, err)
	_, err = env.Engine.Start(env.Ctx, engine.StartOptions{ProjectID: p.ID, UserID: "ops", StartDate: date(2024, 1, 15)})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	env.Engine.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `staffline_project_transitions_total{from="planning",to="ongoing",transition="start"} 1`)
	assert.Contains(t, body, `staffline_workers_cascaded_total{stage="deployed",transition="start"} 2`)
	assert.Contains(t, body, `staffline_transition_failures_total{code="400",transition="start"} 1`)
}

func TestStoreFailureRollsBackTransition(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusOngoing)
	w := env.worker(t, p.ID, domain.StageDeployed)
	_, err := env.Engine.DB.ExecContext(env.Ctx, `DROP TABLE project_status_documents`)
	require.NoError(t, err)

	_, err = env.Engine.ShortClose(env.Ctx, engine.ShortCloseOptions{
		ProjectID: p.ID, UserID: "ops", ActualEndDate: date(2024, 2, 1), ShortCloseReason: "budget cut",
		Documents: []domain.DocumentInput{{DocumentTitle: "Closure letter", FileURL: "https://files.example/closure.pdf"}},
	})
	require.Error(t, err)
	assert.Equal(t, 500, engine.StatusCode(err))
	assert.Contains(t, err.Error(), "insert status document")

	after := env.reload(t, p.ID)
	assert.Equal(t, domain.StatusOngoing, after.Status)
	assert.Equal(t, p.UpdatedAt, after.UpdatedAt)
	assert.Nil(t, after.ActualEndDate)
	assert.Equal(t, domain.StageDeployed, env.stage(t, w))

	history, err := env.Engine.Repo.ListStatusHistory(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
	ledger, err := env.Engine.Repo.ListStageTransitions(env.Ctx, w)
	require.NoError(t, err)
	assert.Empty(t, ledger)
	latest, err := env.Engine.Repo.LatestEventID(env.Ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)
}

func TestLedgersAreAppendOnly(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, domain.StatusPlanning)
	env.worker(t, p.ID, domain.StageAllocated)
	_, err := env.Engine.Start(env.Ctx, engine.StartOptions{ProjectID: p.ID, UserID: "ops", StartDate: date(2024, 1, 15)})
	require.NoError(t, err)

	stmts := []string{
		`UPDATE project_status_history SET change_reason = 'edited'`,
		`DELETE FROM project_status_history`,
		`UPDATE stage_transitions SET notes = 'edited'`,
		`DELETE FROM stage_transitions`,
	}
	for _, stmt := range stmts {
		_, err := env.Engine.DB.ExecContext(env.Ctx, stmt)
		assert.ErrorContains(t, err, "append-only", stmt)
	}

	history, err := env.Engine.Repo.ListStatusHistory(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotEqual(t, "edited", history[0].ChangeReason)
}
