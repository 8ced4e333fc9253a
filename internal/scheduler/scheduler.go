package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"staffline/internal/domain"
	"staffline/internal/engine"
	"staffline/internal/repo"
)

// SystemActor is recorded as the user behind automatic transitions.
const SystemActor = "system"

const (
	autoStartNote    = "Auto-started: Start date reached"
	autoCompleteNote = "Auto-completed: End date passed"
)

// Report counts what one sweep did.
type Report struct {
	ProjectsStarted   int `json:"projects_started"`
	WorkersDeployed   int `json:"workers_deployed"`
	ProjectsCompleted int `json:"projects_completed"`
	WorkersBenched    int `json:"workers_benched"`
	Failed            int `json:"failed"`
}

// Scheduler starts projects whose start date has arrived and completes
// projects whose end date has passed.
type Scheduler struct {
	Engine   engine.Engine
	Log      *log.Logger
	Location *time.Location
	Now      func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func New(eng engine.Engine, logger *log.Logger, loc *time.Location) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{Engine: eng, Log: logger, Location: loc, Now: time.Now}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Start registers the sweep on spec and starts the cron runner.
func (s *Scheduler) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already running")
	}
	c := cron.New(cron.WithLocation(s.Location))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.Log.Error("project sweep failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	s.Log.Info("project sweep scheduled", "spec", spec, "timezone", s.Location.String())
	return nil
}

// Stop halts the runner and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// RunOnce performs one sweep. A project that fails to transition is logged
// and skipped; only listing failures abort the sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	now := s.now()
	local := now.In(s.Location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
	endOfToday := today.AddDate(0, 0, 1).Add(-time.Microsecond)

	due, err := s.Engine.Repo.ListProjects(ctx, repo.ProjectFilters{
		Status:     domain.StatusWorkersShared,
		StartDueBy: domain.FormatTime(endOfToday),
	})
	if err != nil {
		return rep, fmt.Errorf("list projects due to start: %w", err)
	}
	for _, p := range due {
		res, err := s.Engine.Start(ctx, engine.StartOptions{
			ProjectID: p.ID,
			UserID:    SystemActor,
			StartDate: now,
			Notes:     autoStartNote,
		})
		if err != nil {
			rep.Failed++
			s.Log.Error("auto-start failed", "project_id", p.ID, "err", err)
			continue
		}
		rep.ProjectsStarted++
		rep.WorkersDeployed += res.WorkersUpdated.Count
		s.Log.Info("auto-started project", "project_id", p.ID, "workers", res.WorkersUpdated.Count)
	}

	ended, err := s.Engine.Repo.ListProjects(ctx, repo.ProjectFilters{
		Status:      domain.StatusOngoing,
		EndedBefore: domain.FormatTime(today),
	})
	if err != nil {
		return rep, fmt.Errorf("list projects due to complete: %w", err)
	}
	for _, p := range ended {
		res, err := s.Engine.Complete(ctx, engine.CompleteOptions{
			ProjectID:       p.ID,
			UserID:          SystemActor,
			ActualEndDate:   now,
			CompletionNotes: autoCompleteNote,
		})
		if err != nil {
			rep.Failed++
			s.Log.Error("auto-complete failed", "project_id", p.ID, "err", err)
			continue
		}
		rep.ProjectsCompleted++
		rep.WorkersBenched += res.WorkersUpdated.Count
		s.Log.Info("auto-completed project", "project_id", p.ID, "workers", res.WorkersUpdated.Count)
	}
	return rep, nil
}
