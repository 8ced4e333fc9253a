package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"staffline/internal/config"
	"staffline/internal/db"
	"staffline/internal/engine"
	"staffline/internal/logging"
	"staffline/internal/metrics"
	"staffline/internal/migrate"
)

// Runtime is everything a command needs to run against one workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	Log       *log.Logger
	DB        *sql.DB
	Engine    engine.Engine
	Metrics   *metrics.Recorder

	closeLog func() error
}

// Open loads staffline.yml, builds the logger, opens and migrates the
// database, and wires the engine.
func Open(ctx context.Context, workspace string, stderr io.Writer) (*Runtime, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := logging.New(stderr, logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("open db: %w", err)
	}
	applied, err := migrate.Apply(ctx, conn)
	if err != nil {
		conn.Close()
		closeLog()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	for _, name := range applied {
		logger.Info("migration applied", "name", name)
	}
	rec := metrics.New()
	eng := engine.New(conn, logger)
	eng.Metrics = rec
	return &Runtime{
		Workspace: workspace,
		Config:    cfg,
		Log:       logger,
		DB:        conn,
		Engine:    eng,
		Metrics:   rec,
		closeLog:  closeLog,
	}, nil
}

func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	if r.closeLog != nil {
		errs = append(errs, r.closeLog())
	}
	return errors.Join(errs...)
}
