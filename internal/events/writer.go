package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"staffline/internal/domain"
)

// StatusChanged is emitted once per committed project status transition.
const StatusChanged = "project.status.changed"

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an outbox row through ex, which may be the writer's DB or an
// open transaction.
func (w Writer) Append(ctx context.Context, ex execer, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	if ex == nil {
		ex = w.DB
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		domain.FormatTime(w.Now()), evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
