package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends audit events inside the caller's transaction so the
// event row commits or rolls back together with the change it records.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Payload map[string]any

// Entry is one audit event to record.
type Entry struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, entry Entry) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if entry.Payload == nil {
		entry.Payload = Payload{}
	}
	data, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, entry.Type, nullable(entry.ProjectID), entry.EntityKind, nullable(entry.EntityID), entry.ActorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
