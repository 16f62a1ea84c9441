// Package events records project writes in the append-only events table.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const (
	ProjectCreated = "project.created"
	ProjectUpdated = "project.updated"
)

// SystemActor is recorded when a write carries no actor.
const SystemActor = "system"

type Payload map[string]any

// Record is one event row before it is stamped.
type Record struct {
	Type       string
	ProjectID  int64
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

// ForProject describes a write to a whole project document.
func ForProject(evtType string, projectID int64, actorID string, payload Payload) Record {
	return Record{
		Type:       evtType,
		ProjectID:  projectID,
		EntityKind: "project",
		EntityID:   strconv.FormatInt(projectID, 10),
		ActorID:    actorID,
		Payload:    payload,
	}
}

// Writer appends rows inside the caller's transaction so an event exists
// exactly when its write commits.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	if rec.Type == "" || rec.EntityKind == "" {
		return fmt.Errorf("event needs a type and an entity kind")
	}
	if rec.ActorID == "" {
		rec.ActorID = SystemActor
	}
	payload := rec.Payload
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", rec.Type, err)
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), rec.Type, nullID(rec.ProjectID), rec.EntityKind, nullString(rec.EntityID), rec.ActorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s: %w", rec.Type, err)
	}
	return nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
