package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Event locates one state transition; Block is the height of the transaction that caused it.
type Event struct {
	Type       string
	Block      int64
	EntityKind string
	EntityID   string
	Actor      string
	Payload    EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt Event) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	payload := evt.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,block,type,entity_kind,entity_id,actor,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evt.Block, evt.Type, evt.EntityKind, nullable(evt.EntityID), evt.Actor, string(data))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evt.Type, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
