// Package journal appends operation records (syncs, saves, deletions) to
// the local SQLite journal table. It is best-effort bookkeeping: a nil DB
// makes every append a no-op, so components wired to a remote-only store
// carry a zero Writer without special-casing.
package journal

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

type Payload map[string]any

// Append records one operation. Callers treat failures as non-fatal.
func (w Writer) Append(ctx context.Context, op, collection, actorID string, payload Payload) error {
	if w.DB == nil {
		return nil
	}
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO journal(ts,op,collection,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), op, nullable(collection), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
