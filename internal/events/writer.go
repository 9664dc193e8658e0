package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types recorded in the workspace log.
const (
	DraftCreated    = "draft.created"
	DraftUpdated    = "draft.updated"
	DraftAssets     = "draft.assets"
	DraftReset      = "draft.reset"
	AttemptFinished = "attempt.finished"
	OverrideSet     = "override.set"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Append writes one event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, draftID, attemptID string, payload Payload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,draft_id,attempt_id,payload_json) VALUES (?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339Nano), evtType, nullable(draftID), nullable(attemptID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
