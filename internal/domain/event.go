package domain

import "encoding/json"

// Event is one entry of the workspace activity log.
type Event struct {
	ID        int64           `json:"id"`
	TS        string          `json:"ts"`
	Type      string          `json:"type"`
	DraftID   string          `json:"draft_id,omitempty"`
	AttemptID string          `json:"attempt_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}
