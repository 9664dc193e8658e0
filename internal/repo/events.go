package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"creativeline/internal/domain"
)

type EventFilters struct {
	DraftID string
	Type    string
	// After returns only events with a greater id, oldest first. Without it
	// the newest events come first.
	After int64
	Limit int
}

func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if f.DraftID != "" {
		clauses = append(clauses, "draft_id=?")
		args = append(args, f.DraftID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	order := "DESC"
	if f.After > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.After)
		order = "ASC"
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(draft_id,''),COALESCE(attempt_id,''),payload_json FROM events WHERE %s ORDER BY id %s LIMIT ?`,
		strings.Join(clauses, " AND "), order)
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.DraftID, &e.AttemptID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event id, optionally for one draft.
func (r Repo) LatestEventID(ctx context.Context, draftID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE ?='' OR draft_id=?`, draftID, draftID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
