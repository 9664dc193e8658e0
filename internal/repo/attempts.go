package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"creativeline/internal/domain"
)

func (r Repo) InsertAttemptTx(ctx context.Context, tx *sql.Tx, a domain.Attempt) error {
	overrides, err := json.Marshal(nonNil(a.Overrides))
	if err != nil {
		return err
	}
	actions, err := json.Marshal(nonNil(a.Actions))
	if err != nil {
		return err
	}
	errs, err := json.Marshal(nonNil(a.Errors))
	if err != nil {
		return err
	}
	formats, err := json.Marshal(nonNil(a.Formats))
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO attempts(id,draft_id,number,overrides_json,actions_json,state,condition,errors_json,formats_json,started_at,finished_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.SessionID, a.Number, string(overrides), string(actions), a.State, a.Condition, string(errs), string(formats),
		a.StartedAt.UTC().Format(timeLayout), a.FinishedAt.UTC().Format(timeLayout))
	return err
}

// ListAttempts returns a draft's attempts in submission order.
func (r Repo) ListAttempts(ctx context.Context, draftID string) ([]domain.Attempt, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,draft_id,number,overrides_json,actions_json,state,condition,errors_json,formats_json,started_at,finished_at
FROM attempts WHERE draft_id=? ORDER BY number ASC`, draftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attempt
	for rows.Next() {
		var (
			a                                 domain.Attempt
			overrides, actions, errs, formats string
			startedAt, finishedAt             string
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Number, &overrides, &actions, &a.State, &a.Condition, &errs, &formats, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		if err := decodeJSON(overrides, &a.Overrides); err != nil {
			return nil, err
		}
		if err := decodeJSON(actions, &a.Actions); err != nil {
			return nil, err
		}
		if err := decodeJSON(errs, &a.Errors); err != nil {
			return nil, err
		}
		if err := decodeJSON(formats, &a.Formats); err != nil {
			return nil, err
		}
		if a.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, err
		}
		if a.FinishedAt, err = time.Parse(timeLayout, finishedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
