package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"creativeline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const timeLayout = time.RFC3339Nano

const selectDraft = `SELECT id,state,condition,message,draft_json,overrides_json,errors_json,pending_json,COALESCE(result_json,''),alcohol_advisory,attempts,created_at,updated_at FROM drafts`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (domain.Session, error) {
	var (
		s                                       domain.Session
		draft, overrides, errs, pending, result string
		advisory                                int
		createdAt, updatedAt                    string
	)
	err := row.Scan(&s.ID, &s.State, &s.Condition, &s.Message, &draft, &overrides, &errs, &pending, &result, &advisory, &s.Attempts, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := decodeJSON(draft, &s.Draft); err != nil {
		return s, fmt.Errorf("decode draft %s: %w", s.ID, err)
	}
	s.Overrides = domain.Overrides{}
	if err := decodeJSON(overrides, &s.Overrides); err != nil {
		return s, fmt.Errorf("decode overrides %s: %w", s.ID, err)
	}
	if err := decodeJSON(errs, &s.Errors); err != nil {
		return s, err
	}
	if err := decodeJSON(pending, &s.Pending); err != nil {
		return s, err
	}
	if err := decodeJSON(result, &s.Result); err != nil {
		return s, err
	}
	s.AlcoholAdvisory = advisory != 0
	if s.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return s, err
	}
	return s, nil
}

// SaveSessionTx upserts the draft row and replaces its assets.
func (r Repo) SaveSessionTx(ctx context.Context, tx *sql.Tx, s domain.Session) error {
	draft, err := json.Marshal(s.Draft)
	if err != nil {
		return err
	}
	overrides := s.Overrides
	if overrides == nil {
		overrides = domain.Overrides{}
	}
	ov, err := json.Marshal(overrides)
	if err != nil {
		return err
	}
	errs, err := json.Marshal(nonNil(s.Errors))
	if err != nil {
		return err
	}
	pending, err := json.Marshal(nonNil(s.Pending))
	if err != nil {
		return err
	}
	var result any
	if len(s.Result) > 0 {
		b, err := json.Marshal(s.Result)
		if err != nil {
			return err
		}
		result = string(b)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO drafts(id,state,condition,message,draft_json,overrides_json,errors_json,pending_json,result_json,alcohol_advisory,attempts,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET state=excluded.state, condition=excluded.condition, message=excluded.message,
  draft_json=excluded.draft_json, overrides_json=excluded.overrides_json, errors_json=excluded.errors_json,
  pending_json=excluded.pending_json, result_json=excluded.result_json, alcohol_advisory=excluded.alcohol_advisory,
  attempts=excluded.attempts, updated_at=excluded.updated_at`,
		s.ID, s.State, s.Condition, s.Message, string(draft), string(ov), string(errs), string(pending), result,
		boolInt(s.AlcoholAdvisory), s.Attempts, s.CreatedAt.UTC().Format(timeLayout), s.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return err
	}
	return r.replaceAssetsTx(ctx, tx, s.ID, s.Assets)
}

// SaveSession is SaveSessionTx in its own transaction.
func (r Repo) SaveSession(ctx context.Context, s domain.Session) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.SaveSessionTx(ctx, tx, s); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) replaceAssetsTx(ctx context.Context, tx *sql.Tx, draftID string, set domain.AssetSet) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM assets WHERE draft_id=?`, draftID); err != nil {
		return err
	}
	for slot, a := range set.Slots() {
		if _, err := tx.ExecContext(ctx, `INSERT INTO assets(draft_id,slot,name,data) VALUES (?,?,?,?)`, draftID, slot, a.Name, a.Data); err != nil {
			return fmt.Errorf("store asset %s: %w", slot, err)
		}
	}
	return nil
}

func (r Repo) loadAssets(ctx context.Context, draftID string) (domain.AssetSet, error) {
	var set domain.AssetSet
	rows, err := r.DB.QueryContext(ctx, `SELECT slot,name,data FROM assets WHERE draft_id=? ORDER BY slot`, draftID)
	if err != nil {
		return set, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			slot string
			a    domain.Asset
		)
		if err := rows.Scan(&slot, &a.Name, &a.Data); err != nil {
			return set, err
		}
		if err := set.Put(slot, a); err != nil {
			return set, err
		}
	}
	return set, rows.Err()
}

// GetSession loads a draft with its assets.
func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	s, err := scanSession(r.DB.QueryRowContext(ctx, selectDraft+` WHERE id=?`, id))
	if err != nil {
		return s, err
	}
	s.Assets, err = r.loadAssets(ctx, id)
	return s, err
}

// ListSessions returns drafts most recently updated first. Asset payloads
// are not loaded.
func (r Repo) ListSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	query := selectDraft + ` ORDER BY updated_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// DeleteSession removes a draft with its assets and attempts.
func (r Repo) DeleteSession(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM drafts WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
