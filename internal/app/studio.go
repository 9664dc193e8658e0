package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"creativeline/internal/domain"
	"creativeline/internal/engine"
	"creativeline/internal/events"
	"creativeline/internal/repo"
	"creativeline/internal/session"
)

// Studio persists drafts and keeps one orchestrator per draft, so a draft
// never has two attempts in flight within this process.
type Studio struct {
	Repo    repo.Repo
	Service engine.Service
	Log     zerolog.Logger
	Timeout time.Duration
	Now     func() time.Time

	mu            sync.Mutex
	orchestrators map[string]*engine.Orchestrator
	// saveMu orders snapshot-and-write so an older snapshot never lands
	// after a newer one.
	saveMu sync.Mutex
}

func NewStudio(r repo.Repo, svc engine.Service, log zerolog.Logger, timeout time.Duration) *Studio {
	return &Studio{
		Repo:          r,
		Service:       svc,
		Log:           log,
		Timeout:       timeout,
		Now:           time.Now,
		orchestrators: map[string]*engine.Orchestrator{},
	}
}

func (s *Studio) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Studio) events() events.Writer {
	return events.Writer{Now: s.now}
}

// ResolveDraft picks the draft to act on: the override when given, else the
// only draft in the workspace.
func (s *Studio) ResolveDraft(ctx context.Context, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	drafts, err := s.Repo.ListSessions(ctx, 2)
	if err != nil {
		return "", err
	}
	if len(drafts) == 1 {
		return drafts[0].ID, nil
	}
	return "", fmt.Errorf("draft not specified; use --draft or cl draft use <id>")
}

// CreateDraft stores a new idle draft. A nil draft starts from defaults.
func (s *Studio) CreateDraft(ctx context.Context, draft *domain.CampaignDraft, assets *domain.AssetSet) (domain.Session, error) {
	sess := domain.NewSession(uuid.NewString(), s.now())
	o := s.newOrchestrator(sess)
	if draft != nil {
		d := *draft
		if _, err := o.Edit(func(c *domain.CampaignDraft) { *c = d }); err != nil {
			return domain.Session{}, err
		}
	}
	if assets != nil {
		if _, err := o.SetAssets(*assets); err != nil {
			return domain.Session{}, err
		}
	}
	sess, err := s.save(ctx, o, nil, func(tx *sql.Tx, saved domain.Session) error {
		return s.events().Append(ctx, tx, events.DraftCreated, saved.ID, "", events.Payload{"main_message": saved.Draft.MainMessage})
	})
	if err != nil {
		return domain.Session{}, err
	}
	s.mu.Lock()
	s.orchestrators[sess.ID] = o
	s.mu.Unlock()
	s.Log.Info().Str("draft_id", sess.ID).Msg("draft created")
	return sess, nil
}

// Draft returns the current state of a draft.
func (s *Studio) Draft(ctx context.Context, id string) (domain.Session, error) {
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	return o.Session(), nil
}

func (s *Studio) ListDrafts(ctx context.Context, limit int) ([]domain.Session, error) {
	return s.Repo.ListSessions(ctx, limit)
}

func (s *Studio) Attempts(ctx context.Context, id string) ([]domain.Attempt, error) {
	if _, err := s.orchestrator(ctx, id); err != nil {
		return nil, err
	}
	return s.Repo.ListAttempts(ctx, id)
}

func (s *Studio) Events(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return s.Repo.ListEvents(ctx, f)
}

// EditDraft applies field edits. Override flags are untouched.
func (s *Studio) EditDraft(ctx context.Context, id string, fn func(*domain.CampaignDraft)) (domain.Session, error) {
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if sess, err := o.Edit(fn); err != nil {
		return sess, err
	}
	return s.save(ctx, o, nil, func(tx *sql.Tx, saved domain.Session) error {
		return s.events().Append(ctx, tx, events.DraftUpdated, id, "", events.Payload{"alcohol_advisory": saved.AlcoholAdvisory})
	})
}

// PutAsset stores one asset in a named slot.
func (s *Studio) PutAsset(ctx context.Context, id, slot string, a domain.Asset) (domain.Session, error) {
	if !a.Present() {
		return domain.Session{}, fmt.Errorf("asset %s is empty", slot)
	}
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	assets := o.Session().Assets
	if err := assets.Put(slot, a); err != nil {
		return domain.Session{}, err
	}
	return s.setAssets(ctx, o, id, assets, slot)
}

// SetAssets replaces every asset of a draft.
func (s *Studio) SetAssets(ctx context.Context, id string, assets domain.AssetSet) (domain.Session, error) {
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	return s.setAssets(ctx, o, id, assets, "")
}

func (s *Studio) setAssets(ctx context.Context, o *engine.Orchestrator, id string, assets domain.AssetSet, slot string) (domain.Session, error) {
	if sess, err := o.SetAssets(assets); err != nil {
		return sess, err
	}
	present := len(assets.Slots())
	return s.save(ctx, o, nil, func(tx *sql.Tx, _ domain.Session) error {
		return s.events().Append(ctx, tx, events.DraftAssets, id, "", events.Payload{"slot": slot, "present": present, "complete": assets.Complete()})
	})
}

// Reset returns a draft to defaults, dropping overrides and assets.
func (s *Studio) Reset(ctx context.Context, id string) (domain.Session, error) {
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	if sess, err := o.Reset(); err != nil {
		return sess, err
	}
	return s.save(ctx, o, nil, func(tx *sql.Tx, _ domain.Session) error {
		return s.events().Append(ctx, tx, events.DraftReset, id, "", nil)
	})
}

// Submit runs one attempt for the draft and records its outcome.
func (s *Studio) Submit(ctx context.Context, id string, creds session.Provider) (domain.Session, domain.Attempt, error) {
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return domain.Session{}, domain.Attempt{}, err
	}
	sess, attempt, runErr := o.Submit(ctx, creds)
	return s.record(ctx, o, sess, attempt, runErr)
}

// Retry performs pending confirmation actions and resubmits.
func (s *Studio) Retry(ctx context.Context, id string, creds session.Provider, actions ...domain.RetryAction) (domain.Session, domain.Attempt, error) {
	o, err := s.orchestrator(ctx, id)
	if err != nil {
		return domain.Session{}, domain.Attempt{}, err
	}
	sess, attempt, runErr := o.Retry(ctx, creds, actions...)
	return s.record(ctx, o, sess, attempt, runErr)
}

func (s *Studio) record(ctx context.Context, o *engine.Orchestrator, sess domain.Session, attempt domain.Attempt, runErr error) (domain.Session, domain.Attempt, error) {
	if errors.Is(runErr, engine.ErrAttemptInFlight) || errors.Is(runErr, engine.ErrActionUnavailable) {
		return sess, attempt, runErr
	}
	var saveAttempt *domain.Attempt
	if attempt.ID != "" {
		saveAttempt = &attempt
	}
	// The caller may have gone away; the outcome is still recorded.
	saveCtx := context.WithoutCancel(ctx)
	_, err := s.save(saveCtx, o, saveAttempt, func(tx *sql.Tx, _ domain.Session) error {
		if saveAttempt == nil {
			return nil
		}
		w := s.events()
		for _, action := range attempt.Actions {
			flag, _ := action.Override()
			if err := w.Append(saveCtx, tx, events.OverrideSet, sess.ID, attempt.ID, events.Payload{"action": action, "flag": flag}); err != nil {
				return err
			}
		}
		return w.Append(saveCtx, tx, events.AttemptFinished, sess.ID, attempt.ID, events.Payload{
			"number":    attempt.Number,
			"state":     attempt.State,
			"condition": attempt.Condition,
			"formats":   attempt.Formats,
			"errors":    attempt.Errors,
		})
	})
	if err != nil {
		s.Log.Error().Err(err).Str("draft_id", sess.ID).Msg("record attempt")
		if runErr == nil {
			runErr = err
		}
	}
	return sess, attempt, runErr
}

// save persists the orchestrator's current session. The snapshot is taken
// under saveMu, so whichever write commits last carries the newest state.
func (s *Studio) save(ctx context.Context, o *engine.Orchestrator, attempt *domain.Attempt, extra func(*sql.Tx, domain.Session) error) (domain.Session, error) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	sess := o.Session()
	tx, err := s.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return sess, err
	}
	defer tx.Rollback()
	if err := s.Repo.SaveSessionTx(ctx, tx, sess); err != nil {
		return sess, fmt.Errorf("save draft: %w", err)
	}
	if attempt != nil {
		if err := s.Repo.InsertAttemptTx(ctx, tx, *attempt); err != nil {
			return sess, fmt.Errorf("save attempt: %w", err)
		}
	}
	if extra != nil {
		if err := extra(tx, sess); err != nil {
			return sess, err
		}
	}
	return sess, tx.Commit()
}

func (s *Studio) newOrchestrator(sess domain.Session) *engine.Orchestrator {
	return engine.New(s.Service, sess,
		engine.WithLogger(s.Log),
		engine.WithTimeout(s.Timeout),
		engine.WithClock(s.now),
	)
}

func (s *Studio) orchestrator(ctx context.Context, id string) (*engine.Orchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orchestrators == nil {
		s.orchestrators = map[string]*engine.Orchestrator{}
	}
	if o, ok := s.orchestrators[id]; ok {
		return o, nil
	}
	sess, err := s.Repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	o := s.newOrchestrator(sess)
	s.orchestrators[id] = o
	return o, nil
}
