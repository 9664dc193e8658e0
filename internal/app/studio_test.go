package app

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"creativeline/internal/db"
	"creativeline/internal/domain"
	"creativeline/internal/events"
	"creativeline/internal/migrate"
	"creativeline/internal/repo"
	"creativeline/internal/session"
)

type scriptedService struct {
	outcomes []domain.Outcome
	specs    []domain.Spec
}

func (s *scriptedService) Extract(ctx context.Context, fields domain.ExtractFields) (domain.Spec, error) {
	return domain.Spec{"main_message": fields.Draft.MainMessage}, nil
}

func (s *scriptedService) Generate(ctx context.Context, spec domain.Spec, assets domain.AssetSet, token string) (domain.Outcome, error) {
	s.specs = append(s.specs, spec)
	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return out, nil
}

func newStudio(t *testing.T, svc *scriptedService) (*Studio, string) {
	t.Helper()
	ws := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: ws})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStudio(repo.Repo{DB: conn}, svc, zerolog.Nop(), 0), ws
}

func TestStudioPersistsConfirmationFlow(t *testing.T) {
	ctx := context.Background()
	svc := &scriptedService{outcomes: []domain.Outcome{
		{Kind: domain.OutcomeInvalid, Verdict: &domain.Verdict{RequiresConfirmation: true, Errors: []string{"People detected"}}},
		{Kind: domain.OutcomeResult, Result: domain.Result{"square": {Inline: "iVBORw0"}}},
	}}
	st, _ := newStudio(t, svc)

	draft := domain.NewDraft()
	draft.MainMessage = "Family picnic"
	created, err := st.CreateDraft(ctx, &draft, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := st.Submit(ctx, created.ID, session.Anonymous); err == nil {
		t.Fatalf("expected missing assets")
	}
	if _, err := st.PutAsset(ctx, created.ID, domain.SlotLogo, domain.Asset{Name: "l.png", Data: []byte("l")}); err != nil {
		t.Fatalf("logo: %v", err)
	}
	if _, err := st.PutAsset(ctx, created.ID, domain.ProductSlot(0), domain.Asset{Name: "p.png", Data: []byte("p")}); err != nil {
		t.Fatalf("product: %v", err)
	}

	sess, _, err := st.Submit(ctx, created.ID, session.Anonymous)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sess.State != domain.StateAwaitingConfirmation {
		t.Fatalf("expected awaiting confirmation, got %s", sess.State)
	}
	stored, err := st.Repo.GetSession(ctx, created.ID)
	if err != nil || stored.State != domain.StateAwaitingConfirmation || !stored.CanRetry(domain.ActionConfirmPeople) {
		t.Fatalf("pending state not persisted: %v %+v", err, stored)
	}

	// A fresh studio over the same database picks the draft up again.
	reopened := NewStudio(st.Repo, svc, zerolog.Nop(), 0)
	sess, attempt, err := reopened.Retry(ctx, created.ID, session.Anonymous, domain.ActionConfirmPeople)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if sess.State != domain.StateSucceeded || attempt.Number != 2 {
		t.Fatalf("unexpected retry outcome %s #%d", sess.State, attempt.Number)
	}
	if svc.specs[1]["confirm_people"] != true {
		t.Fatalf("flag not resubmitted: %v", svc.specs[1])
	}

	attempts, err := reopened.Attempts(ctx, created.ID)
	if err != nil || len(attempts) != 2 {
		t.Fatalf("attempts: %v %d", err, len(attempts))
	}
	evts, err := reopened.Events(ctx, repo.EventFilters{DraftID: created.ID, Type: events.OverrideSet})
	if err != nil || len(evts) != 1 {
		t.Fatalf("override event missing: %v %+v", err, evts)
	}

	if _, err := reopened.Draft(ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveDraft(t *testing.T) {
	ctx := context.Background()
	st, _ := newStudio(t, &scriptedService{})
	if _, err := st.ResolveDraft(ctx, ""); err == nil {
		t.Fatalf("expected error with no drafts")
	}
	created, err := st.CreateDraft(ctx, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, err := st.ResolveDraft(ctx, "")
	if err != nil || id != created.ID {
		t.Fatalf("expected single draft, got %q %v", id, err)
	}
	if id, _ := st.ResolveDraft(ctx, "explicit"); id != "explicit" {
		t.Fatalf("override ignored")
	}
}

func TestLateAttemptRecordKeepsNewerEdit(t *testing.T) {
	ctx := context.Background()
	svc := &scriptedService{outcomes: []domain.Outcome{
		{Kind: domain.OutcomeResult, Result: domain.Result{"square": {Inline: "iVBORw0"}}},
	}}
	st, _ := newStudio(t, svc)

	created, err := st.CreateDraft(ctx, nil, &domain.AssetSet{
		Logo:     &domain.Asset{Name: "l.png", Data: []byte("l")},
		Products: []domain.Asset{{Name: "p.png", Data: []byte("p")}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	o, err := st.orchestrator(ctx, created.ID)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	// An edit commits between the attempt finishing and its record landing.
	finished, attempt, runErr := o.Submit(ctx, session.Anonymous)
	if runErr != nil {
		t.Fatalf("submit: %v", runErr)
	}
	if _, err := st.EditDraft(ctx, created.ID, func(d *domain.CampaignDraft) { d.MainMessage = "Edited later" }); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, _, err := st.record(ctx, o, finished, attempt, nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	stored, err := st.Repo.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Draft.MainMessage != "Edited later" {
		t.Fatalf("edit lost to an older snapshot: %q", stored.Draft.MainMessage)
	}
	if stored.State != domain.StateSucceeded || stored.Attempts != 1 {
		t.Fatalf("attempt outcome not stored: %s attempts=%d", stored.State, stored.Attempts)
	}
	attempts, err := st.Repo.ListAttempts(ctx, created.ID)
	if err != nil || len(attempts) != 1 {
		t.Fatalf("expected one recorded attempt, got %d (%v)", len(attempts), err)
	}
}
