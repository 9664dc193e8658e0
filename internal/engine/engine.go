package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"creativeline/internal/domain"
	"creativeline/internal/prescreen"
	"creativeline/internal/session"
	"creativeline/internal/studio"
)

var (
	ErrMissingAssets     = errors.New("upload product and logo")
	ErrAttemptInFlight   = errors.New("a generation attempt is already in flight")
	ErrActionUnavailable = errors.New("retry action not offered")
)

// Messages surfaced for conditions that carry no service detail.
const (
	msgExtractionFailed = "Extraction failed"
	msgGenerationFailed = "Image generation failed"
	msgTimeout          = "The rendering service did not answer in time"
	msgAbandoned        = "Generation abandoned"
)

// Extractor turns draft fields into a normalized spec.
type Extractor interface {
	Extract(ctx context.Context, fields domain.ExtractFields) (domain.Spec, error)
}

// Generator renders a spec with its assets.
type Generator interface {
	Generate(ctx context.Context, spec domain.Spec, assets domain.AssetSet, token string) (domain.Outcome, error)
}

// Service is the remote rendering service as seen by the orchestrator.
type Service interface {
	Extractor
	Generator
}

var _ Service = (*studio.Client)(nil)

// Orchestrator owns one draft session and drives its generation attempts.
type Orchestrator struct {
	service Service
	log     zerolog.Logger
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	inFlight bool
	session  domain.Session
}

// Option customizes the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger used for state transitions.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithTimeout bounds every attempt. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.now = clock
		}
	}
}

// New wires an orchestrator to the rendering service for the given session.
func New(svc Service, s domain.Session, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		service: svc,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.Load(s)
	return o
}

// Load replaces the owned session, e.g. after reading it from storage.
func (o *Orchestrator) Load(s domain.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s.Overrides == nil {
		s.Overrides = domain.Overrides{}
	}
	if s.State == "" || s.State == domain.StateSubmitting {
		// A submitting state read back from storage belongs to a process
		// that is gone.
		s.State = domain.StateIdle
	}
	o.session = s
}

// Session returns a copy of the owned session.
func (o *Orchestrator) Session() domain.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return snapshot(o.session)
}

// Edit applies field edits to the draft. Override flags are not part of
// the editable fields and survive every edit.
func (o *Orchestrator) Edit(fn func(*domain.CampaignDraft)) (domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return snapshot(o.session), ErrAttemptInFlight
	}
	draft := o.session.Draft
	fn(&draft)
	o.session.Draft = draft
	o.session.AlcoholAdvisory = prescreen.ScreenEdit(draft.MainMessage, draft.SubMessage)
	o.session.UpdatedAt = o.now()
	return snapshot(o.session), nil
}

// SetAssets replaces the selected assets.
func (o *Orchestrator) SetAssets(assets domain.AssetSet) (domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return snapshot(o.session), ErrAttemptInFlight
	}
	if len(assets.Products) > domain.MaxProducts {
		return snapshot(o.session), fmt.Errorf("at most %d product images", domain.MaxProducts)
	}
	o.session.Assets = assets
	o.session.UpdatedAt = o.now()
	return snapshot(o.session), nil
}

// Reset returns the session to a fresh draft, dropping overrides and assets.
func (o *Orchestrator) Reset() (domain.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return snapshot(o.session), ErrAttemptInFlight
	}
	fresh := domain.NewSession(o.session.ID, o.session.CreatedAt)
	fresh.UpdatedAt = o.now()
	o.session = fresh
	return snapshot(o.session), nil
}

// Submit runs one extract-then-generate attempt with the current draft and
// every override set so far.
func (o *Orchestrator) Submit(ctx context.Context, creds session.Provider) (domain.Session, domain.Attempt, error) {
	return o.run(ctx, creds, nil)
}

// Retry performs the given pending actions, switching their override flags
// on, and immediately resubmits.
func (o *Orchestrator) Retry(ctx context.Context, creds session.Provider, actions ...domain.RetryAction) (domain.Session, domain.Attempt, error) {
	if len(actions) == 0 {
		return o.Session(), domain.Attempt{}, fmt.Errorf("%w: no action given", ErrActionUnavailable)
	}
	return o.run(ctx, creds, actions)
}

func (o *Orchestrator) run(ctx context.Context, creds session.Provider, actions []domain.RetryAction) (domain.Session, domain.Attempt, error) {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return o.Session(), domain.Attempt{}, ErrAttemptInFlight
	}
	for _, action := range actions {
		if !o.session.CanRetry(action) {
			s := snapshot(o.session)
			o.mu.Unlock()
			return s, domain.Attempt{}, fmt.Errorf("%w: %s in state %s", ErrActionUnavailable, action, s.State)
		}
	}
	if !o.session.Assets.Complete() {
		// Rejected locally: no request, no attempt, state untouched.
		o.session.Condition = domain.ConditionMissingAssets
		o.session.Message = ErrMissingAssets.Error()
		o.session.UpdatedAt = o.now()
		s := snapshot(o.session)
		o.mu.Unlock()
		return s, domain.Attempt{}, ErrMissingAssets
	}
	if err := ensureTransition(o.session.State, domain.StateSubmitting); err != nil {
		s := snapshot(o.session)
		o.mu.Unlock()
		return s, domain.Attempt{}, err
	}
	for _, action := range actions {
		flag, _ := action.Override()
		o.session.Overrides.Set(flag)
	}
	o.session.Attempts++
	attempt := domain.Attempt{
		ID:        ulid.Make().String(),
		SessionID: o.session.ID,
		Number:    o.session.Attempts,
		Overrides: o.session.Overrides.List(),
		Actions:   actions,
		StartedAt: o.now(),
	}
	o.inFlight = true
	o.session.State = domain.StateSubmitting
	draft := o.session.Draft
	overrides := o.session.Overrides.Clone()
	assets := o.session.Assets
	o.mu.Unlock()

	o.log.Info().
		Str("draft_id", attempt.SessionID).
		Int("attempt", attempt.Number).
		Strs("overrides", overrideNames(attempt.Overrides)).
		Msg("submitting campaign")

	outcome, condition, err := o.attempt(ctx, draft, overrides, assets, session.Token(creds))

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = false
	switch {
	case err != nil:
		o.finish(&attempt, domain.StateFailed, condition, failureMessage(condition), nil)
		o.log.Warn().Err(err).Str("draft_id", attempt.SessionID).Str("condition", string(condition)).Msg("attempt failed")
	case outcome.Kind == domain.OutcomeInvalid:
		o.classifyVerdict(&attempt, *outcome.Verdict)
	default:
		o.session.Result = outcome.Result
		o.finish(&attempt, domain.StateSucceeded, domain.ConditionNone, "", nil)
		attempt.Formats = outcome.Result.Formats()
	}
	o.log.Info().
		Str("draft_id", attempt.SessionID).
		Int("attempt", attempt.Number).
		Str("state", string(attempt.State)).
		Str("condition", string(attempt.Condition)).
		Msg("attempt finished")
	return snapshot(o.session), attempt, err
}

// attempt performs the network half of a submission without holding the lock.
func (o *Orchestrator) attempt(ctx context.Context, draft domain.CampaignDraft, overrides domain.Overrides, assets domain.AssetSet, token string) (domain.Outcome, domain.Condition, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	spec, err := o.service.Extract(ctx, domain.ExtractFields{Draft: draft, Overrides: overrides})
	if err != nil {
		return domain.Outcome{}, failureCondition(err, domain.ConditionExtractionFailed), err
	}
	// Extraction may drop fields it does not know; overrides always come
	// from the orchestrator's own map.
	spec = spec.WithOverrides(overrides)
	outcome, err := o.service.Generate(ctx, spec, assets, token)
	if err != nil {
		return domain.Outcome{}, failureCondition(err, domain.ConditionGenerationFailed), err
	}
	if outcome.Kind == domain.OutcomeInvalid && outcome.Verdict == nil {
		err := fmt.Errorf("%w: invalid outcome without verdict", studio.ErrGenerationFailed)
		return domain.Outcome{}, domain.ConditionGenerationFailed, err
	}
	return outcome, domain.ConditionNone, nil
}

func (o *Orchestrator) classifyVerdict(attempt *domain.Attempt, v domain.Verdict) {
	var pending []domain.RetryAction
	if v.RequiresConfirmation {
		pending = append(pending, domain.ActionConfirmPeople)
	}
	if v.RequiresCompliance {
		pending = append(pending, domain.ActionAcknowledgeCompliance)
	}
	errs := slices.Clone(v.Errors)
	switch {
	case v.RequiresConfirmation:
		o.finish(attempt, domain.StateAwaitingConfirmation, domain.ConditionConfirmationRequired, "", errs)
	case v.RequiresCompliance:
		o.finish(attempt, domain.StateAwaitingCompliance, domain.ConditionComplianceAckRequired, "", errs)
	default:
		o.finish(attempt, domain.StateFailed, domain.ConditionValidationRejected, "", errs)
	}
	o.session.Pending = pending
}

// finish records a terminal or awaiting state on both the session and the
// attempt. Anything left from the previous attempt is cleared; overrides
// are kept.
func (o *Orchestrator) finish(attempt *domain.Attempt, state domain.State, cond domain.Condition, msg string, errs []string) {
	now := o.now()
	if state != domain.StateSucceeded {
		o.session.Result = nil
	}
	o.session.State = state
	o.session.Condition = cond
	o.session.Message = msg
	o.session.Errors = errs
	o.session.Pending = nil
	o.session.UpdatedAt = now
	attempt.State = state
	attempt.Condition = cond
	attempt.Errors = errs
	attempt.FinishedAt = now
}

var allowedTransitions = map[domain.State][]domain.State{
	domain.StateIdle:                 {domain.StateSubmitting},
	domain.StateSucceeded:            {domain.StateSubmitting},
	domain.StateFailed:               {domain.StateSubmitting},
	domain.StateAwaitingConfirmation: {domain.StateSubmitting},
	domain.StateAwaitingCompliance:   {domain.StateSubmitting},
	domain.StateSubmitting: {
		domain.StateSucceeded,
		domain.StateAwaitingConfirmation,
		domain.StateAwaitingCompliance,
		domain.StateFailed,
	},
}

func ensureTransition(from, to domain.State) error {
	if slices.Contains(allowedTransitions[from], to) {
		return nil
	}
	return fmt.Errorf("invalid session transition %s -> %s", from, to)
}

func failureCondition(err error, fallback domain.Condition) domain.Condition {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.ConditionTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return domain.ConditionTimeout
	case errors.Is(err, context.Canceled):
		return domain.ConditionAbandoned
	}
	return fallback
}

func failureMessage(cond domain.Condition) string {
	switch cond {
	case domain.ConditionExtractionFailed:
		return msgExtractionFailed
	case domain.ConditionTimeout:
		return msgTimeout
	case domain.ConditionAbandoned:
		return msgAbandoned
	default:
		return msgGenerationFailed
	}
}

func snapshot(s domain.Session) domain.Session {
	s.Overrides = s.Overrides.Clone()
	s.Errors = slices.Clone(s.Errors)
	s.Pending = slices.Clone(s.Pending)
	s.Assets.Products = slices.Clone(s.Assets.Products)
	if s.Result != nil {
		r := make(domain.Result, len(s.Result))
		for k, v := range s.Result {
			r[k] = v
		}
		s.Result = r
	}
	return s
}

func overrideNames(in []domain.Override) []string {
	out := make([]string, len(in))
	for i, o := range in {
		out[i] = string(o)
	}
	return out
}
