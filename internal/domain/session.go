package domain

import "time"

// State is the orchestrator lifecycle state of a draft session.
type State string

const (
	StateIdle                 State = "idle"
	StateSubmitting           State = "submitting"
	StateSucceeded            State = "succeeded"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateAwaitingCompliance   State = "awaiting_compliance"
	StateFailed               State = "failed"
)

// Condition explains why a session is not in a plain success state.
type Condition string

const (
	ConditionNone                  Condition = ""
	ConditionMissingAssets         Condition = "missing_assets"
	ConditionExtractionFailed      Condition = "extraction_failed"
	ConditionGenerationFailed      Condition = "generation_failed"
	ConditionValidationRejected    Condition = "validation_rejected"
	ConditionConfirmationRequired  Condition = "confirmation_required"
	ConditionComplianceAckRequired Condition = "compliance_ack_required"
	ConditionTimeout               Condition = "timeout"
	ConditionAbandoned             Condition = "abandoned"
)

// RetryAction is a user confirmation offered after an invalid verdict.
type RetryAction string

const (
	ActionConfirmPeople         RetryAction = "confirm_people"
	ActionAcknowledgeCompliance RetryAction = "acknowledge_compliance"
)

// Override returns the flag an action switches on.
func (a RetryAction) Override() (Override, bool) {
	switch a {
	case ActionConfirmPeople:
		return OverrideConfirmPeople, true
	case ActionAcknowledgeCompliance:
		return OverrideConfirmDrinkaware, true
	}
	return "", false
}

// Session is the persistent state of one draft and its attempts.
type Session struct {
	ID              string        `json:"id"`
	Draft           CampaignDraft `json:"draft"`
	Overrides       Overrides     `json:"overrides"`
	Assets          AssetSet      `json:"assets"`
	State           State         `json:"state"`
	Condition       Condition     `json:"condition,omitempty"`
	Message         string        `json:"message,omitempty"`
	Errors          []string      `json:"errors,omitempty"`
	Pending         []RetryAction `json:"pending,omitempty"`
	Result          Result        `json:"result,omitempty"`
	AlcoholAdvisory bool          `json:"alcohol_advisory"`
	Attempts        int           `json:"attempts"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// NewSession returns an idle session with a default draft.
func NewSession(id string, now time.Time) Session {
	return Session{
		ID:        id,
		Draft:     NewDraft(),
		Overrides: Overrides{},
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanRetry reports whether the action is currently offered.
func (s Session) CanRetry(action RetryAction) bool {
	for _, p := range s.Pending {
		if p == action {
			return true
		}
	}
	return false
}

// Attempt records one extract-then-generate run.
type Attempt struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Number     int           `json:"number"`
	Overrides  []Override    `json:"overrides"`
	Actions    []RetryAction `json:"actions,omitempty"`
	State      State         `json:"state"`
	Condition  Condition     `json:"condition,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
	Formats    []string      `json:"formats,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}
