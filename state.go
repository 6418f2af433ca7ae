package authchain

import "slices"

// Well-known PendingStepData keys. The ephemeral data of every step lives
// in the state bag under a step-scoped key, so its lifetime is tied to the
// attempt and not to any long-lived step instance.
const (
	// PendingSecretKey holds a provisioned-but-unconfirmed authenticator
	// secret (base32). It becomes the persisted secret only after its
	// first successful verification.
	PendingSecretKey = StepAuthenticatorCode + ".pending_secret"
	// PendingSecretURIKey holds the otpauth:// URI for the pending secret.
	PendingSecretURIKey = StepAuthenticatorCode + ".pending_uri"
	// PendingEmailCodeKey holds an issued, not-yet-consumed email code.
	PendingEmailCodeKey = StepEmailCode + ".code"
	// PendingEmailIssuedAtKey holds the issuance time (unix seconds).
	PendingEmailIssuedAtKey = StepEmailCode + ".issued_at"
)

// AuthenticationState is the mutable record threaded through the pipeline.
// It is created empty at the start of a login or elevation attempt, mutated
// by each step invocation, and persisted only by the caller (all relevant
// fields are JSON-tagged) across request boundaries.
//
// A state is not safe for concurrent use; step invocations within one
// attempt are strictly sequential.
type AuthenticationState struct {
	// AttemptID correlates audit events across the requests of one
	// attempt.
	AttemptID string `json:"attempt_id"`

	// Candidate is the principal identified so far; nil until an
	// identifying step succeeds.
	Candidate *Principal `json:"candidate,omitempty"`

	// CompletedSteps lists satisfied step IDs in completion order.
	CompletedSteps []string `json:"completed_steps,omitempty"`

	// PendingStepData is the step-scoped ephemeral bag. See the Pending*
	// key constants.
	PendingStepData map[string]string `json:"pending_step_data,omitempty"`

	// Completed is set once the chain is exhausted; further submissions
	// are rejected with [ErrChainExhausted].
	Completed bool `json:"completed,omitempty"`

	// ForElevation marks states created for re-verifying an existing
	// session rather than establishing identity from scratch.
	ForElevation bool `json:"for_elevation,omitempty"`

	// Elevated is set once a step carrying [CapGrantsElevation] succeeds
	// in an elevation attempt.
	Elevated bool `json:"elevated,omitempty"`

	// Errors and Notices are the user-facing messages of the last
	// attempted step; at most one of the two is non-empty per attempt.
	Errors  []string `json:"errors,omitempty"`
	Notices []string `json:"notices,omitempty"`
}

// StepCompleted reports whether the named step has been satisfied.
func (s *AuthenticationState) StepCompleted(stepID string) bool {
	return slices.Contains(s.CompletedSteps, stepID)
}

// Pending returns the ephemeral value stored under key, if any.
func (s *AuthenticationState) Pending(key string) (string, bool) {
	v, ok := s.PendingStepData[key]
	return v, ok
}

// SetPending stores an ephemeral value under key.
func (s *AuthenticationState) SetPending(key, value string) {
	if s.PendingStepData == nil {
		s.PendingStepData = make(map[string]string)
	}
	s.PendingStepData[key] = value
}

// RemovePending deletes the ephemeral value stored under key.
func (s *AuthenticationState) RemovePending(key string) {
	delete(s.PendingStepData, key)
}

func (s *AuthenticationState) completeStep(stepID string) {
	if !s.StepCompleted(stepID) {
		s.CompletedSteps = append(s.CompletedSteps, stepID)
	}
}

// setError and setNotice keep the two message lists mutually exclusive:
// the last attempted step either failed or has something to say, never
// both.
func (s *AuthenticationState) setError(msg string) {
	s.Notices = nil
	s.Errors = []string{msg}
}

func (s *AuthenticationState) setNotice(msg string) {
	s.Errors = nil
	s.Notices = []string{msg}
}

func (s *AuthenticationState) clearMessages() {
	s.Errors = nil
	s.Notices = nil
}

// Abandon discards all pending ephemeral data (unconfirmed secret, issued
// email code) without touching persisted state. Callers invoke it on
// timeout or explicit cancellation of the attempt.
func (s *AuthenticationState) Abandon() {
	s.PendingStepData = nil
	s.clearMessages()
}
