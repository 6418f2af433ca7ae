package authchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/EkilDavi/authchain/password"
)

// Pipeline drives an ordered chain of verification steps over an
// [AuthenticationState]. Build one with a [Builder]; a built pipeline is
// immutable and safe for concurrent use, while each state is confined to
// one attempt at a time.
//
// The contract with callers is deliberately narrow: create a state, call
// [Pipeline.Advance] to find out which step needs input, render its
// fields, and hand the submission to [Pipeline.Submit]. Steps that consume
// no input run on their own as they become current.
type Pipeline struct {
	cfg   Config
	steps map[string]StepType

	// loginChain is Order plus the MFA sub-chain, resolved at build time.
	loginChain []string

	principals PrincipalStore
	secrets    SecretStore
	mailer     Mailer

	hasher    *password.Argon2
	bogusHash string
	totp      *totpManager
	metrics   *Metrics
	audit     *auditDispatcher
	grants    *grantIssuer

	nowFn func() time.Time
}

func (p *Pipeline) now() time.Time {
	return p.nowFn()
}

// NewState creates the state for a fresh login attempt.
func (p *Pipeline) NewState(ctx context.Context) *AuthenticationState {
	state := &AuthenticationState{AttemptID: uuid.NewString()}
	p.metrics.Inc(MetricAttemptStarted)
	p.emit(ctx, state, AuditAttemptStarted, "", true, "")
	return state
}

// NewElevationState creates the state for re-verifying an already
// authenticated principal against the elevation chain. The principal comes
// from the caller's session, not from an identifying step.
func (p *Pipeline) NewElevationState(ctx context.Context, principal *Principal) (*AuthenticationState, error) {
	if principal == nil {
		return nil, ErrNoCandidate
	}
	if len(p.cfg.Chain.Elevation) == 0 {
		return nil, errors.New("no elevation chain configured")
	}

	state := &AuthenticationState{
		AttemptID:    uuid.NewString(),
		Candidate:    principal,
		ForElevation: true,
	}
	p.metrics.Inc(MetricAttemptStarted)
	p.emit(ctx, state, AuditAttemptStarted, "", true, "")
	return state, nil
}

// Step returns the registered step with the given ID, for rendering its
// input fields.
func (p *Pipeline) Step(id string) (StepType, bool) {
	step, ok := p.steps[id]
	return step, ok
}

// Advance runs any automatic steps at the head of the remaining chain and
// prepares the step that needs input next. It returns StatusNeedsInput
// with the step's ID, StatusSuccess if the chain is exhausted, or
// StatusFailure if an automatic step denied the attempt. Calling it again
// before submitting is harmless.
func (p *Pipeline) Advance(ctx context.Context, state *AuthenticationState) (Result, error) {
	if p == nil || p.steps == nil {
		return Result{}, ErrPipelineNotReady
	}
	if state == nil {
		return Result{}, errors.New("nil authentication state")
	}

	id, res, done, err := p.settle(ctx, state)
	if err != nil || done {
		return res, err
	}

	if err := p.prepare(ctx, p.steps[id], state); err != nil {
		p.emit(ctx, state, AuditInfrastructureErr, id, false, err.Error())
		return Result{}, err
	}
	return Result{Status: StatusNeedsInput, NextStep: id, Message: p.firstNotice(state)}, nil
}

// Submit hands one step's input to the pipeline. stepID must name the step
// currently awaiting input; anything else is rejected without invoking a
// step. Verification failures come back as a StatusFailure Result, not an
// error; errors are reserved for infrastructure faults and caller bugs.
func (p *Pipeline) Submit(ctx context.Context, stepID string, creds Credentials, state *AuthenticationState) (Result, error) {
	if p == nil || p.steps == nil {
		return Result{}, ErrPipelineNotReady
	}
	if state == nil {
		return Result{}, errors.New("nil authentication state")
	}

	start := time.Now()
	defer func() {
		p.metrics.Observe(MetricSubmitLatency, time.Since(start))
	}()

	state.clearMessages()

	currentID, res, done, err := p.settle(ctx, state)
	if err != nil || done {
		return res, err
	}

	step, ok := p.steps[stepID]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}
	if currentID != stepID {
		return Result{}, fmt.Errorf("%w: %s (current: %s)", ErrStepNotCurrent, stepID, currentID)
	}

	for _, field := range step.Fields() {
		if strings.TrimSpace(creds[field]) == "" {
			state.setError(msgMissingInput)
			p.metrics.Inc(MetricValidationRejected)
			p.emit(ctx, state, AuditInputRejected, stepID, false, "missing field: "+field)
			return Result{Status: StatusFailure, Message: msgMissingInput, NextStep: stepID}, nil
		}
	}

	if step.Capabilities().Has(CapRequiresIdentifiedUser) && state.Candidate == nil {
		return Result{}, ErrNoCandidate
	}

	stepRes, err := step.Authenticate(ctx, creds, state)
	if err != nil {
		p.emit(ctx, state, AuditInfrastructureErr, stepID, false, err.Error())
		return Result{}, err
	}
	if stepRes.Notice != "" {
		state.setNotice(stepRes.Notice)
	}

	if !stepRes.OK {
		message := stepRes.Message
		if message == "" {
			message = msgVerificationFailed
		}
		state.setError(message)
		p.metrics.Inc(MetricStepFailure)
		p.emit(ctx, state, AuditStepFailed, stepID, false, "")
		return Result{Status: StatusFailure, Message: message, NextStep: stepID}, nil
	}

	p.completeStep(ctx, step, state)

	nextID, res, done, err := p.settle(ctx, state)
	if err != nil || done {
		return res, err
	}
	if err := p.prepare(ctx, p.steps[nextID], state); err != nil {
		p.emit(ctx, state, AuditInfrastructureErr, nextID, false, err.Error())
		return Result{}, err
	}
	return Result{Status: StatusNeedsInput, NextStep: nextID, Message: p.firstNotice(state)}, nil
}

// settle completes automatic steps until the chain needs input or ends.
// done reports that res is final (terminal success or an automatic step's
// failure); otherwise id names the input step now current.
func (p *Pipeline) settle(ctx context.Context, state *AuthenticationState) (id string, res Result, done bool, err error) {
	for {
		currentID, err := p.currentStepID(ctx, state)
		if errors.Is(err, ErrChainExhausted) {
			if state.Completed {
				return "", Result{}, false, ErrChainExhausted
			}
			res, ferr := p.finish(ctx, state)
			return "", res, true, ferr
		}
		if err != nil {
			return "", Result{}, false, err
		}

		step := p.steps[currentID]
		if step.RequiresInput() {
			return currentID, Result{}, false, nil
		}

		stepRes, err := step.Authenticate(ctx, nil, state)
		if err != nil {
			p.emit(ctx, state, AuditInfrastructureErr, currentID, false, err.Error())
			return "", Result{}, false, err
		}
		if !stepRes.OK {
			state.setError(stepRes.Message)
			p.metrics.Inc(MetricStepFailure)
			p.emit(ctx, state, AuditStepFailed, currentID, false, "")
			return "", Result{Status: StatusFailure, Message: stepRes.Message, NextStep: currentID}, true, nil
		}
		p.completeStep(ctx, step, state)
	}
}

func (p *Pipeline) completeStep(ctx context.Context, step StepType, state *AuthenticationState) {
	state.completeStep(step.ID())
	p.metrics.Inc(MetricStepSuccess)
	p.emit(ctx, state, AuditStepSucceeded, step.ID(), true, "")

	if step.Capabilities().Has(CapGrantsElevation) && state.ForElevation {
		state.Elevated = true
	}
}

// currentStepID walks the effective chain and returns the first step that
// is neither completed nor inapplicable for the current candidate.
func (p *Pipeline) currentStepID(ctx context.Context, state *AuthenticationState) (string, error) {
	if state.Completed {
		return "", ErrChainExhausted
	}

	chain := p.loginChain
	if state.ForElevation {
		chain = p.cfg.Chain.Elevation
	}

	for _, id := range chain {
		if state.StepCompleted(id) {
			continue
		}
		if !p.steps[id].IsApplicable(ctx, state.Candidate) {
			continue
		}
		return id, nil
	}
	return "", ErrChainExhausted
}

func (p *Pipeline) finish(ctx context.Context, state *AuthenticationState) (Result, error) {
	state.Completed = true
	state.PendingStepData = nil

	res := Result{Status: StatusSuccess, Completed: true, Elevated: state.Elevated}

	p.metrics.Inc(MetricChainCompleted)
	if state.ForElevation && state.Elevated {
		p.metrics.Inc(MetricElevationGranted)
		p.emit(ctx, state, AuditElevationGranted, "", true, "")
	} else {
		p.emit(ctx, state, AuditChainCompleted, "", true, "")
	}

	if p.grants != nil && state.Candidate != nil && !state.Candidate.Placeholder {
		grant, err := p.grants.Issue(state)
		if err != nil {
			return Result{}, err
		}
		res.Grant = grant
		p.metrics.Inc(MetricGrantIssued)
		p.emit(ctx, state, AuditGrantIssued, "", true, "")
	}

	return res, nil
}

// prepare runs the step's Prepare hook if it has one. Hooks run only when
// the step is rendered, never on submission, so a stray Submit after a
// consumed code cannot reissue and burn a fresh one in the same call.
// Hooks are idempotent within one pending-data lifetime, so preparing on
// every render is safe, and a consumed artifact (a burned email code) gets
// reissued when the step is rendered again.
func (p *Pipeline) prepare(ctx context.Context, step StepType, state *AuthenticationState) error {
	preparer, ok := step.(Preparer)
	if !ok {
		return nil
	}
	return preparer.Prepare(ctx, state)
}

func (p *Pipeline) firstNotice(state *AuthenticationState) string {
	if len(state.Notices) > 0 {
		return state.Notices[0]
	}
	return ""
}

// verifyPassword checks pass against the principal's stored hash. Absent,
// placeholder, or malformed hashes burn a verification against a fixed
// bogus hash and fail closed, keeping every rejection on the same cost
// path as a genuine mismatch.
func (p *Pipeline) verifyPassword(pass string, principal *Principal) (bool, error) {
	if principal == nil || principal.Placeholder || principal.PasswordHash == "" {
		p.burnPasswordVerification(pass)
		return false, nil
	}

	ok, err := p.hasher.Verify(pass, principal.PasswordHash)
	if err != nil {
		p.burnPasswordVerification(pass)
		return false, nil
	}
	return ok, nil
}

func (p *Pipeline) burnPasswordVerification(pass string) {
	_, _ = p.hasher.Verify(pass, p.bogusHash)
}

func (p *Pipeline) emit(ctx context.Context, state *AuthenticationState, eventType, stepID string, success bool, detail string) {
	if p.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: p.now(),
		EventType: eventType,
		StepID:    stepID,
		Success:   success,
		Error:     detail,
		IP:        clientIPFromContext(ctx),
	}
	if state != nil {
		event.AttemptID = state.AttemptID
		if state.Candidate != nil {
			event.PrincipalID = state.Candidate.ID
		}
	}

	p.audit.Emit(ctx, event)
}

// PendingAuthenticatorSetup returns the unconfirmed enrollment provisioned
// in this attempt, for rendering the setup QR and secret.
func (p *Pipeline) PendingAuthenticatorSetup(state *AuthenticationState) (AuthenticatorSetup, bool) {
	secret, ok := state.Pending(PendingSecretKey)
	if !ok {
		return AuthenticatorSetup{}, false
	}
	uri, _ := state.Pending(PendingSecretURIKey)
	return AuthenticatorSetup{SecretBase32: secret, URI: uri}, true
}

// MetricsSnapshot exposes the pipeline counters for the exporters under
// metrics/export.
func (p *Pipeline) MetricsSnapshot() MetricsSnapshot {
	return p.metrics.Snapshot()
}

// AuditDropped reports how many audit events the dispatcher discarded
// under backpressure.
func (p *Pipeline) AuditDropped() uint64 {
	return p.audit.Dropped()
}

// Close stops the audit dispatcher, draining buffered events. The pipeline
// must not be used after Close.
func (p *Pipeline) Close() {
	p.audit.Close()
}
