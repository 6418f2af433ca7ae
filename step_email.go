package authchain

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/EkilDavi/authchain/internal"
)

// emailIdentifyStep identifies a principal by email address alone. With
// enumeration prevention active a lookup miss does not fail the step:
// a placeholder candidate is synthesized and the chain proceeds, so the
// response shape never discloses whether the address is registered.
type emailIdentifyStep struct {
	pipe *Pipeline
}

func (s *emailIdentifyStep) ID() string               { return StepEmailIdentify }
func (s *emailIdentifyStep) Capabilities() Capability { return 0 }
func (s *emailIdentifyStep) Fields() []string         { return []string{FieldEmail} }
func (s *emailIdentifyStep) RequiresInput() bool      { return true }

func (s *emailIdentifyStep) IsApplicable(context.Context, *Principal) bool {
	return true
}

func (s *emailIdentifyStep) Authenticate(ctx context.Context, creds Credentials, state *AuthenticationState) (StepResult, error) {
	principal, err := s.pipe.principals.FindByLoginNameOrEmail(ctx, creds[FieldEmail])
	if err != nil {
		if !errors.Is(err, ErrPrincipalNotFound) {
			return StepResult{}, fmt.Errorf("%w: %v", ErrPrincipalStoreUnavailable, err)
		}
		if !s.pipe.cfg.Enumeration.Prevent {
			return StepResult{Message: msgInvalidIdentifier}, nil
		}
		principal = &Principal{
			ID:          "placeholder:" + uuid.NewString(),
			Email:       creds[FieldEmail],
			Placeholder: true,
		}
	}

	state.Candidate = principal
	return StepResult{OK: true}, nil
}

// emailCodeStep verifies a single-use code delivered by email. Prepare
// issues the code; Authenticate consumes it on first presentation, right
// or wrong, so each issued code tolerates exactly one guess.
type emailCodeStep struct {
	pipe *Pipeline
}

func (s *emailCodeStep) ID() string { return StepEmailCode }

func (s *emailCodeStep) Capabilities() Capability {
	return CapRequiresIdentifiedUser | CapMFA | CapPreparable | CapGrantsElevation
}

func (s *emailCodeStep) Fields() []string    { return []string{FieldCode} }
func (s *emailCodeStep) RequiresInput() bool { return true }

func (s *emailCodeStep) IsApplicable(_ context.Context, candidate *Principal) bool {
	return candidate != nil && candidate.Email != ""
}

// Prepare issues and dispatches a code unless an unexpired one is already
// pending. For a placeholder candidate the outbound send is replaced by a
// randomized delay of comparable cost, and the user-visible notice is
// identical.
func (s *emailCodeStep) Prepare(ctx context.Context, state *AuthenticationState) error {
	if state.Candidate == nil {
		return ErrNoCandidate
	}

	if _, ok := state.Pending(PendingEmailCodeKey); ok && !s.codeExpired(state) {
		return nil
	}

	code, err := internal.NewGroupedCode(s.pipe.cfg.EmailCode.Groups, s.pipe.cfg.EmailCode.GroupLength)
	if err != nil {
		return err
	}

	state.SetPending(PendingEmailCodeKey, code)
	state.SetPending(PendingEmailIssuedAtKey, strconv.FormatInt(s.pipe.now().Unix(), 10))
	s.pipe.metrics.Inc(MetricEmailCodeIssued)

	if state.Candidate.Placeholder {
		sleepEnumerationDelay(s.pipe.cfg.Enumeration)
		s.pipe.emit(ctx, state, AuditCodeIssued, StepEmailCode, true, "")
		state.setNotice(noticeCodeSent)
		return nil
	}

	body := fmt.Sprintf("Your sign-in code is:\n\n\t%s\n\nIt expires in %s. If you did not request it, ignore this message.",
		code, s.pipe.cfg.EmailCode.TTL)
	if err := s.pipe.mailer.Send(ctx, state.Candidate, s.pipe.cfg.EmailCode.Subject, body); err != nil {
		s.pipe.metrics.Inc(MetricMailDeliveryError)
		s.pipe.emit(ctx, state, AuditDeliveryFailed, StepEmailCode, false, err.Error())
		state.setNotice(noticeDeliveryProblem)
		return nil
	}

	s.pipe.emit(ctx, state, AuditCodeIssued, StepEmailCode, true, "")
	state.setNotice(noticeCodeSent)
	return nil
}

func (s *emailCodeStep) Authenticate(_ context.Context, creds Credentials, state *AuthenticationState) (StepResult, error) {
	issued, ok := state.Pending(PendingEmailCodeKey)
	expired := s.codeExpired(state)

	// Single use: the pending code is discarded before the comparison, so
	// neither a wrong guess nor a replay of a correct one leaves it live.
	state.RemovePending(PendingEmailCodeKey)
	state.RemovePending(PendingEmailIssuedAtKey)

	if !ok || expired {
		return StepResult{Message: msgIncorrectCode}, nil
	}

	// Grouping dashes are display sugar, but the compare itself is
	// case-sensitive: the issued code is the only accepted spelling.
	match := subtle.ConstantTimeCompare(
		[]byte(stripCodeSeparators(creds[FieldCode])),
		[]byte(stripCodeSeparators(issued)),
	) == 1

	if !match || state.Candidate.Placeholder {
		return StepResult{Message: msgIncorrectCode}, nil
	}
	return StepResult{OK: true}, nil
}

func (s *emailCodeStep) codeExpired(state *AuthenticationState) bool {
	raw, ok := state.Pending(PendingEmailIssuedAtKey)
	if !ok {
		return true
	}
	issuedAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true
	}
	return s.pipe.now().After(time.Unix(issuedAt, 0).Add(s.pipe.cfg.EmailCode.TTL))
}

// sleepEnumerationDelay burns a randomized interval in the configured
// window, standing in for the outbound send that placeholder candidates
// never receive. The jitter comes from crypto/rand so the delay itself
// carries no pattern.
func sleepEnumerationDelay(cfg EnumerationConfig) {
	window := cfg.MaxDelay - cfg.MinDelay
	delay := cfg.MinDelay
	if window > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(window)))
		if err == nil {
			delay += time.Duration(n.Int64())
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
}
