package authchain

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
)

// authenticatorCodeStep verifies a code from an authenticator app, or one
// of the principal's single-use backup codes. A numeric code of the
// configured digit count is treated as a time-based code; anything else is
// tried as a backup code. Both branches fail with the same message.
//
// When enroll-during-login is enabled and the candidate has no confirmed
// secret, Prepare provisions a pending secret in the attempt state. The
// pending secret is persisted only by its first successful verification,
// through a check-and-set so exactly one concurrent session can win.
type authenticatorCodeStep struct {
	pipe *Pipeline
}

func (s *authenticatorCodeStep) ID() string { return StepAuthenticatorCode }

func (s *authenticatorCodeStep) Capabilities() Capability {
	return CapRequiresIdentifiedUser | CapMFA | CapPreparable | CapGrantsElevation | CapUserConfigurable
}

func (s *authenticatorCodeStep) Fields() []string    { return []string{FieldCode} }
func (s *authenticatorCodeStep) RequiresInput() bool { return true }

// IsApplicable is true for candidates with a confirmed secret, and for all
// candidates when enroll-during-login is on. A secret store fault reports
// applicable; Authenticate surfaces the fault instead of the chain
// silently skipping the step.
func (s *authenticatorCodeStep) IsApplicable(ctx context.Context, candidate *Principal) bool {
	if candidate == nil {
		return false
	}
	if s.pipe.cfg.TOTP.EnrollDuringLogin {
		return true
	}

	_, err := s.pipe.secrets.GetConfirmedSecret(ctx, candidate.ID)
	if err == nil {
		return true
	}
	return !errors.Is(err, ErrSecretNotFound)
}

// Prepare provisions a pending enrollment when the candidate has no
// confirmed secret. Placeholder candidates are provisioned too; their
// pending secret verifies like any other but is never persisted and never
// authenticates.
func (s *authenticatorCodeStep) Prepare(ctx context.Context, state *AuthenticationState) error {
	if state.Candidate == nil {
		return ErrNoCandidate
	}
	if !s.pipe.cfg.TOTP.EnrollDuringLogin {
		return nil
	}
	if _, ok := state.Pending(PendingSecretKey); ok {
		return nil
	}

	if !state.Candidate.Placeholder {
		_, err := s.pipe.secrets.GetConfirmedSecret(ctx, state.Candidate.ID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return fmt.Errorf("%w: %v", ErrSecretStoreUnavailable, err)
		}
	}

	_, secretBase32, err := s.pipe.totp.GenerateSecret()
	if err != nil {
		return err
	}

	account := state.Candidate.Email
	if account == "" {
		account = state.Candidate.LoginName
	}

	state.SetPending(PendingSecretKey, secretBase32)
	state.SetPending(PendingSecretURIKey, s.pipe.totp.ProvisionURI(secretBase32, account))
	state.setNotice(noticeEnrollProvisioned)
	s.pipe.metrics.Inc(MetricEnrollmentStarted)
	s.pipe.emit(ctx, state, AuditEnrollStarted, StepAuthenticatorCode, true, "")
	return nil
}

func (s *authenticatorCodeStep) Authenticate(ctx context.Context, creds Credentials, state *AuthenticationState) (StepResult, error) {
	code := strings.TrimSpace(creds[FieldCode])

	// A purely numeric submission is only ever tried as a TOTP code, never
	// as a backup code, so a digits-only backup code cannot leak through
	// the wrong verifier. Wrong-length numerics fail the TOTP shape check.
	if isNumericString(code) {
		return s.authenticateTOTP(ctx, code, state)
	}
	return s.authenticateBackupCode(ctx, code, state)
}

func (s *authenticatorCodeStep) authenticateTOTP(ctx context.Context, code string, state *AuthenticationState) (StepResult, error) {
	candidate := state.Candidate

	secret, err := s.pipe.secrets.GetConfirmedSecret(ctx, candidate.ID)
	if err == nil {
		ok, verr := s.pipe.totp.VerifyBase32(secret, code, s.pipe.now())
		if verr != nil {
			return StepResult{}, verr
		}
		if !ok || candidate.Placeholder {
			s.discardLostEnrollment(code, state)
			return StepResult{Message: msgIncorrectCode}, nil
		}
		state.RemovePending(PendingSecretKey)
		state.RemovePending(PendingSecretURIKey)
		return StepResult{OK: true}, nil
	}
	if !errors.Is(err, ErrSecretNotFound) {
		return StepResult{}, fmt.Errorf("%w: %v", ErrSecretStoreUnavailable, err)
	}

	pending, ok := state.Pending(PendingSecretKey)
	if !ok {
		return StepResult{Message: msgIncorrectCode}, nil
	}

	verified, err := s.pipe.totp.VerifyBase32(pending, code, s.pipe.now())
	if err != nil {
		return StepResult{}, err
	}
	if !verified {
		return StepResult{Message: msgIncorrectCode}, nil
	}

	if candidate.Placeholder {
		return StepResult{Message: msgIncorrectCode}, nil
	}

	// First successful verification confirms the enrollment. The
	// check-and-set arbitrates concurrent sessions enrolling the same
	// principal: the loser's secret is discarded and its code, valid only
	// under the discarded secret, is rejected.
	won, err := s.pipe.secrets.SetConfirmedSecretIfAbsent(ctx, candidate.ID, pending)
	if err != nil {
		return StepResult{}, fmt.Errorf("%w: %v", ErrSecretStoreUnavailable, err)
	}

	state.RemovePending(PendingSecretKey)
	state.RemovePending(PendingSecretURIKey)

	if !won {
		s.pipe.metrics.Inc(MetricSecretRaceLost)
		return StepResult{Message: msgIncorrectCode}, nil
	}

	s.pipe.metrics.Inc(MetricEnrollmentConfirmed)
	s.pipe.emit(ctx, state, AuditEnrollConfirmed, StepAuthenticatorCode, true, "")
	return StepResult{OK: true}, nil
}

// discardLostEnrollment handles a code that fails against the confirmed
// secret while this attempt still carries a pending one: another session
// confirmed first. A code valid only under the discarded pending secret
// marks the loser, who drops it and re-enrolls against the winner's app.
func (s *authenticatorCodeStep) discardLostEnrollment(code string, state *AuthenticationState) {
	pending, ok := state.Pending(PendingSecretKey)
	if !ok {
		return
	}
	verified, err := s.pipe.totp.VerifyBase32(pending, code, s.pipe.now())
	if err != nil || !verified {
		return
	}
	state.RemovePending(PendingSecretKey)
	state.RemovePending(PendingSecretURIKey)
	s.pipe.metrics.Inc(MetricSecretRaceLost)
}

func (s *authenticatorCodeStep) authenticateBackupCode(ctx context.Context, code string, state *AuthenticationState) (StepResult, error) {
	candidate := state.Candidate

	secret, err := s.pipe.secrets.GetConfirmedSecret(ctx, candidate.ID)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			s.pipe.metrics.Inc(MetricBackupCodeFailed)
			return StepResult{Message: msgIncorrectCode}, nil
		}
		return StepResult{}, fmt.Errorf("%w: %v", ErrSecretStoreUnavailable, err)
	}

	hashes, err := s.pipe.secrets.ListBackupCodeHashes(ctx, candidate.ID)
	if err != nil {
		return StepResult{}, fmt.Errorf("%w: %v", ErrSecretStoreUnavailable, err)
	}

	presented := backupCodeHash(secret, canonicalizeCode(code))

	var matched bool
	for _, h := range hashes {
		if subtle.ConstantTimeCompare(h[:], presented[:]) == 1 {
			matched = true
		}
	}
	if !matched || candidate.Placeholder {
		s.pipe.metrics.Inc(MetricBackupCodeFailed)
		return StepResult{Message: msgIncorrectCode}, nil
	}

	// The code must be consumed before it authenticates. Under a race two
	// sessions may both match; only the one whose removal took effect
	// succeeds.
	removed, err := s.pipe.secrets.InvalidateBackupCode(ctx, candidate.ID, presented)
	if err != nil {
		return StepResult{}, fmt.Errorf("%w: %v", ErrSecretStoreUnavailable, err)
	}
	if !removed {
		s.pipe.metrics.Inc(MetricBackupCodeFailed)
		return StepResult{Message: msgIncorrectCode}, nil
	}

	s.pipe.metrics.Inc(MetricBackupCodeUsed)
	s.pipe.emit(ctx, state, AuditBackupCodeUsed, StepAuthenticatorCode, true, "")
	return StepResult{OK: true}, nil
}
