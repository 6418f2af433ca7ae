package authchain

import (
	"context"
	"errors"
	"fmt"
)

// credentialsStep identifies a principal by login name or email and checks
// the submitted password in the same invocation. All of its failure paths
// perform a password verification, so a lookup miss costs the same as a
// hash mismatch.
type credentialsStep struct {
	pipe *Pipeline
}

func (s *credentialsStep) ID() string               { return StepCredentials }
func (s *credentialsStep) Capabilities() Capability { return 0 }
func (s *credentialsStep) Fields() []string         { return []string{FieldLogin, FieldPassword} }
func (s *credentialsStep) RequiresInput() bool      { return true }

func (s *credentialsStep) IsApplicable(context.Context, *Principal) bool {
	return true
}

func (s *credentialsStep) Authenticate(ctx context.Context, creds Credentials, state *AuthenticationState) (StepResult, error) {
	principal, err := s.pipe.principals.FindByLoginNameOrEmail(ctx, creds[FieldLogin])
	if err != nil {
		if !errors.Is(err, ErrPrincipalNotFound) {
			return StepResult{}, fmt.Errorf("%w: %v", ErrPrincipalStoreUnavailable, err)
		}
		s.pipe.burnPasswordVerification(creds[FieldPassword])
		return StepResult{Message: msgInvalidCredentials}, nil
	}

	ok, err := s.pipe.verifyPassword(creds[FieldPassword], principal)
	if err != nil {
		return StepResult{}, err
	}
	if !ok {
		return StepResult{Message: msgInvalidCredentials}, nil
	}

	state.Candidate = principal
	return StepResult{OK: true}, nil
}

// passwordStep re-verifies the password of an already identified
// candidate. It appears in elevation chains, or after an identifying step
// like email-identify in login chains.
type passwordStep struct {
	pipe *Pipeline
}

func (s *passwordStep) ID() string { return StepPassword }

func (s *passwordStep) Capabilities() Capability {
	return CapRequiresIdentifiedUser | CapGrantsElevation
}

func (s *passwordStep) Fields() []string    { return []string{FieldPassword} }
func (s *passwordStep) RequiresInput() bool { return true }

func (s *passwordStep) IsApplicable(_ context.Context, candidate *Principal) bool {
	return candidate != nil
}

func (s *passwordStep) Authenticate(ctx context.Context, creds Credentials, state *AuthenticationState) (StepResult, error) {
	candidate := state.Candidate

	// The password hash is excluded from serialized state, so a candidate
	// restored across a request boundary carries none. Refetch by ID.
	if candidate.PasswordHash == "" && !candidate.Placeholder {
		fetched, err := s.pipe.principals.FindByID(ctx, candidate.ID)
		if err != nil {
			if !errors.Is(err, ErrPrincipalNotFound) {
				return StepResult{}, fmt.Errorf("%w: %v", ErrPrincipalStoreUnavailable, err)
			}
			s.pipe.burnPasswordVerification(creds[FieldPassword])
			return StepResult{Message: msgInvalidCredentials}, nil
		}
		candidate = fetched
	}

	ok, err := s.pipe.verifyPassword(creds[FieldPassword], candidate)
	if err != nil {
		return StepResult{}, err
	}
	if !ok {
		return StepResult{Message: msgInvalidCredentials}, nil
	}
	return StepResult{OK: true}, nil
}
