package authchain

import (
	"context"
	"errors"
	"testing"
)

func TestLoginChainCredentialsOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Order = []string{StepCredentials}
	env := newTestEnv(t, cfg)
	env.addUser(t, "u1", "alice", "alice@example.com", "correct horse")

	ctx := context.Background()
	state := env.pipe.NewState(ctx)

	res, err := env.pipe.Advance(ctx, state)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.Status != StatusNeedsInput || res.NextStep != StepCredentials {
		t.Fatalf("expected credentials to be current, got %+v", res)
	}

	res, err = env.pipe.Submit(ctx, StepCredentials, Credentials{
		FieldLogin:    "alice",
		FieldPassword: "correct horse",
	}, state)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != StatusSuccess || !res.Completed {
		t.Fatalf("expected terminal success, got %+v", res)
	}
	if state.Candidate == nil || state.Candidate.ID != "u1" {
		t.Fatal("expected candidate to be identified")
	}
	if !state.Completed {
		t.Fatal("expected state to record completion")
	}
}

func TestSubmitWrongStepRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Order = []string{StepCredentials}
	cfg.Chain.MFA = []string{StepAuthenticatorCode}
	env := newTestEnv(t, cfg)
	env.addUser(t, "u1", "alice", "alice@example.com", "pw-alice-1")

	ctx := context.Background()
	state := env.pipe.NewState(ctx)

	if _, err := env.pipe.Submit(ctx, StepAuthenticatorCode, Credentials{FieldCode: "123456"}, state); !errors.Is(err, ErrStepNotCurrent) {
		t.Fatalf("expected ErrStepNotCurrent, got %v", err)
	}
	if _, err := env.pipe.Submit(ctx, "no-such-step", nil, state); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
	if len(state.CompletedSteps) != 0 {
		t.Fatal("rejected submissions must not complete steps")
	}
}

func TestSubmitMissingFieldRejectedBeforeStepRuns(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Order = []string{StepCredentials}
	env := newTestEnv(t, cfg)
	env.addUser(t, "u1", "alice", "alice@example.com", "pw-alice-1")

	ctx := context.Background()
	state := env.pipe.NewState(ctx)

	res, err := env.pipe.Submit(ctx, StepCredentials, Credentials{FieldLogin: "alice"}, state)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != StatusFailure || res.Message != msgMissingInput {
		t.Fatalf("expected validation failure, got %+v", res)
	}
	if got := env.pipe.metrics.Value(MetricValidationRejected); got != 1 {
		t.Errorf("validation counter = %d, want 1", got)
	}
	if env.pipe.metrics.Value(MetricStepFailure) != 0 {
		t.Error("validation rejection must not count as a step failure")
	}
}

func TestFailureKeepsChainPosition(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Order = []string{StepCredentials}
	env := newTestEnv(t, cfg)
	env.addUser(t, "u1", "alice", "alice@example.com", "pw-alice-1")

	ctx := context.Background()
	state := env.pipe.NewState(ctx)

	res, err := env.pipe.Submit(ctx, StepCredentials, Credentials{
		FieldLogin:    "alice",
		FieldPassword: "wrong",
	}, state)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != StatusFailure || res.NextStep != StepCredentials {
		t.Fatalf("expected failure at credentials, got %+v", res)
	}
	if len(state.Errors) != 1 || state.Errors[0] != msgInvalidCredentials {
		t.Fatalf("expected generic error message, got %v", state.Errors)
	}

	// The same step accepts a corrected retry.
	res, err = env.pipe.Submit(ctx, StepCredentials, Credentials{
		FieldLogin:    "alice",
		FieldPassword: "pw-alice-1",
	}, state)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("expected success on retry, got %+v", res)
	}
}

func TestSubmitAfterCompletionExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Order = []string{StepCredentials}
	env := newTestEnv(t, cfg)
	env.addUser(t, "u1", "alice", "alice@example.com", "pw-alice-1")

	ctx := context.Background()
	state := env.pipe.NewState(ctx)
	if _, err := env.pipe.Submit(ctx, StepCredentials, Credentials{
		FieldLogin:    "alice",
		FieldPassword: "pw-alice-1",
	}, state); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := env.pipe.Submit(ctx, StepCredentials, Credentials{
		FieldLogin:    "alice",
		FieldPassword: "pw-alice-1",
	}, state); !errors.Is(err, ErrChainExhausted) {
		t.Fatalf("expected ErrChainExhausted, got %v", err)
	}
	if got := env.pipe.metrics.Value(MetricChainCompleted); got != 1 {
		t.Errorf("completion counter = %d, want exactly 1", got)
	}
}

func TestMFAStepSkippedWhenNotApplicable(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Order = []string{StepCredentials}
	cfg.Chain.MFA = []string{StepAuthenticatorCode}
	env := newTestEnv(t, cfg)
	env.addUser(t, "u1", "alice", "alice@example.com", "pw-alice-1")

	// No confirmed secret, no enroll-during-login: the MFA step does not
	// apply and the chain ends after credentials.
	ctx := context.Background()
	state := env.pipe.NewState(ctx)
	res, err := env.pipe.Submit(ctx, StepCredentials, Credentials{
		FieldLogin:    "alice",
		FieldPassword: "pw-alice-1",
	}, state)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != StatusSuccess || !res.Completed {
		t.Fatalf("expected completion without MFA, got %+v", res)
	}
}

func TestMFAStepRequiredWhenSecretConfirmed(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Order = []string{StepCredentials}
	cfg.Chain.MFA = []string{StepAuthenticatorCode}
	env := newTestEnv(t, cfg)
	env.addUser(t, "u1", "alice", "alice@example.com", "pw-alice-1")
	secret := env.confirmSecret(t, "u1")

	ctx := context.Background()
	state := env.pipe.NewState(ctx)
	res, err := env.pipe.Submit(ctx, StepCredentials, Credentials{
		FieldLogin:    "alice",
		FieldPassword: "pw-alice-1",
	}, state)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != StatusNeedsInput || res.NextStep != StepAuthenticatorCode {
		t.Fatalf("expected authenticator step next, got %+v", res)
	}

	res, err = env.pipe.Submit(ctx, StepAuthenticatorCode, Credentials{
		FieldCode: env.totpCode(t, secret),
	}, state)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != StatusSuccess || !res.Completed {
		t.Fatalf("expected completion after MFA, got %+v", res)
	}
}

func TestElevationChainSetsElevated(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Order = []string{StepCredentials}
	cfg.Chain.Elevation = []string{StepPassword}
	env := newTestEnv(t, cfg)
	principal := env.addUser(t, "u1", "alice", "alice@example.com", "pw-alice-1")

	ctx := context.Background()
	state, err := env.pipe.NewElevationState(ctx, principal)
	if err != nil {
		t.Fatalf("NewElevationState failed: %v", err)
	}

	res, err := env.pipe.Submit(ctx, StepPassword, Credentials{FieldPassword: "pw-alice-1"}, state)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Status != StatusSuccess || !res.Elevated {
		t.Fatalf("expected elevated completion, got %+v", res)
	}
	if !state.Elevated {
		t.Fatal("expected state.Elevated")
	}
	if got := env.pipe.metrics.Value(MetricElevationGranted); got != 1 {
		t.Errorf("elevation counter = %d, want 1", got)
	}
}

func TestElevationRequiresPrincipal(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Elevation = []string{StepPassword}
	env := newTestEnv(t, cfg)

	if _, err := env.pipe.NewElevationState(context.Background(), nil); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("expected ErrNoCandidate, got %v", err)
	}
}

func TestAbandonClearsPendingData(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Order = []string{StepEmailIdentify, StepEmailCode}
	env := newTestEnv(t, cfg)
	env.addUser(t, "u1", "alice", "alice@example.com", "pw-alice-1")

	ctx := context.Background()
	state := env.pipe.NewState(ctx)
	if _, err := env.pipe.Submit(ctx, StepEmailIdentify, Credentials{FieldEmail: "alice@example.com"}, state); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, ok := state.Pending(PendingEmailCodeKey); !ok {
		t.Fatal("expected a pending email code after advancing")
	}

	state.Abandon()
	if len(state.PendingStepData) != 0 {
		t.Fatal("Abandon must discard pending data")
	}
	if len(state.Errors) != 0 || len(state.Notices) != 0 {
		t.Fatal("Abandon must clear messages")
	}
	// Completed steps survive; abandoning pending artifacts does not undo
	// verified identity.
	if !state.StepCompleted(StepEmailIdentify) {
		t.Fatal("expected completed steps to survive Abandon")
	}
}

func TestBuilderRejectsBadChains(t *testing.T) {
	base := testConfig()

	cases := []struct {
		name    string
		mutate  func(*Config)
		builder func(*Builder) *Builder
	}{
		{
			name:   "unregistered step",
			mutate: func(c *Config) { c.Chain.Order = []string{"nope"} },
		},
		{
			name:   "non-mfa step in mfa chain",
			mutate: func(c *Config) { c.Chain.MFA = []string{StepCredentials} },
		},
		{
			name:   "non-elevating step in elevation chain",
			mutate: func(c *Config) { c.Chain.Elevation = []string{StepCredentials} },
		},
		{
			name:   "first step requires identity",
			mutate: func(c *Config) { c.Chain.Order = []string{StepPassword} },
		},
		{
			name:   "empty chains",
			mutate: func(c *Config) { c.Chain = ChainConfig{} },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			_, err := NewBuilder().
				WithConfig(cfg).
				WithPrincipalStore(newFakePrincipals()).
				WithSecretStore(newFakeSecrets()).
				WithMailer(&fakeMailer{}).
				Build()
			if err == nil {
				t.Fatal("expected Build to fail")
			}
		})
	}
}

func TestBuilderRequiresCollaborators(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Order = []string{StepCredentials}
	if _, err := NewBuilder().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected Build to demand a principal store")
	}

	cfg.Chain.MFA = []string{StepAuthenticatorCode}
	if _, err := NewBuilder().WithConfig(cfg).WithPrincipalStore(newFakePrincipals()).Build(); err == nil {
		t.Fatal("expected Build to demand a secret store")
	}

	cfg.Chain.MFA = []string{StepEmailCode}
	if _, err := NewBuilder().WithConfig(cfg).WithPrincipalStore(newFakePrincipals()).Build(); err == nil {
		t.Fatal("expected Build to demand a mailer")
	}
}

func TestBuilderRejectsDuplicateStepIDs(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Order = []string{StepCredentials}
	_, err := NewBuilder().
		WithConfig(cfg).
		WithPrincipalStore(newFakePrincipals()).
		WithStep(&credentialsStep{}).
		Build()
	if err == nil {
		t.Fatal("expected duplicate step ID to fail Build")
	}
}

func TestNoticesAndErrorsMutuallyExclusive(t *testing.T) {
	cfg := testConfig()
	cfg.Chain.Order = []string{StepEmailIdentify, StepEmailCode}
	env := newTestEnv(t, cfg)
	env.addUser(t, "u1", "alice", "alice@example.com", "pw-alice-1")

	ctx := context.Background()
	state := env.pipe.NewState(ctx)
	if _, err := env.pipe.Submit(ctx, StepEmailIdentify, Credentials{FieldEmail: "alice@example.com"}, state); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(state.Notices) == 0 || len(state.Errors) != 0 {
		t.Fatalf("expected only notice after code issuance, errors=%v notices=%v", state.Errors, state.Notices)
	}

	if _, err := env.pipe.Submit(ctx, StepEmailCode, Credentials{FieldCode: "WRONG-GUESS"}, state); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(state.Errors) == 0 || len(state.Notices) != 0 {
		t.Fatalf("expected only error after failed code, errors=%v notices=%v", state.Errors, state.Notices)
	}
}
