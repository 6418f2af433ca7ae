package authchain

import "context"

// Well-known identifiers of the built-in step types. A [Config] chain refers
// to steps by these IDs; custom steps registered through
// [Builder.WithStep] use their own.
const (
	StepCredentials       = "credentials"
	StepPassword          = "password"
	StepEmailIdentify     = "email-identify"
	StepEmailCode         = "email-code"
	StepAuthenticatorCode = "authenticator-code"
	StepIPFilter          = "ip-filter"
)

// Input field names declared by the built-in steps.
const (
	FieldLogin    = "login"
	FieldPassword = "password"
	FieldEmail    = "email"
	FieldCode     = "code"
)

// Capability is a bit set describing what a step requires and grants.
// Shared behavior keyed on capabilities (field validation, prepare hooks,
// elevation bookkeeping) lives in the [Pipeline], not in the steps.
type Capability uint8

const (
	// CapRequiresIdentifiedUser marks steps that cannot run before a
	// candidate principal has been identified.
	CapRequiresIdentifiedUser Capability = 1 << iota
	// CapMFA marks steps eligible for the conditional MFA sub-chain.
	CapMFA
	// CapPreparable marks steps with a Prepare hook ([Preparer]).
	CapPreparable
	// CapGrantsElevation marks steps whose success may elevate an
	// already-identified session.
	CapGrantsElevation
	// CapUserConfigurable marks steps the principal can enroll in or out
	// of (e.g. an authenticator app).
	CapUserConfigurable
)

// Has reports whether all bits of flag are set.
func (c Capability) Has(flag Capability) bool { return c&flag == flag }

// Principal is the account being authenticated. A placeholder principal is
// synthesized when enumeration prevention is active and no real account
// matches; it flows through the chain like a real one but is never
// persisted and never receives mail.
type Principal struct {
	ID           string `json:"id"`
	LoginName    string `json:"login_name,omitempty"`
	Email        string `json:"email,omitempty"`
	PasswordHash string `json:"-"`
	Placeholder  bool   `json:"placeholder,omitempty"`
}

// Credentials is the flat input map submitted for one step. Unknown keys
// are ignored; the pipeline rejects the submission before invoking the step
// when a declared field is missing.
type Credentials map[string]string

// StepResult is the outcome of a single step invocation. OK false carries a
// generic user-facing Message; Notice is a non-fatal user-facing remark
// (e.g. a delivery problem) and may accompany either outcome.
type StepResult struct {
	OK      bool
	Message string
	Notice  string
}

// StepType is the contract every verification step implements.
//
// Authenticate must be side-effect-free on failure apart from the returned
// message, and safe to retry. Infrastructure problems (a store or backend
// being unreachable) are returned as errors, distinct from verification
// failures which are ordinary StepResult values.
type StepType interface {
	ID() string
	Capabilities() Capability

	// Fields lists the required input names in display order.
	Fields() []string

	// RequiresInput reports whether the step consumes user-supplied
	// fields. Steps returning false are run by the pipeline without a
	// submission.
	RequiresInput() bool

	// IsApplicable reports whether the step is relevant for the given
	// candidate (nil until identified).
	IsApplicable(ctx context.Context, candidate *Principal) bool

	Authenticate(ctx context.Context, creds Credentials, state *AuthenticationState) (StepResult, error)
}

// Preparer is implemented by steps with a side-effecting hook that runs
// before the step's input form is shown (e.g. dispatching an email code).
// Prepare must be idempotent within one pending-state lifetime: a second
// call before the issued artifact expires must not redo the side effect.
type Preparer interface {
	Prepare(ctx context.Context, state *AuthenticationState) error
}

// Status discriminates the outcome of a pipeline submission.
type Status uint8

const (
	// StatusSuccess: the step succeeded and the chain is exhausted.
	StatusSuccess Status = iota
	// StatusFailure: validation or verification failed; the pipeline
	// remains at the same step.
	StatusFailure
	// StatusNeedsInput: the step succeeded but another step awaits input.
	StatusNeedsInput
)

// Result is returned by [Pipeline.Submit]. The pipeline always returns a
// well-formed Result for authentication outcomes; only infrastructure
// faults surface as errors.
type Result struct {
	Status    Status
	Message   string
	NextStep  string
	Completed bool
	Elevated  bool

	// Grant holds a signed completion token when grant issuance is
	// configured and the pipeline reached a terminal state.
	Grant string
}

// PrincipalStore is the principal lookup collaborator. Implementations
// return [ErrPrincipalNotFound] for a miss and wrap backend faults in
// [ErrPrincipalStoreUnavailable].
type PrincipalStore interface {
	FindByLoginNameOrEmail(ctx context.Context, s string) (*Principal, error)
	FindByID(ctx context.Context, id string) (*Principal, error)
}

// SecretStore persists per-principal authenticator secrets and backup code
// hashes. Implementations return [ErrSecretNotFound] for an absent secret
// and wrap backend faults in [ErrSecretStoreUnavailable].
//
// SetConfirmedSecretIfAbsent is a check-and-set: it writes only when no
// confirmed secret exists and reports whether the write happened. The first
// session to confirm a pending secret wins; concurrent losers observe
// false and discard their pending copy.
type SecretStore interface {
	GetConfirmedSecret(ctx context.Context, principalID string) (string, error)
	SetConfirmedSecretIfAbsent(ctx context.Context, principalID, secret string) (bool, error)

	ListBackupCodeHashes(ctx context.Context, principalID string) ([][32]byte, error)
	ReplaceBackupCodes(ctx context.Context, principalID string, hashes [][32]byte) error

	// InvalidateBackupCode removes one hash and reports whether it was
	// present. A hash must never match again after removal.
	InvalidateBackupCode(ctx context.Context, principalID string, hash [32]byte) (bool, error)
}

// Mailer is the outbound delivery collaborator. Send failures degrade to a
// user-visible notice; they never fail the pipeline.
type Mailer interface {
	Send(ctx context.Context, to *Principal, subject, body string) error
}

// AuthenticatorSetup describes a pending (unconfirmed) authenticator
// enrollment for display: the base32 secret and the otpauth:// URI.
type AuthenticatorSetup struct {
	SecretBase32 string
	URI          string
}
