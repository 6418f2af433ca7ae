package authchain

import "errors"

var (
	// ErrPipelineNotReady is returned when a pipeline is used before
	// [Builder.Build] wired its collaborators.
	ErrPipelineNotReady = errors.New("pipeline not initialized")
	// ErrUnknownStep is returned when a submission names a step that is
	// not registered in the pipeline.
	ErrUnknownStep = errors.New("unknown step")
	// ErrStepNotCurrent is returned when a submission names a registered
	// step that is not the one currently awaited.
	ErrStepNotCurrent = errors.New("step is not the current step")
	// ErrChainExhausted is returned when input is submitted to a pipeline
	// whose chain has already completed.
	ErrChainExhausted = errors.New("authentication chain already complete")
	// ErrNoCandidate is returned when a step requiring an identified
	// principal runs without one. This is a chain configuration fault,
	// not a user error.
	ErrNoCandidate = errors.New("no candidate principal identified")

	// ErrPrincipalNotFound is returned by [PrincipalStore] lookups that
	// match no account.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrPrincipalStoreUnavailable wraps principal store backend faults.
	ErrPrincipalStoreUnavailable = errors.New("principal store unavailable")
	// ErrSecretNotFound is returned by [SecretStore.GetConfirmedSecret]
	// when no confirmed secret exists.
	ErrSecretNotFound = errors.New("authenticator secret not found")
	// ErrSecretStoreUnavailable wraps secret store backend faults.
	ErrSecretStoreUnavailable = errors.New("secret store unavailable")

	// ErrAuthenticatorNotConfigured is returned by backup code
	// provisioning when the principal has no confirmed secret.
	ErrAuthenticatorNotConfigured = errors.New("authenticator not configured")
	// ErrBackupCodesExist is returned by GenerateBackupCodes when codes
	// already exist; regeneration requires a live authenticator code.
	ErrBackupCodesExist = errors.New("backup codes already provisioned")
	// ErrAuthenticatorCodeInvalid is returned by backup code regeneration
	// when the presented authenticator code does not verify.
	ErrAuthenticatorCodeInvalid = errors.New("incorrect code")

	// ErrGrantDisabled is returned when grant verification is attempted
	// without grant issuance configured.
	ErrGrantDisabled = errors.New("grant issuance disabled")
	// ErrGrantInvalid is returned for grants that fail signature,
	// expiry, or claim checks.
	ErrGrantInvalid = errors.New("invalid grant")
)

// User-facing messages recorded on the state by failing steps. They are
// intentionally generic: no message discloses whether an account exists,
// which check rejected the input, or which code branch was attempted.
const (
	msgInvalidCredentials   = "invalid username or password"
	msgInvalidIdentifier    = "invalid username or email"
	msgIncorrectCode        = "incorrect code"
	msgAccessDenied         = "access denied"
	msgMissingInput         = "required input missing"
	msgVerificationFailed   = "verification failed"
	noticeDeliveryProblem   = "the code could not be delivered; it remains valid, request a new one if it does not arrive"
	noticeCodeSent          = "a sign-in code has been sent to your email address"
	noticeEnrollProvisioned = "scan the setup code with your authenticator app, then enter the generated code"
)
