// Package authchain implements a multi-step authentication and elevation
// pipeline: an ordered, branching chain of pluggable verification steps
// (credentials, time-based one-time codes, backup codes, email-delivered
// codes, IP filtering) driven through a single serializable
// [AuthenticationState].
//
// The package is a library, not a server. Rendering of step forms, session
// persistence, outbound routing, and rate limiting all belong to the caller;
// authchain talks to them only through injected collaborators
// ([PrincipalStore], [SecretStore], [Mailer], [AuditSink]) configured on a
// [Builder]. There is no ambient global state.
//
// # Architecture boundaries
//
// The root package is the public surface: [Pipeline], [Builder], [Config],
// the [StepType] contract, value types, and sentinel errors. Adapters live
// in sub-packages (stores, mailer, metrics/export) and depend on the root,
// never the other way around. Code generation helpers that are not part of
// the contract live under internal/.
//
// # Security posture
//
// Failure paths are deliberately uniform: a failed credential check against
// an unknown account performs the same Argon2id work as a genuine mismatch,
// email code issuance for a non-existent address takes the same time as a
// real dispatch, and every verification failure surfaces the same generic
// message regardless of which branch rejected the input. These are
// correctness properties of the pipeline, covered by tests, not
// optimizations to be removed.
package authchain
