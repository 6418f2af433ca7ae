package authchain

import (
	"errors"
	"strings"
	"time"
)

// Config groups the per-concern configuration of a [Pipeline]. Configure it
// once on a [Builder]; a built pipeline treats its config as immutable.
type Config struct {
	Chain       ChainConfig
	Password    PasswordConfig
	TOTP        TOTPConfig
	EmailCode   EmailCodeConfig
	IPFilter    IPFilterConfig
	Enumeration EnumerationConfig
	Grant       GrantConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

// ChainConfig declares the step chains by step ID.
//
// Order is the default chain run for a login attempt. MFA is the
// conditional sub-chain appended to it; an MFA step only runs when its
// IsApplicable reports true for the identified candidate. Elevation is the
// chain run for re-verifying an already-identified session; every step in
// it must carry [CapGrantsElevation].
type ChainConfig struct {
	Order     []string
	MFA       []string
	Elevation []string
}

// PasswordConfig carries the Argon2id parameters used for credential
// verification and for the fixed bogus hash that equalizes the cost of
// failure paths.
type PasswordConfig struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// TOTPConfig configures time-based one-time code verification and
// authenticator enrollment.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string // "SHA1" (default), "SHA256", "SHA512"

	// EnrollDuringLogin makes the authenticator step applicable for
	// candidates without a confirmed secret: Prepare provisions a pending
	// secret that is confirmed by its first successful verification.
	EnrollDuringLogin bool

	BackupCodeCount  int
	BackupCodeLength int
}

// EmailCodeConfig configures issuance of email-delivered sign-in codes.
type EmailCodeConfig struct {
	TTL         time.Duration
	Groups      int
	GroupLength int
	Subject     string
}

// IPFilterConfig configures the IP filter step. With Permissive false the
// filter is an allow-list: the caller address must appear in Allowed. With
// Permissive true it is a deny-list: any address not in Denied passes. An
// absent or unparsable address is always denied.
type IPFilterConfig struct {
	Permissive bool
	Allowed    []string
	Denied     []string
}

// EnumerationConfig controls account-existence masking. When Prevent is
// set, identification misses proceed with a placeholder principal and code
// issuance for placeholders burns a randomized delay in place of the
// outbound send, so neither outcome shape nor timing reveals whether an
// account exists.
type EnumerationConfig struct {
	Prevent  bool
	MinDelay time.Duration
	MaxDelay time.Duration
}

// GrantConfig configures optional signed completion grants: short-lived
// HS256 tokens asserting that a chain completed (or elevated), consumable
// by the caller's session layer.
type GrantConfig struct {
	Enabled bool
	Key     []byte
	Issuer  string
	TTL     time.Duration
}

// AuditConfig configures the buffered audit dispatcher. With DropIfFull
// set, events are discarded (and counted) when the buffer is full instead
// of blocking the pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures the in-process metrics counters.
type MetricsConfig struct {
	Enabled                bool
	EnableLatencyHistogram bool
}

// DefaultConfig returns a conservative baseline configuration: a
// credentials-only chain, enumeration prevention on, and grants, audit
// and metrics disabled.
func DefaultConfig() Config {
	return Config{
		Chain: ChainConfig{
			Order: []string{StepCredentials},
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		TOTP: TOTPConfig{
			Issuer:           "authchain",
			Digits:           6,
			Period:           30,
			Skew:             1,
			Algorithm:        "SHA1",
			BackupCodeCount:  8,
			BackupCodeLength: 10,
		},
		EmailCode: EmailCodeConfig{
			TTL:         10 * time.Minute,
			Groups:      3,
			GroupLength: 4,
			Subject:     "Your sign-in code",
		},
		Enumeration: EnumerationConfig{
			Prevent:  true,
			MinDelay: 20 * time.Millisecond,
			MaxDelay: 40 * time.Millisecond,
		},
		Grant: GrantConfig{
			Issuer: "authchain",
			TTL:    2 * time.Minute,
		},
		Audit: AuditConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// Validate checks the configuration for internally inconsistent values.
// Collaborator requirements (stores, mailer) are checked by
// [Builder.Build] instead, since they depend on which steps the chains
// reference.
func (c Config) Validate() error {
	if len(c.Chain.Order) == 0 && len(c.Chain.Elevation) == 0 {
		return errors.New("at least one chain must be configured")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 10 {
		return errors.New("totp digits must be between 6 and 10")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if c.TOTP.Skew < 0 {
		return errors.New("totp skew must not be negative")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("unsupported totp algorithm")
	}
	if c.TOTP.BackupCodeCount <= 0 || c.TOTP.BackupCodeLength < 8 {
		return errors.New("backup code count must be positive and length at least 8")
	}
	if c.EmailCode.TTL <= 0 {
		return errors.New("email code ttl must be positive")
	}
	if c.EmailCode.Groups <= 0 || c.EmailCode.GroupLength <= 0 {
		return errors.New("email code grouping must be positive")
	}
	if c.Enumeration.MinDelay < 0 || c.Enumeration.MaxDelay < c.Enumeration.MinDelay {
		return errors.New("enumeration delay window is inverted")
	}
	if c.Grant.Enabled {
		if len(c.Grant.Key) < 32 {
			return errors.New("grant key must be at least 32 bytes")
		}
		if c.Grant.TTL <= 0 {
			return errors.New("grant ttl must be positive")
		}
	}
	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.Chain.Order = append([]string(nil), c.Chain.Order...)
	out.Chain.MFA = append([]string(nil), c.Chain.MFA...)
	out.Chain.Elevation = append([]string(nil), c.Chain.Elevation...)
	out.IPFilter.Allowed = append([]string(nil), c.IPFilter.Allowed...)
	out.IPFilter.Denied = append([]string(nil), c.IPFilter.Denied...)
	out.Grant.Key = append([]byte(nil), c.Grant.Key...)
	return out
}
