package authchain

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/EkilDavi/authchain/password"
)

// Builder assembles a [Pipeline] from a [Config] and its collaborators.
// Methods mutate and return the same builder; Build validates the whole
// assembly at once so a misconfigured pipeline never runs.
type Builder struct {
	cfg    Config
	cfgSet bool

	principals PrincipalStore
	secrets    SecretStore
	mailer     Mailer
	sink       AuditSink
	custom     []StepType
	nowFn      func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

func (b *Builder) WithPrincipalStore(store PrincipalStore) *Builder {
	b.principals = store
	return b
}

func (b *Builder) WithSecretStore(store SecretStore) *Builder {
	b.secrets = store
	return b
}

func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

// WithAuditSink sets the sink the dispatcher delivers to. Without one,
// enabled auditing falls back to [NoOpSink].
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithStep registers a custom step type. Its ID must not collide with a
// built-in or another custom step.
func (b *Builder) WithStep(step StepType) *Builder {
	b.custom = append(b.custom, step)
	return b
}

// WithClock overrides the pipeline's time source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.nowFn = now
	return b
}

// Build validates the configuration, wires the steps referenced by the
// chains, and starts the audit dispatcher. The returned pipeline owns the
// dispatcher goroutine; callers release it with [Pipeline.Close].
func (b *Builder) Build() (*Pipeline, error) {
	cfg := b.cfg
	if !b.cfgSet {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	nowFn := b.nowFn
	if nowFn == nil {
		nowFn = time.Now
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid password config: %w", err)
	}

	// The bogus hash equalizes the failure paths that have no real hash to
	// verify against. Hashing a throwaway value here keeps it structurally
	// identical to stored hashes.
	bogusHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("derive bogus hash: %w", err)
	}

	p := &Pipeline{
		cfg:        cloneConfig(cfg),
		steps:      make(map[string]StepType),
		principals: b.principals,
		secrets:    b.secrets,
		mailer:     b.mailer,
		hasher:     hasher,
		bogusHash:  bogusHash,
		totp:       newTOTPManager(cfg.TOTP),
		metrics:    newMetrics(cfg.Metrics),
		grants:     newGrantIssuer(cfg.Grant, nowFn),
		nowFn:      nowFn,
	}

	ipFilter, err := newIPFilterStep(p, cfg.IPFilter)
	if err != nil {
		return nil, err
	}

	builtins := []StepType{
		&credentialsStep{pipe: p},
		&passwordStep{pipe: p},
		&emailIdentifyStep{pipe: p},
		&emailCodeStep{pipe: p},
		&authenticatorCodeStep{pipe: p},
		ipFilter,
	}
	for _, step := range append(builtins, b.custom...) {
		if step == nil || step.ID() == "" {
			return nil, errors.New("step with empty ID")
		}
		if _, dup := p.steps[step.ID()]; dup {
			return nil, fmt.Errorf("duplicate step ID: %s", step.ID())
		}
		p.steps[step.ID()] = step
	}

	if err := b.validateChains(p); err != nil {
		return nil, err
	}
	if err := b.validateCollaborators(p); err != nil {
		return nil, err
	}

	p.loginChain = append(append([]string(nil), cfg.Chain.Order...), cfg.Chain.MFA...)
	p.audit = newAuditDispatcher(cfg.Audit, b.sink)

	return p, nil
}

func (b *Builder) validateChains(p *Pipeline) error {
	for _, id := range append(append(append([]string(nil), p.cfg.Chain.Order...), p.cfg.Chain.MFA...), p.cfg.Chain.Elevation...) {
		if _, ok := p.steps[id]; !ok {
			return fmt.Errorf("chain references unregistered step: %s", id)
		}
	}
	for _, id := range p.cfg.Chain.MFA {
		if !p.steps[id].Capabilities().Has(CapMFA) {
			return fmt.Errorf("step %s is not usable in the MFA chain", id)
		}
	}
	for _, id := range p.cfg.Chain.Elevation {
		if !p.steps[id].Capabilities().Has(CapGrantsElevation) {
			return fmt.Errorf("step %s cannot grant elevation", id)
		}
	}

	// The login chain must establish identity before any step that needs
	// one; the first step therefore cannot require an identified user.
	if len(p.cfg.Chain.Order) > 0 {
		first := p.steps[p.cfg.Chain.Order[0]]
		if first.Capabilities().Has(CapRequiresIdentifiedUser) {
			return fmt.Errorf("first chain step %s requires an identified user", first.ID())
		}
	}
	return nil
}

func (b *Builder) validateCollaborators(p *Pipeline) error {
	referenced := func(id string) bool {
		return slices.Contains(p.cfg.Chain.Order, id) ||
			slices.Contains(p.cfg.Chain.MFA, id) ||
			slices.Contains(p.cfg.Chain.Elevation, id)
	}

	needsPrincipals := referenced(StepCredentials) || referenced(StepPassword) || referenced(StepEmailIdentify)
	if needsPrincipals && p.principals == nil {
		return errors.New("chain requires a principal store")
	}
	if referenced(StepAuthenticatorCode) && p.secrets == nil {
		return errors.New("authenticator step requires a secret store")
	}
	if referenced(StepEmailCode) && p.mailer == nil {
		return errors.New("email code step requires a mailer")
	}
	return nil
}
