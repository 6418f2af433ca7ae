package authchain

import (
	"context"
	"fmt"
	"net/netip"
)

// ipFilterStep gates the chain on the caller's network address, taken from
// the request context (see [WithClientIP]). It consumes no user input; the
// pipeline runs it automatically when it becomes current. A missing or
// unparsable address is denied in both modes.
type ipFilterStep struct {
	pipe       *Pipeline
	permissive bool
	allowed    map[netip.Addr]struct{}
	denied     map[netip.Addr]struct{}
}

func newIPFilterStep(pipe *Pipeline, cfg IPFilterConfig) (*ipFilterStep, error) {
	s := &ipFilterStep{
		pipe:       pipe,
		permissive: cfg.Permissive,
		allowed:    make(map[netip.Addr]struct{}, len(cfg.Allowed)),
		denied:     make(map[netip.Addr]struct{}, len(cfg.Denied)),
	}

	for _, raw := range cfg.Allowed {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("ip filter allow list: %q: %v", raw, err)
		}
		s.allowed[addr.Unmap()] = struct{}{}
	}
	for _, raw := range cfg.Denied {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("ip filter deny list: %q: %v", raw, err)
		}
		s.denied[addr.Unmap()] = struct{}{}
	}

	return s, nil
}

func (s *ipFilterStep) ID() string               { return StepIPFilter }
func (s *ipFilterStep) Capabilities() Capability { return 0 }
func (s *ipFilterStep) Fields() []string         { return nil }
func (s *ipFilterStep) RequiresInput() bool      { return false }

func (s *ipFilterStep) IsApplicable(context.Context, *Principal) bool {
	return true
}

func (s *ipFilterStep) Authenticate(ctx context.Context, _ Credentials, state *AuthenticationState) (StepResult, error) {
	addr, err := netip.ParseAddr(clientIPFromContext(ctx))
	if err != nil {
		return s.deny(ctx, state, "unparsable address"), nil
	}
	addr = addr.Unmap()

	if s.permissive {
		if _, blocked := s.denied[addr]; blocked {
			return s.deny(ctx, state, "deny list match"), nil
		}
		return StepResult{OK: true}, nil
	}

	if _, ok := s.allowed[addr]; !ok {
		return s.deny(ctx, state, "not on allow list"), nil
	}
	return StepResult{OK: true}, nil
}

func (s *ipFilterStep) deny(ctx context.Context, state *AuthenticationState, detail string) StepResult {
	s.pipe.metrics.Inc(MetricIPDenied)
	s.pipe.emit(ctx, state, AuditAccessDenied, StepIPFilter, false, detail)
	return StepResult{Message: msgAccessDenied}
}
