package authchain

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GrantClaims is the payload of a signed completion grant: a short-lived
// HS256 token asserting that a chain completed for the named principal.
// The caller's session layer consumes it exactly once; the pipeline keeps
// no record of issued grants.
type GrantClaims struct {
	jwt.RegisteredClaims

	// Elevated marks grants issued for a completed elevation chain.
	Elevated bool `json:"elv,omitempty"`

	// Steps lists the completed step IDs in order.
	Steps []string `json:"stp,omitempty"`
}

type grantIssuer struct {
	cfg GrantConfig
	now func() time.Time
}

func newGrantIssuer(cfg GrantConfig, now func() time.Time) *grantIssuer {
	if !cfg.Enabled {
		return nil
	}
	return &grantIssuer{cfg: cfg, now: now}
}

func (g *grantIssuer) Issue(state *AuthenticationState) (string, error) {
	if g == nil {
		return "", nil
	}

	now := g.now()
	claims := GrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.cfg.Issuer,
			Subject:   state.Candidate.ID,
			ID:        state.AttemptID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.cfg.TTL)),
		},
		Elevated: state.Elevated,
		Steps:    append([]string(nil), state.CompletedSteps...),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.cfg.Key)
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}
	return signed, nil
}

// VerifyGrant parses and validates a completion grant issued by this
// pipeline. It checks the signature, expiry, and issuer; single-use
// enforcement (by the token ID) is the caller's responsibility.
func (p *Pipeline) VerifyGrant(token string) (*GrantClaims, error) {
	if p.grants == nil {
		return nil, ErrGrantDisabled
	}

	claims := &GrantClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			return p.grants.cfg.Key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.grants.cfg.Issuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGrantInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrGrantInvalid
	}
	return claims, nil
}
