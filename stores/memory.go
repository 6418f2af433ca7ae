package stores

import (
	"context"
	"strings"
	"sync"

	"github.com/EkilDavi/authchain"
)

// MemoryPrincipals is an in-memory PrincipalStore. Lookups match login
// name or email case-insensitively. Safe for concurrent use.
type MemoryPrincipals struct {
	mu         sync.RWMutex
	principals map[string]*authchain.Principal
}

func NewMemoryPrincipals() *MemoryPrincipals {
	return &MemoryPrincipals{
		principals: make(map[string]*authchain.Principal),
	}
}

// Add inserts or replaces a principal by ID.
func (s *MemoryPrincipals) Add(p *authchain.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.principals[p.ID] = &cp
}

func (s *MemoryPrincipals) FindByLoginNameOrEmail(_ context.Context, identifier string) (*authchain.Principal, error) {
	needle := strings.ToLower(strings.TrimSpace(identifier))
	if needle == "" {
		return nil, authchain.ErrPrincipalNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.principals {
		if strings.ToLower(p.LoginName) == needle || strings.ToLower(p.Email) == needle {
			cp := *p
			return &cp, nil
		}
	}
	return nil, authchain.ErrPrincipalNotFound
}

func (s *MemoryPrincipals) FindByID(_ context.Context, id string) (*authchain.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, authchain.ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

// MemorySecrets is an in-memory SecretStore. The check-and-set and backup
// code removal are serialized under one mutex, so concurrent confirmation
// races resolve to exactly one winner.
type MemorySecrets struct {
	mu        sync.Mutex
	confirmed map[string]string
	backup    map[string]map[[32]byte]struct{}
}

func NewMemorySecrets() *MemorySecrets {
	return &MemorySecrets{
		confirmed: make(map[string]string),
		backup:    make(map[string]map[[32]byte]struct{}),
	}
}

func (s *MemorySecrets) GetConfirmedSecret(_ context.Context, principalID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.confirmed[principalID]
	if !ok {
		return "", authchain.ErrSecretNotFound
	}
	return secret, nil
}

func (s *MemorySecrets) SetConfirmedSecretIfAbsent(_ context.Context, principalID, secret string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.confirmed[principalID]; exists {
		return false, nil
	}
	s.confirmed[principalID] = secret
	return true, nil
}

// RemoveConfirmedSecret deletes the secret and any backup codes, undoing
// an enrollment.
func (s *MemorySecrets) RemoveConfirmedSecret(_ context.Context, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.confirmed, principalID)
	delete(s.backup, principalID)
	return nil
}

func (s *MemorySecrets) ListBackupCodeHashes(_ context.Context, principalID string) ([][32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.backup[principalID]
	hashes := make([][32]byte, 0, len(set))
	for h := range set {
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func (s *MemorySecrets) ReplaceBackupCodes(_ context.Context, principalID string, hashes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[[32]byte]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	s.backup[principalID] = set
	return nil
}

func (s *MemorySecrets) InvalidateBackupCode(_ context.Context, principalID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.backup[principalID]
	if !ok {
		return false, nil
	}
	if _, present := set[hash]; !present {
		return false, nil
	}
	delete(set, hash)
	return true, nil
}
