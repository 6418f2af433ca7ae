package authchain

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// The in-package fakes mirror the stores package without importing it,
// which would cycle back into this package.

type fakePrincipals struct {
	mu         sync.Mutex
	principals map[string]*Principal
	failWith   error
}

func newFakePrincipals() *fakePrincipals {
	return &fakePrincipals{principals: make(map[string]*Principal)}
}

func (f *fakePrincipals) add(p *Principal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.principals[p.ID] = &cp
}

func (f *fakePrincipals) FindByLoginNameOrEmail(_ context.Context, identifier string) (*Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	needle := strings.ToLower(strings.TrimSpace(identifier))
	for _, p := range f.principals {
		if strings.ToLower(p.LoginName) == needle || strings.ToLower(p.Email) == needle {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPrincipalNotFound
}

func (f *fakePrincipals) FindByID(_ context.Context, id string) (*Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	p, ok := f.principals[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

type fakeSecrets struct {
	mu        sync.Mutex
	confirmed map[string]string
	backup    map[string]map[[32]byte]struct{}
	failWith  error
}

func newFakeSecrets() *fakeSecrets {
	return &fakeSecrets{
		confirmed: make(map[string]string),
		backup:    make(map[string]map[[32]byte]struct{}),
	}
}

func (f *fakeSecrets) GetConfirmedSecret(_ context.Context, principalID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	secret, ok := f.confirmed[principalID]
	if !ok {
		return "", ErrSecretNotFound
	}
	return secret, nil
}

func (f *fakeSecrets) SetConfirmedSecretIfAbsent(_ context.Context, principalID, secret string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return false, f.failWith
	}
	if _, exists := f.confirmed[principalID]; exists {
		return false, nil
	}
	f.confirmed[principalID] = secret
	return true, nil
}

func (f *fakeSecrets) ListBackupCodeHashes(_ context.Context, principalID string) ([][32]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	set := f.backup[principalID]
	hashes := make([][32]byte, 0, len(set))
	for h := range set {
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func (f *fakeSecrets) ReplaceBackupCodes(_ context.Context, principalID string, hashes [][32]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	set := make(map[[32]byte]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	f.backup[principalID] = set
	return nil
}

func (f *fakeSecrets) InvalidateBackupCode(_ context.Context, principalID string, hash [32]byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return false, f.failWith
	}
	set, ok := f.backup[principalID]
	if !ok {
		return false, nil
	}
	if _, present := set[hash]; !present {
		return false, nil
	}
	delete(set, hash)
	return true, nil
}

type sentMail struct {
	to      string
	subject string
	body    string
}

type fakeMailer struct {
	mu       sync.Mutex
	sent     []sentMail
	failWith error
}

func (f *fakeMailer) Send(_ context.Context, to *Principal, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.sent = append(f.sent, sentMail{to: to.Email, subject: subject, body: body})
	return nil
}

func (f *fakeMailer) messages() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

// testConfig keeps the argon2 cost at the validation floor so tests do not
// spend their time hashing.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password = PasswordConfig{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Enumeration.MinDelay = 0
	cfg.Enumeration.MaxDelay = time.Millisecond
	cfg.Metrics.Enabled = true
	return cfg
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	pipe       *Pipeline
	principals *fakePrincipals
	secrets    *fakeSecrets
	mailer     *fakeMailer
	clock      *testClock
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	env := &testEnv{
		principals: newFakePrincipals(),
		secrets:    newFakeSecrets(),
		mailer:     &fakeMailer{},
		clock:      newTestClock(),
	}

	pipe, err := NewBuilder().
		WithConfig(cfg).
		WithPrincipalStore(env.principals).
		WithSecretStore(env.secrets).
		WithMailer(env.mailer).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(pipe.Close)

	env.pipe = pipe
	return env
}

// addUser registers a principal with a hashed password and returns it.
func (e *testEnv) addUser(t *testing.T, id, login, email, pass string) *Principal {
	t.Helper()

	hash, err := e.pipe.hasher.Hash(pass)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	p := &Principal{ID: id, LoginName: login, Email: email, PasswordHash: hash}
	e.principals.add(p)
	return p
}

// confirmSecret installs a confirmed authenticator secret directly.
func (e *testEnv) confirmSecret(t *testing.T, principalID string) string {
	t.Helper()

	_, secret, err := e.pipe.totp.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if _, err := e.secrets.SetConfirmedSecretIfAbsent(context.Background(), principalID, secret); err != nil {
		t.Fatalf("SetConfirmedSecretIfAbsent failed: %v", err)
	}
	return secret
}

// totpCode computes a currently valid code for the given secret.
func (e *testEnv) totpCode(t *testing.T, secret string) string {
	t.Helper()

	raw, err := b32.DecodeString(secret)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	counter := e.clock.Now().Unix() / int64(e.pipe.cfg.TOTP.Period)
	code, err := hotpCode(raw, counter, e.pipe.cfg.TOTP.Digits, e.pipe.cfg.TOTP.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	return code
}
