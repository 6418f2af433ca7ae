package authchain

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/EkilDavi/authchain/internal"
)

// GenerateBackupCodes provisions the initial backup code set for a
// principal with a confirmed authenticator secret. The plaintext codes are
// returned exactly once, dash-grouped for display; only their hashes are
// stored. [ErrBackupCodesExist] is returned when a set already exists;
// replacing it requires [Pipeline.RegenerateBackupCodes].
func (p *Pipeline) GenerateBackupCodes(ctx context.Context, principalID string) ([]string, error) {
	secret, err := p.confirmedSecret(ctx, principalID)
	if err != nil {
		return nil, err
	}

	existing, err := p.secrets.ListBackupCodeHashes(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretStoreUnavailable, err)
	}
	if len(existing) > 0 {
		return nil, ErrBackupCodesExist
	}

	return p.replaceBackupCodes(ctx, principalID, secret)
}

// RegenerateBackupCodes replaces the backup code set, invalidating every
// remaining code. It demands a live authenticator code so a stolen backup
// code cannot be parlayed into a fresh set.
func (p *Pipeline) RegenerateBackupCodes(ctx context.Context, principalID, authenticatorCode string) ([]string, error) {
	secret, err := p.confirmedSecret(ctx, principalID)
	if err != nil {
		return nil, err
	}

	ok, err := p.totp.VerifyBase32(secret, authenticatorCode, p.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAuthenticatorCodeInvalid
	}

	codes, err := p.replaceBackupCodes(ctx, principalID, secret)
	if err != nil {
		return nil, err
	}
	p.metrics.Inc(MetricBackupCodeRegenerated)
	p.emit(ctx, nil, AuditBackupCodesReset, StepAuthenticatorCode, true, "")
	return codes, nil
}

func (p *Pipeline) confirmedSecret(ctx context.Context, principalID string) (string, error) {
	secret, err := p.secrets.GetConfirmedSecret(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return "", ErrAuthenticatorNotConfigured
		}
		return "", fmt.Errorf("%w: %v", ErrSecretStoreUnavailable, err)
	}
	return secret, nil
}

func (p *Pipeline) replaceBackupCodes(ctx context.Context, principalID, secret string) ([]string, error) {
	count := p.cfg.TOTP.BackupCodeCount
	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)

	for i := 0; i < count; i++ {
		code, err := newBackupCode(p.cfg.TOTP.BackupCodeLength)
		if err != nil {
			return nil, err
		}
		codes = append(codes, formatBackupCode(code))
		hashes = append(hashes, backupCodeHash(secret, code))
	}

	if err := p.secrets.ReplaceBackupCodes(ctx, principalID, hashes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretStoreUnavailable, err)
	}
	return codes, nil
}

// canonicalizeCode strips separators and whitespace and uppercases,
// so "abcd-efgh" and "ABCDEFGH" hash identically.
func canonicalizeCode(code string) string {
	return strings.ToUpper(stripCodeSeparators(code))
}

// stripCodeSeparators removes the display grouping without case folding.
func stripCodeSeparators(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if r == '-' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// backupCodeHash derives the stored form of a backup code: HMAC-SHA256
// keyed by the principal's confirmed authenticator secret over the
// canonical plaintext. Hashes from different principals never collide on
// equal plaintexts, and a backup code is unusable without the secret it
// was provisioned under.
func backupCodeHash(secretBase32, canonicalCode string) [32]byte {
	mac := hmac.New(sha256.New, []byte(secretBase32))
	_, _ = mac.Write([]byte(canonicalCode))

	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

func newBackupCode(length int) (string, error) {
	return internal.NewCode(length)
}

// formatBackupCode renders a canonical code for one-time display,
// dash-grouped every four characters.
func formatBackupCode(code string) string {
	return internal.FormatGroups(code, 4)
}
