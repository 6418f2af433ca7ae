package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/EkilDavi/authchain"
)

// RedisSecrets is a Redis-backed SecretStore. Confirmed secrets live under
// plain string keys written with SETNX, which makes the confirmation
// check-and-set atomic across processes; backup code hashes live in a set
// per principal, and SREM's reply arbitrates concurrent consumption of the
// same code.
type RedisSecrets struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisSecrets(client redis.UniversalClient, prefix string) *RedisSecrets {
	if prefix == "" {
		prefix = "acs"
	}
	return &RedisSecrets{
		redis:  client,
		prefix: prefix,
	}
}

func (s *RedisSecrets) secretKey(principalID string) string {
	return s.prefix + ":secret:" + principalID
}

func (s *RedisSecrets) backupKey(principalID string) string {
	return s.prefix + ":backup:" + principalID
}

func (s *RedisSecrets) GetConfirmedSecret(ctx context.Context, principalID string) (string, error) {
	secret, err := s.redis.Get(ctx, s.secretKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", authchain.ErrSecretNotFound
		}
		return "", fmt.Errorf("%w: %v", authchain.ErrSecretStoreUnavailable, err)
	}
	return secret, nil
}

func (s *RedisSecrets) SetConfirmedSecretIfAbsent(ctx context.Context, principalID, secret string) (bool, error) {
	won, err := s.redis.SetNX(ctx, s.secretKey(principalID), secret, 0).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", authchain.ErrSecretStoreUnavailable, err)
	}
	return won, nil
}

// RemoveConfirmedSecret deletes the secret and any backup codes, undoing
// an enrollment.
func (s *RedisSecrets) RemoveConfirmedSecret(ctx context.Context, principalID string) error {
	if err := s.redis.Del(ctx, s.secretKey(principalID), s.backupKey(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", authchain.ErrSecretStoreUnavailable, err)
	}
	return nil
}

func (s *RedisSecrets) ListBackupCodeHashes(ctx context.Context, principalID string) ([][32]byte, error) {
	members, err := s.redis.SMembers(ctx, s.backupKey(principalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", authchain.ErrSecretStoreUnavailable, err)
	}

	hashes := make([][32]byte, 0, len(members))
	for _, member := range members {
		decoded, err := hex.DecodeString(member)
		if err != nil || len(decoded) != 32 {
			continue
		}
		var h [32]byte
		copy(h[:], decoded)
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func (s *RedisSecrets) ReplaceBackupCodes(ctx context.Context, principalID string, hashes [][32]byte) error {
	key := s.backupKey(principalID)

	members := make([]interface{}, 0, len(hashes))
	for _, h := range hashes {
		members = append(members, hex.EncodeToString(h[:]))
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.SAdd(ctx, key, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", authchain.ErrSecretStoreUnavailable, err)
	}
	return nil
}

func (s *RedisSecrets) InvalidateBackupCode(ctx context.Context, principalID string, hash [32]byte) (bool, error) {
	removed, err := s.redis.SRem(ctx, s.backupKey(principalID), hex.EncodeToString(hash[:])).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", authchain.ErrSecretStoreUnavailable, err)
	}
	return removed > 0, nil
}
