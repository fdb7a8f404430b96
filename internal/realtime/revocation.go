package realtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const revocationKeyPrefix = "auth:revoked:"

// RevocationStore answers whether a credential has been revoked.
type RevocationStore interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token string, ttl time.Duration) error
}

// RedisRevocationStore keys revoked credentials by token digest so raw
// tokens never land in Redis.
type RedisRevocationStore struct {
	client *goredis.Client
}

func NewRedisRevocationStore(client *goredis.Client) (*RedisRevocationStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisRevocationStore{client: client}, nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, token string) (bool, error) {
	count, err := s.client.Exists(ctx, revocationKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return count > 0, nil
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, revocationKey(token), 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func revocationKey(token string) string {
	digest := sha256.Sum256([]byte(token))
	return revocationKeyPrefix + hex.EncodeToString(digest[:])
}
