package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/marketplace-auth/internal/core/port"
)

const (
	defaultRevocationPrefix = "auth:revoked"
	sweepScanCount          = 200
)

// RevocationRepository records revoked tokens backed by Redis. Each entry
// stores the token expiry in unix seconds and carries a TTL that ends no later
// than that expiry.
type RevocationRepository struct {
	client red.UniversalClient
	prefix string
}

// NewRevocationRepository wires a Redis client into a revocation repository.
func NewRevocationRepository(client red.UniversalClient, keyPrefix string) *RevocationRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}

	return &RevocationRepository{client: client, prefix: prefix}
}

// MarkRevoked stores the key with SET NX and reports whether this call created it.
func (r *RevocationRepository) MarkRevoked(ctx context.Context, key string, expiresAt time.Time, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be positive")
	}

	storeKey := r.key(key)
	if storeKey == "" {
		return false, errors.New("revocation key must not be empty")
	}

	created, err := r.client.SetNX(ctx, storeKey, strconv.FormatInt(expiresAt.Unix(), 10), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis set revoked token: %w", err)
	}

	return created, nil
}

// IsRevoked reports whether the key is present.
func (r *RevocationRepository) IsRevoked(ctx context.Context, key string) (bool, error) {
	storeKey := r.key(key)
	if storeKey == "" {
		return false, errors.New("revocation key must not be empty")
	}

	n, err := r.client.Exists(ctx, storeKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists revoked token: %w", err)
	}

	return n > 0, nil
}

// SweepExpired walks revocation keys with SCAN, deleting entries whose stored
// expiry is not after now and restoring a TTL on entries that lost theirs.
func (r *RevocationRepository) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var (
		cursor  uint64
		removed int
		pattern = r.prefix + ":*"
	)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, sweepScanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan revoked tokens: %w", err)
		}

		for _, key := range keys {
			deleted, err := r.sweepKey(ctx, key, now)
			if err != nil {
				return removed, err
			}
			if deleted {
				removed++
			}
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (r *RevocationRepository) sweepKey(ctx context.Context, key string, now time.Time) (bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get revoked token: %w", err)
	}

	expiresAt, parseErr := strconv.ParseInt(value, 10, 64)
	if parseErr == nil && expiresAt > now.Unix() {
		ttl, err := r.client.PTTL(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("redis pttl revoked token: %w", err)
		}
		if ttl == -1 {
			if err := r.client.ExpireAt(ctx, key, time.Unix(expiresAt, 0)).Err(); err != nil {
				return false, fmt.Errorf("redis expireat revoked token: %w", err)
			}
		}
		return false, nil
	}

	if parseErr != nil {
		// Entries without a readable expiry are only dropped once the store
		// itself can no longer expire them.
		ttl, err := r.client.PTTL(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("redis pttl revoked token: %w", err)
		}
		if ttl != -1 {
			return false, nil
		}
	}

	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete revoked token: %w", err)
	}
	return n > 0, nil
}

func (r *RevocationRepository) key(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}

var _ port.RevocationStore = (*RevocationRepository)(nil)
