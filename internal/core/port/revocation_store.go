package port

import (
	"context"
	"time"
)

// RevocationStore records tokens that must no longer be honored.
type RevocationStore interface {
	// MarkRevoked writes key with the given TTL unless it is already present.
	// It reports whether this call created the entry.
	MarkRevoked(ctx context.Context, key string, expiresAt time.Time, ttl time.Duration) (bool, error)
	IsRevoked(ctx context.Context, key string) (bool, error)
	// SweepExpired removes entries whose recorded expiry is not after now.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
