package domain

import "time"

// Tier names used for login throttling.
const (
	TierAddress  = "ip"
	TierIdentity = "identity"
	TierCombined = "combined"
	TierRefresh  = "refresh"
)

// RateLimitTier is an independent quota/window/lockout scope.
type RateLimitTier struct {
	Name string
	// Points is the number of consumptions allowed per window.
	Points int
	// Duration is the fixed window length.
	Duration time.Duration
	// BlockDuration is the lockout applied once Points is exceeded. Zero means
	// the tier only rejects until the window rolls over.
	BlockDuration time.Duration
	// ExecEvenly delays allowed consumptions to spread a burst across the window.
	ExecEvenly bool
	Policy     DegradationPolicy
}

// Enabled reports whether the tier has a usable quota and window.
func (t RateLimitTier) Enabled() bool {
	return t.Points > 0 && t.Duration > 0
}

// RateLimitDecision is the outcome of consuming a point from a tier.
type RateLimitDecision struct {
	Allowed bool
	// Consumed is the counter value after this attempt (0 when rejected by an active block).
	Consumed int
	// Remaining is how many points are left in the window.
	Remaining int
	// RetryAfter is the time until the next point is available when rejected,
	// and the time until the window resets when allowed.
	RetryAfter time.Duration
}
