package domain

import "strings"

// DegradationPolicyMode enumerates how a component behaves when the shared store is unreachable.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient fails open: the request proceeds as if the store had answered "allowed".
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict fails closed: the request is rejected with ErrStoreUnavailable.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// DegradationReason captures the context for which a fallback decision is evaluated.
type DegradationReason string

const (
	// DegradationReasonRevocationLookup denotes a failed revocation existence check.
	DegradationReasonRevocationLookup DegradationReason = "revocation_lookup"
	// DegradationReasonRateLimitConsume denotes a failed tier consumption.
	DegradationReasonRateLimitConsume DegradationReason = "rate_limit_consume"
	// DegradationReasonRefreshConsume denotes a failed single-use mark on a refresh token.
	DegradationReasonRefreshConsume DegradationReason = "refresh_consume"
)

// DegradationPolicy centralises how a component responds when store data cannot be confirmed.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy with the provided mode, defaulting to lenient when unspecified.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DegradationPolicyModeStrict), "fail-closed", "fail_closed":
		return DegradationPolicyModeStrict
	default:
		return DegradationPolicyModeLenient
	}
}

// IsKnownDegradationPolicy reports whether value is a spelling ParseDegradationPolicyMode
// recognises. Empty input is accepted and resolves to lenient.
func IsKnownDegradationPolicy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(DegradationPolicyModeStrict), "fail-closed", "fail_closed",
		string(DegradationPolicyModeLenient), "fail-open", "fail_open":
		return true
	default:
		return false
	}
}

// Mode returns the underlying policy mode.
func (p DegradationPolicy) Mode() DegradationPolicyMode {
	return p.mode
}

// IsStrict indicates whether the policy rejects degraded states.
func (p DegradationPolicy) IsStrict() bool {
	return p.mode == DegradationPolicyModeStrict
}

// IsLenient indicates whether the policy permits degraded states.
func (p DegradationPolicy) IsLenient() bool {
	return !p.IsStrict()
}

// AllowsFallback determines if the policy permits continuing when the supplied reason occurs.
// Consuming a refresh token is never allowed to fall back: a refresh that cannot be
// marked spent could be replayed.
func (p DegradationPolicy) AllowsFallback(reason DegradationReason) bool {
	if reason == DegradationReasonRefreshConsume {
		return false
	}
	return p.IsLenient()
}
