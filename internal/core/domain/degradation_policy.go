package domain

import "strings"

// DegradationPolicyMode enumerates how rate limiting behaves when its counter store cannot be reached.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeStrict rejects attempts whenever the counter store cannot confirm the count.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
	// DegradationPolicyModeLenient lets attempts through when the counter store is unavailable.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
)

// DegradationPolicy centralises the fallback decision for store outages on non-session paths.
// Session verification ignores it and always fails closed.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy with the provided mode, defaulting to strict when unspecified.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeLenient {
		mode = DegradationPolicyModeStrict
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DegradationPolicyModeLenient):
		return DegradationPolicyModeLenient
	default:
		return DegradationPolicyModeStrict
	}
}

// Mode returns the underlying policy mode.
func (p DegradationPolicy) Mode() DegradationPolicyMode {
	if p.mode == "" {
		return DegradationPolicyModeStrict
	}
	return p.mode
}

// AllowsFallback reports whether an attempt may proceed without a store-confirmed count.
func (p DegradationPolicy) AllowsFallback() bool {
	return p.mode == DegradationPolicyModeLenient
}
