package resilience

import (
	"time"
)

// Policy is the operator-tunable part of the guards. Zero fields keep the
// defaults.
type Policy struct {
	RetryAttempts    int
	BreakerThreshold int
	BreakerReset     time.Duration
	CallTimeout      time.Duration
}

// Retry returns the retry configuration for p.
func (p Policy) Retry() RetryConfig {
	cfg := DefaultRetryConfig()
	if p.RetryAttempts > 0 {
		cfg.MaxAttempts = p.RetryAttempts
	}
	return cfg
}

// Circuit returns the breaker configuration for p.
func (p Policy) Circuit() CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if p.BreakerThreshold > 0 {
		cfg.FailureThreshold = p.BreakerThreshold
	}
	if p.BreakerReset > 0 {
		cfg.ResetTimeout = p.BreakerReset
	}
	return cfg
}

// Guards builds the guards for p over limiters.
func (p Policy) Guards(limiters *Limiters) *Guards {
	return NewGuards(limiters, p.Retry(), p.Circuit(), p.CallTimeout)
}

// MergeRates overlays operator settings on the configured per-provider
// limits.
func MergeRates(configured, settings map[string]int) map[string]int {
	out := make(map[string]int, len(configured)+len(settings))
	for k, v := range configured {
		out[k] = v
	}
	for k, v := range settings {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}
