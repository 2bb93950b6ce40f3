package api

import "time"

// RetryPolicy controls how an activity call is retried and bounded.
// MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// InitialBackoff is the delay before the first retry. Each following delay is
// multiplied by BackoffMultiplier (2.0 when <= 0) and capped at MaxBackoff
// when MaxBackoff > 0. StartToCloseTimeout bounds every single attempt.
type RetryPolicy struct {
	MaxAttempts         int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	BackoffMultiplier   float64
	StartToCloseTimeout time.Duration
}

// Attempts returns the effective attempt bound (at least 1).
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the backoff to sleep after failed attempt n (1-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.InitialBackoff <= 0 || attempt < 1 {
		return 0
	}
	multiplier := p.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= multiplier
		if p.MaxBackoff > 0 && d >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && time.Duration(d) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// DefaultRetryPolicy applies to activities without an entry in a PolicyTable.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:         3,
	InitialBackoff:      time.Second,
	MaxBackoff:          30 * time.Second,
	BackoffMultiplier:   2.0,
	StartToCloseTimeout: 5 * time.Minute,
}

// PolicyTable maps activity names to their retry policy. It replaces
// per-call-site retry parameters: the executor looks up every call here.
type PolicyTable struct {
	Default  RetryPolicy
	Policies map[string]RetryPolicy
}

// For returns the policy for activity, falling back to Default and then to
// DefaultRetryPolicy.
func (t PolicyTable) For(activity string) RetryPolicy {
	if p, ok := t.Policies[activity]; ok {
		return p
	}
	if t.Default.MaxAttempts > 0 {
		return t.Default
	}
	return DefaultRetryPolicy
}
