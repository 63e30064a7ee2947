package questflow

import "time"

// SaveRetry builds the RetryPolicy a Runner applies when a session write
// fails with a transient storage error, such as a network blip on Redis or a
// busy SQLite file. Quota failures are not retried through it; the store
// evicts other sessions and tries once more instead.
//
//	cfg.Retry = questflow.RetrySaves(3).Backoff(200*time.Millisecond, 2*time.Second).Policy()
type SaveRetry struct {
	policy RetryPolicy
}

// DefaultSaveRetry tries a write three times, waiting 200ms and then 400ms.
var DefaultSaveRetry = RetrySaves(3).Backoff(200*time.Millisecond, 2*time.Second)

// RetrySaves allows up to attempts writes per save, counting the first.
// Values below 1 mean a single attempt.
func RetrySaves(attempts int) SaveRetry {
	return SaveRetry{policy: RetryPolicy{MaxAttempts: max(attempts, 1)}}
}

// Backoff doubles the wait after every failed write, starting at first and
// never exceeding limit. A non-positive limit leaves the wait uncapped.
func (s SaveRetry) Backoff(first, limit time.Duration) SaveRetry {
	s.policy.InitialBackoff = first
	s.policy.MaxBackoff = max(limit, 0)
	s.policy.BackoffMultiplier = 2
	return s
}

// Growing changes the factor Backoff grows the wait by. Factors below 1
// keep the default of 2.
func (s SaveRetry) Growing(factor float64) SaveRetry {
	if factor >= 1 {
		s.policy.BackoffMultiplier = factor
	}
	return s
}

// Every waits the same delay between all attempts.
func (s SaveRetry) Every(delay time.Duration) SaveRetry {
	s.policy.InitialBackoff = delay
	s.policy.MaxBackoff = 0
	s.policy.BackoffMultiplier = 1
	return s
}

// NoWait retries at once. Attempts are still bounded.
func (s SaveRetry) NoWait() SaveRetry {
	s.policy.InitialBackoff = 0
	s.policy.MaxBackoff = 0
	s.policy.BackoffMultiplier = 0
	return s
}

// Policy returns the policy for RunnerConfig.Retry.
func (s SaveRetry) Policy() RetryPolicy {
	return s.policy
}
