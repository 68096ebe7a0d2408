// Package resilience provides the building blocks for calling unreliable
// remote functions.
//
// # Patterns
//
//   - Circuit Breaker: stops attempts against a function after repeated
//     failures and lets a single probe through once the open window elapses.
//     Breakers keeps one independent breaker per function name.
//
//   - Retry: retries transient failures on an escalating delay schedule
//     (1s, 2s, 4s by default) or a computed backoff.
//
//   - Timeout: bounds a single attempt; the in-flight call is abandoned via
//     context cancellation when the deadline elapses.
//
//   - Rate Limiter and Bulkhead: optional per-function guards on call rate
//     and in-flight concurrency.
//
// # Error taxonomy
//
// Failures are classified by Kind rather than by message text. Transports
// wrap caller-fault errors with Permanent so they are never retried:
//
//	if resp.StatusCode == http.StatusUnauthorized {
//	    return nil, resilience.Permanent(fmt.Errorf("tts: %s", resp.Status))
//	}
//
// IsRetryable, IsNonRetryable and KindOf inspect any wrapped error, and
// *CallError carries the final classification of a resilient call.
package resilience
