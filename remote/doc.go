// Package remote performs resilient calls to named remote functions such as
// story generation, text-to-speech and workflow webhooks.
//
// An Executor gates each call on the function's circuit breaker, bounds every
// attempt with a timeout and retries transient failures on an escalating
// schedule. Each Execute produces exactly one RemoteCall record and one
// FunctionStats update regardless of how many attempts it took. Calls rejected
// by an open breaker are not recorded.
//
// # Usage
//
//	ex := remote.NewExecutor(transport, remote.Config{MaxRetries: 3})
//	story, err := remote.Call[Story](ctx, ex, "generate-story", req)
//	if remote.IsCircuitOpen(err) {
//		// back off on this function
//	}
//
// # Health
//
// Stats, AllStats and HealthReport classify each function against
// health.Thresholds. Checker plugs the report into a health.Aggregator.
package remote
