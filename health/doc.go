// Package health classifies component health and exposes it to probes.
//
// A Checker reports a Result whose Status is one of Healthy, Warning or
// Critical. Remote functions are bucketed by Thresholds, which compare the
// observed error rate and mean latency against configurable limits:
//
//	t := health.DefaultThresholds()
//	status := t.Classify(12.5, 3*time.Second) // warning
//
// # Aggregating Health Checks
//
// Aggregator runs every registered checker under one deadline and
// OverallStatus reduces the results to the most severe status:
//
//	agg := health.NewAggregator()
//	agg.Register(executor.Checker())
//	agg.Register(queue.Checker())
//
//	results := agg.CheckAll(ctx)
//	overall := health.OverallStatus(results)
//
// # HTTP Endpoints
//
//	http.Handle("/healthz", health.LivenessHandler())
//	http.Handle("/readyz", health.ReadinessHandler(agg))
//	http.Handle("/health", health.DetailedHandler(agg))
//
// Readiness returns 503 only when some check is critical.
package health
