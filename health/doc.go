// Package health aggregates component health for the gateway's /health
// endpoint.
//
// Components report a component.HealthStatus. FromComponentHealth turns it
// into a Status, stripping paths, URLs, addresses and credentials from the
// last error so nothing sensitive leaks through the endpoint. A Monitor
// holds the latest Status per component and Aggregate folds them:
//
//   - all healthy → healthy
//   - any unhealthy → unhealthy
//   - otherwise any degraded → degraded
//
// A Checker ties this to a component.Registry. It polls on an interval,
// records barnowl_health_status{component} and serves the aggregate:
//
//	checker := health.NewChecker("barnowl", registry, health.WithMetrics(core))
//	go checker.Run(ctx)
//	server := metric.NewServer(9090, "/metrics", metrics, metric.WithHealthHandler(checker))
package health
