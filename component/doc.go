// Package component provides the shared component infrastructure for the
// gateway: discovery, lifecycle management and the dependency bundle handed
// to every listener, processor and output.
//
// # Overview
//
// Every long-running part of barnowl is a component. Listeners read raw
// reel bytes, the pipeline turns them into events, and outputs publish those
// events. Each reports what it is (Meta), whether it is working (Health) and
// how much is flowing through it (DataFlow) through the Discoverable
// interface, so the health endpoint and metrics can treat them uniformly.
//
// # Lifecycle
//
// Components that own goroutines implement LifecycleComponent:
//
//	Initialize() error                  // validate only, no I/O
//	Start(ctx context.Context) error    // acquire resources, launch goroutines
//	Stop(timeout time.Duration) error   // release resources, drain queues
//
// A Manager starts components in the order they were added and stops them
// in reverse. The gateway adds outputs first, then the pipeline, then the
// listeners, so nothing is produced before its consumer is running and every
// queue drains on shutdown.
//
// # Dependencies
//
// Dependencies carries the optional NATS client, the metrics registry, the
// logger and platform identity. Use Registrar when passing the metrics
// registry on as a metric.MetricsRegistrar; it returns an untyped nil when
// metrics are disabled.
//
// # Flow tracking
//
// FlowTracker is a lock-free set of counters that backs both HealthStatus
// and FlowMetrics:
//
//	type Input struct {
//		flow component.FlowTracker
//	}
//
//	func (i *Input) DataFlow() component.FlowMetrics {
//		return i.flow.Flow(time.Now())
//	}
package component
