// Package natsclient provides a NATS client with circuit breaker protection,
// automatic reconnection and JetStream Key-Value access for the gateway's
// NATS output.
//
// # Core Features
//
// Circuit Breaker Pattern: after a threshold of consecutive connection
// failures (default: 5) the circuit opens and Connect fails fast with
// ErrCircuitOpen. After the current backoff the circuit half-opens so the
// next Connect is attempted. Backoff doubles per round up to WithMaxBackoff.
//
// Connection Lifecycle Management: Disconnected → Connecting → Connected →
// Reconnecting → Connected. Transitions are reported to the optional
// callbacks and, with WithMetrics, to the barnowl_nats_* gauges.
//
// Key-Value Snapshots: KVStore wraps a JetStream bucket with per-operation
// timeouts. PutKV creates the bucket on first use, which is how reel
// topology snapshots are stored per origin.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry.CoreMetrics()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	err = client.Publish(ctx, "barnowl.visibility", data)
//	err = client.PutKV(ctx, "barnowl_topology", "udp-10_0_0_5_50000", snapshot)
//
// # Error Handling
//
// ErrNotConnected wraps errors.ErrNoConnection and ErrCircuitOpen is
// errors.ErrCircuitOpen, so both classify as transient:
//
//	if err := client.Publish(ctx, subject, data); errors.IsTransient(err) {
//	    // drop or retry later
//	}
//
// # Testing
//
// Integration tests run against a NATS container started with
// testcontainers-go. They carry the integration build tag:
//
//	go test -tags integration ./natsclient/...
package natsclient
