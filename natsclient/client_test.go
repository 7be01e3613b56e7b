package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "disconnected"},
		{StatusConnecting, "connecting"},
		{StatusConnected, "connected"},
		{StatusReconnecting, "reconnecting"},
		{StatusCircuitOpen, "circuit_open"},
		{ConnectionStatus(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, errors.IsTransient(err))
}

func TestCircuitBreaker_CustomThreshold(t *testing.T) {
	client, err := NewClient("nats://invalid:4222", WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	client.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, client.Status())
	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithMaxBackoff(8*time.Second))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	for i := 0; i < 50; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 8*time.Second, client.Backoff())
}

func TestCircuitBreaker_ConcurrentFailures(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.recordFailure()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), client.Failures())
	assert.Equal(t, StatusCircuitOpen, client.Status())
}

func TestCircuitBreaker_Metrics(t *testing.T) {
	metrics := metric.NewMetrics()
	client, err := NewClient("nats://localhost:4222", WithMetrics(metrics))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NATSCircuitBreaker))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.NATSConnected))

	client.resetCircuit()
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.NATSCircuitBreaker))
}

func TestConnect_Unreachable(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1", WithTimeout(500*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int32(1), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestNotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	err = client.Publish(ctx, "barnowl.visibility", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, errors.ErrNoConnection)
	assert.True(t, errors.IsTransient(err))

	err = client.PutKV(ctx, "barnowl_topology", "test", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)

	status := client.GetStatus()
	assert.Equal(t, StatusDisconnected, status.Status)
	assert.Zero(t, status.RTT)
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = client.WaitForConnection(ctx)
	assert.ErrorIs(t, err, ErrConnectionTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCredentials("owl", "hunter2"), WithToken("s3cret"))
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))

	assert.Empty(t, client.password)
	assert.Empty(t, client.token)

	err = client.Connect(context.Background())
	assert.True(t, errors.IsInvalid(err))
}

func TestConnectionOptions(t *testing.T) {
	withAuth, err := NewClient("nats://localhost:4222",
		WithCredentials("owl", "hunter2"),
		WithName("barnowl"),
	)
	require.NoError(t, err)

	plain, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Len(t, withAuth.buildConnectionOptions(), len(plain.buildConnectionOptions())+2)
}

func TestTimingOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithPingInterval(10*time.Second),
		WithDrainTimeout(2*time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, client.pingInterval)
	assert.Equal(t, 2*time.Second, client.drainTimeout)

	defaults, err := NewClient("nats://localhost:4222", WithPingInterval(0), WithDrainTimeout(0))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, defaults.pingInterval)
	assert.Equal(t, 30*time.Second, defaults.drainTimeout)
}

func TestConnectionCallbacks(t *testing.T) {
	metrics := metric.NewMetrics()
	healthy := make(chan bool, 4)
	reconnected := make(chan struct{}, 1)

	client, err := NewClient("nats://localhost:4222",
		WithMetrics(metrics),
		WithHealthChangeCallback(func(h bool) { healthy <- h }),
		WithReconnectCallback(func() { reconnected <- struct{}{} }),
	)
	require.NoError(t, err)

	client.handleDisconnect(nil, stringError("connection reset"))
	assert.Equal(t, StatusReconnecting, client.Status())
	assert.False(t, receive(t, healthy))

	client.handleReconnect(nil)
	assert.Equal(t, StatusConnected, client.Status())
	assert.True(t, receive(t, healthy))
	select {
	case <-reconnected:
	case <-time.After(time.Second):
		t.Fatal("reconnect callback not called")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NATSReconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NATSConnected))
}

func receive(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("callback not called")
		return false
	}
}

func TestKVStore_ValueTooLarge(t *testing.T) {
	kv := newKVStore(nil, slog.Default())
	_, err := kv.Put(context.Background(), "udp-10_0_0_5", make([]byte, kvMaxValueSize+1))
	assert.ErrorIs(t, err, ErrKVValueTooLarge)
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.False(t, isAlreadyExistsError(errors.ErrInvalidData))
	assert.True(t, isAlreadyExistsError(stringError("nats: stream name already in use")))
	assert.True(t, isAlreadyExistsError(stringError("bucket name already in use")))
}

type stringError string

func (e stringError) Error() string { return string(e) }
