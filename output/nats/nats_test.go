package nats_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/metric"
	"github.com/reelyactive/barnowl/output"
	natsout "github.com/reelyactive/barnowl/output/nats"
	"github.com/reelyactive/barnowl/pipeline"
	"github.com/reelyactive/barnowl/topology"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	kv       map[string][]byte
	err      error
	healthy  bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{kv: make(map[string][]byte), healthy: true}
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{subject: subject, data: data})
	return nil
}

func (f *fakePublisher) PutKV(_ context.Context, bucket, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.kv[bucket+"/"+key] = value
	return nil
}

func (f *fakePublisher) IsHealthy() bool { return f.healthy }

func (f *fakePublisher) sent() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

func newOutput(t *testing.T, pub natsout.Publisher, registry *metric.MetricsRegistry) *natsout.Output {
	t.Helper()
	deps := component.Dependencies{Platform: component.PlatformMeta{ID: "gw-1"}}
	if registry != nil {
		deps.MetricsRegistry = registry
	}
	out, err := natsout.New(natsout.Config{}, pub, deps)
	require.NoError(t, err)
	return out
}

func TestNew_RequiresPublisher(t *testing.T) {
	_, err := natsout.New(natsout.Config{}, nil, component.Dependencies{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
	assert.True(t, errors.IsInvalid(err))
}

func TestOutput_ImplementsSink(t *testing.T) {
	var _ pipeline.Sink = (*natsout.Output)(nil)
	var _ component.LifecycleComponent = (*natsout.Output)(nil)
}

func TestOutput_PublishesVisibility(t *testing.T) {
	pub := newFakePublisher()
	out := newOutput(t, pub, nil)
	require.NoError(t, out.Start(context.Background()))
	defer out.Stop(time.Second)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, out.HandleVisibility(&pipeline.Visibility{Timestamp: ts}))

	sent := pub.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "barnowl.visibility", sent[0].subject)
	assert.Equal(t, "barnowl.visibility", out.Subject(output.TypeVisibility))

	var env map[string]any
	require.NoError(t, json.Unmarshal(sent[0].data, &env))
	assert.Equal(t, "visibility", env["type"])
	assert.Equal(t, "gw-1", env["platform"])
	assert.Equal(t, "2026-03-01T12:00:00.000Z", env["timestamp"])
	assert.NotEmpty(t, env["id"])

	assert.True(t, out.Health().Healthy)
	assert.False(t, out.DataFlow().LastActivity.IsZero())
}

func TestOutput_CustomPrefix(t *testing.T) {
	pub := newFakePublisher()
	out, err := natsout.New(natsout.Config{SubjectPrefix: "site.a"}, pub, component.Dependencies{})
	require.NoError(t, err)

	require.NoError(t, out.HandleSensor(&pipeline.SensorReading{}))
	require.Len(t, pub.sent(), 1)
	assert.Equal(t, "site.a.sensor", pub.sent()[0].subject)
}

func TestOutput_TopologyStoresSnapshot(t *testing.T) {
	pub := newFakePublisher()
	out := newOutput(t, pub, nil)

	change := &topology.Change{
		Origin: "10.0.0.5:50000",
		Current: topology.Snapshot{
			Origin:  "10.0.0.5:50000",
			Updated: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, out.HandleTopology(change))

	sent := pub.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "barnowl.topology", sent[0].subject)

	value, ok := pub.kv[natsout.DefaultTopologyBucket+"/10_0_0_5_50000"]
	require.True(t, ok)
	var snap map[string]any
	require.NoError(t, json.Unmarshal(value, &snap))
	assert.Equal(t, "10.0.0.5:50000", snap["origin"])
}

func TestOutput_StoreSnapshotsAfterOutage(t *testing.T) {
	pub := newFakePublisher()
	pub.err = errors.WrapTransient(errors.ErrNoConnection, "client", "PutKV", "check connection")
	out := newOutput(t, pub, nil)

	snapshots := []topology.Snapshot{{Origin: "serial"}, {Origin: "10.0.0.5:50000"}}
	require.NoError(t, out.StoreSnapshots(snapshots), "transient failures are dropped")
	assert.Empty(t, pub.kv)

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()

	require.NoError(t, out.StoreSnapshots(snapshots))
	assert.Contains(t, pub.kv, natsout.DefaultTopologyBucket+"/serial")
	assert.Contains(t, pub.kv, natsout.DefaultTopologyBucket+"/10_0_0_5_50000")
	assert.Empty(t, pub.sent(), "snapshots are stored, not published")
}

func TestOutput_DropsWhileDisconnected(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pub := newFakePublisher()
	pub.err = errors.WrapTransient(errors.ErrNoConnection, "client", "Publish", "check connection")
	pub.healthy = false
	out := newOutput(t, pub, registry)
	require.NoError(t, out.Start(context.Background()))
	defer out.Stop(time.Second)

	for i := 0; i < 3; i++ {
		assert.NoError(t, out.HandleStatistics(&topology.Telemetry{Origin: "serial"}))
	}
	assert.Empty(t, pub.sent())
	assert.False(t, out.Health().Healthy)
	assert.Equal(t, 3, out.Health().ErrorCount)
}

func TestOutput_PermanentErrorReturned(t *testing.T) {
	pub := newFakePublisher()
	pub.err = fmt.Errorf("%w: subject", errors.ErrInvalidConfig)
	out := newOutput(t, pub, nil)

	err := out.HandleVisibility(&pipeline.Visibility{})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestOutput_StartTwice(t *testing.T) {
	out := newOutput(t, newFakePublisher(), nil)
	require.NoError(t, out.Start(context.Background()))
	err := out.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
	require.NoError(t, out.Stop(time.Second))
	assert.False(t, out.Health().Healthy)
}

func TestOutput_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pub := newFakePublisher()
	out := newOutput(t, pub, registry)

	require.NoError(t, out.HandleVisibility(&pipeline.Visibility{}))
	require.NoError(t, out.HandleVisibility(&pipeline.Visibility{}))

	count, err := testutil.GatherAndCount(registry.PrometheusRegistry(), "barnowl_nats_output_published_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSnapshotKey(t *testing.T) {
	tests := []struct {
		origin string
		want   string
	}{
		{"10.0.0.5:50000", "10_0_0_5_50000"},
		{"/dev/ttyUSB0", "_dev_ttyUSB0"},
		{"hci-0", "hci-0"},
		{"test", "test"},
		{"", "_"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, natsout.SnapshotKey(tt.origin))
		})
	}
}
