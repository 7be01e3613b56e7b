package output_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelyactive/barnowl/output"
	"github.com/reelyactive/barnowl/pipeline"
	"github.com/reelyactive/barnowl/topology"
)

type capture struct {
	output.Encoder
	envelopes []*output.Envelope
}

func (c *capture) Name() string { return "capture" }

func newCapture(platform string) *capture {
	c := &capture{}
	c.Encoder = output.NewEncoder(platform, func(env *output.Envelope) error {
		c.envelopes = append(c.envelopes, env)
		return nil
	})
	return c
}

func TestEncoder_ImplementsSink(t *testing.T) {
	var _ pipeline.Sink = newCapture("")
}

func TestNewEnvelope(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.FixedZone("CET", 3600))
	a := output.NewEnvelope(output.TypeSensor, ts, map[string]int{"n": 1})
	b := output.NewEnvelope(output.TypeSensor, ts, nil)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "2026-03-01T11:00:00.500Z", a.Timestamp)

	data, err := a.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "sensor", decoded["type"])
	assert.NotContains(t, decoded, "platform")
	assert.Equal(t, map[string]any{"n": 1.0}, decoded["data"])
}

func TestEncoder_TypesAndTimestamps(t *testing.T) {
	c := newCapture("gw-1")
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.HandleVisibility(&pipeline.Visibility{Timestamp: ts}))
	require.NoError(t, c.HandleSensor(&pipeline.SensorReading{Timestamp: ts}))
	require.NoError(t, c.HandleStatistics(&topology.Telemetry{Timestamp: ts}))
	require.NoError(t, c.HandleTopology(&topology.Change{Current: topology.Snapshot{Updated: ts}}))

	require.Len(t, c.envelopes, 4)
	for i, typ := range output.Types {
		env := c.envelopes[i]
		assert.Equal(t, typ, env.Type)
		assert.Equal(t, "gw-1", env.Platform)
		assert.Equal(t, "2026-03-01T12:00:00.000Z", env.Timestamp)
	}
}

func TestEncoder_ZeroTimestampUsesNow(t *testing.T) {
	c := newCapture("")
	before := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, c.HandleSensor(&pipeline.SensorReading{}))
	require.Len(t, c.envelopes, 1)

	got, err := time.Parse("2006-01-02T15:04:05.000Z07:00", c.envelopes[0].Timestamp)
	require.NoError(t, err)
	assert.False(t, got.Before(before))
}
