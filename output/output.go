// Package output holds what the event sinks share: the JSON envelope every
// event is published in and an Encoder that turns pipeline events into
// envelopes.
package output

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/reelyactive/barnowl/pipeline"
	"github.com/reelyactive/barnowl/pkg/timestamp"
	"github.com/reelyactive/barnowl/topology"
)

// Event types carried in Envelope.Type
const (
	TypeVisibility = "visibility"
	TypeSensor     = "sensor"
	TypeStatistics = "statistics"
	TypeTopology   = "topology"
)

// Types lists every envelope type
var Types = []string{TypeVisibility, TypeSensor, TypeStatistics, TypeTopology}

// Envelope wraps one gateway event for publication
type Envelope struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Platform  string `json:"platform,omitempty"`
	Data      any    `json:"data"`
}

// NewEnvelope wraps data with a fresh ID. A zero ts is rendered empty.
func NewEnvelope(typ string, ts time.Time, data any) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: timestamp.Format(ts),
		Data:      data,
	}
}

// Marshal renders the envelope as compact JSON
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// PublishFunc delivers one envelope
type PublishFunc func(*Envelope) error

// Encoder implements the event half of pipeline.Sink by wrapping each event
// in an Envelope and handing it to a PublishFunc. Sinks embed it and supply
// Name.
type Encoder struct {
	publish  PublishFunc
	platform string
	now      func() time.Time
}

// NewEncoder creates an encoder stamping envelopes with platform
func NewEncoder(platform string, publish PublishFunc) Encoder {
	return Encoder{publish: publish, platform: platform, now: time.Now}
}

func (e Encoder) emit(typ string, ts time.Time, data any) error {
	env := NewEnvelope(typ, timestamp.OrNow(ts, e.now()), data)
	env.Platform = e.platform
	return e.publish(env)
}

// HandleVisibility implements pipeline.Sink
func (e Encoder) HandleVisibility(v *pipeline.Visibility) error {
	return e.emit(TypeVisibility, v.Timestamp, v)
}

// HandleSensor implements pipeline.Sink
func (e Encoder) HandleSensor(s *pipeline.SensorReading) error {
	return e.emit(TypeSensor, s.Timestamp, s)
}

// HandleStatistics implements pipeline.Sink
func (e Encoder) HandleStatistics(t *topology.Telemetry) error {
	return e.emit(TypeStatistics, t.Timestamp, t)
}

// HandleTopology implements pipeline.Sink
func (e Encoder) HandleTopology(c *topology.Change) error {
	return e.emit(TypeTopology, c.Current.Updated, c)
}
