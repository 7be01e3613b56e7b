package pipeline

import (
	"encoding/hex"
	"time"

	"github.com/reelyactive/barnowl/identifier"
	"github.com/reelyactive/barnowl/payload"
	"github.com/reelyactive/barnowl/selector"
	"github.com/reelyactive/barnowl/topology"
)

// Visibility is the public event for one transmission: who transmitted,
// which receivers heard it and how strongly.
type Visibility struct {
	Transmitter identifier.Identifier `json:"transmitter"`
	Payload     string                `json:"payload,omitempty"`
	Fields      *payload.Fields       `json:"fields,omitempty"`
	Timestamp   time.Time             `json:"timestamp"`
	Decodings   []selector.Decoding   `json:"decodings"`
}

// SensorReading is emitted alongside the visibility event of a transmitter
// whose payload carries sensor data.
type SensorReading struct {
	Transmitter identifier.Identifier `json:"transmitter"`
	Battery     float64               `json:"battery"`
	Temperature float64               `json:"temperature"`
	Timestamp   time.Time             `json:"timestamp"`
}

// Sink consumes gateway output. The set of messages is closed; a sink
// interested in only some of them embeds NopSink. Methods may be called
// concurrently and should not block for long.
type Sink interface {
	Name() string
	HandleVisibility(*Visibility) error
	HandleSensor(*SensorReading) error
	HandleStatistics(*topology.Telemetry) error
	HandleTopology(*topology.Change) error
}

// NopSink implements every Sink method as a no-op except Name
type NopSink struct{}

// HandleVisibility implements Sink
func (NopSink) HandleVisibility(*Visibility) error { return nil }

// HandleSensor implements Sink
func (NopSink) HandleSensor(*SensorReading) error { return nil }

// HandleStatistics implements Sink
func (NopSink) HandleStatistics(*topology.Telemetry) error { return nil }

// HandleTopology implements Sink
func (NopSink) HandleTopology(*topology.Change) error { return nil }

// visibilityFrom builds the public event. A payload the codecs cannot
// decode keeps its raw identifier so the sighting is never dropped.
func visibilityFrom(e selector.Event, fields *payload.Fields) *Visibility {
	v := &Visibility{
		Transmitter: e.Transmitter,
		Payload:     hex.EncodeToString(e.Payload),
		Timestamp:   e.Timestamp,
		Decodings:   e.Decodings,
	}
	if fields != nil {
		v.Transmitter = fields.Identifier
		v.Fields = fields
	}
	return v
}

func sensorFrom(v *Visibility) *SensorReading {
	if v.Fields == nil || v.Fields.Sensor == nil {
		return nil
	}
	return &SensorReading{
		Transmitter: v.Transmitter,
		Battery:     v.Fields.Sensor.Battery,
		Temperature: v.Fields.Sensor.Temperature,
		Timestamp:   v.Timestamp,
	}
}
