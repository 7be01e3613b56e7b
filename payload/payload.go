// Package payload decodes transmitter payloads into semantic fields.
//
// A RadioSignal carries its transmitter only as raw payload bytes. The
// Processor picks a codec by payload length: 4 and 6 byte payloads are
// reelyActive tags, longer payloads are Bluetooth Low Energy advertising
// PDUs.
package payload

import (
	"fmt"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/identifier"
)

// Fields is the decoded content of a payload. Identifier is the
// transmitter's stable identity; the remaining fields are set only when the
// payload carries them.
type Fields struct {
	Identifier    identifier.Identifier `json:"identifier"`
	Flags         *Flags                `json:"flags,omitempty"`
	Sensor        *Sensor               `json:"sensor,omitempty"`
	Advertisement *Advertisement        `json:"advertisement,omitempty"`
}

// Flags are the status bits of a reelyActive tag
type Flags struct {
	TransmissionCount int `json:"transmission_count"`
}

// Sensor holds readings from a reelyActive sensor tag
type Sensor struct {
	Battery     float64 `json:"battery"`
	Temperature float64 `json:"temperature"`
}

// Codec decodes one family of payloads
type Codec interface {
	Decode(payload []byte) (*Fields, error)
}

// CodecFunc adapts a function to Codec
type CodecFunc func(payload []byte) (*Fields, error)

// Decode implements Codec
func (f CodecFunc) Decode(payload []byte) (*Fields, error) { return f(payload) }

// Known payload lengths
const (
	ReelyActiveLength       = 4
	ReelyActiveSensorLength = 6
	ReelyActiveBLELength    = 32
	IBeaconLength           = 38
)

// ReelyActiveName is reported for reelyActive BLE advertisements that omit
// a local name.
const ReelyActiveName = "reelyActive"

// Processor selects a codec by payload length. Lengths without a
// registered codec fall back to BLE when long enough to hold a header and
// advertiser address.
type Processor struct {
	byLength map[int]Codec
	fallback Codec
}

// NewProcessor returns a Processor with the reelyActive and BLE codecs
func NewProcessor() *Processor {
	ble := BLE{}
	return &Processor{
		byLength: map[int]Codec{
			ReelyActiveLength:       ReelyActive{},
			ReelyActiveSensorLength: ReelyActive{},
			ReelyActiveBLELength:    CodecFunc(reelyActiveAdvertisement),
			IBeaconLength:           ble,
		},
		fallback: ble,
	}
}

// Register installs a codec for a payload length, replacing any existing one
func (p *Processor) Register(length int, codec Codec) {
	p.byLength[length] = codec
}

// Decode implements Codec
func (p *Processor) Decode(payload []byte) (*Fields, error) {
	if codec, ok := p.byLength[len(payload)]; ok {
		return codec.Decode(payload)
	}
	if len(payload) >= bleMinLength {
		return p.fallback.Decode(payload)
	}
	return nil, errors.WrapInvalid(
		fmt.Errorf("%w: %d byte payload", errors.ErrUnknownPayload, len(payload)),
		"payload", "Decode", "select codec")
}

// DecodeIdentifier decodes a RadioPayload identifier
func (p *Processor) DecodeIdentifier(id identifier.Identifier) (*Fields, error) {
	if id.Type() != identifier.RadioPayload {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: expected %s identifier, got %s", errors.ErrInvalidData, identifier.RadioPayload, id.Type()),
			"payload", "DecodeIdentifier", "check identifier type")
	}
	return p.Decode(id.Bytes())
}

func reelyActiveAdvertisement(payload []byte) (*Fields, error) {
	fields, err := BLE{}.Decode(payload)
	if err != nil {
		return nil, err
	}
	if fields.Advertisement.Data.CompleteLocalName == "" {
		fields.Advertisement.Data.CompleteLocalName = ReelyActiveName
	}
	return fields, nil
}
