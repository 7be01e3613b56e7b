package payload

import (
	"encoding/hex"
	"fmt"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/identifier"
)

// ReelyActive decodes 4 byte identity and 6 byte sensor payloads. The first
// 28 bits are the tag's RA-28 identifier, the next nibble its flags, and a
// sensor payload appends temperature and battery readings.
type ReelyActive struct{}

// Decode implements Codec
func (ReelyActive) Decode(payload []byte) (*Fields, error) {
	if len(payload) != ReelyActiveLength && len(payload) != ReelyActiveSensorLength {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: reelyActive payload of %d bytes", errors.ErrUnknownPayload, len(payload)),
			"payload", "ReelyActive.Decode", "check length")
	}

	ra28, err := identifier.FromHex(identifier.RA28, hex.EncodeToString(payload)[:7])
	if err != nil {
		return nil, errors.WrapInvalid(err, "payload", "ReelyActive.Decode", "parse identifier")
	}
	eui64, err := ra28.ToType(identifier.EUI64)
	if err != nil {
		return nil, errors.WrapInvalid(err, "payload", "ReelyActive.Decode", "promote identifier")
	}

	fields := &Fields{
		Identifier: eui64,
		Flags:      &Flags{TransmissionCount: int(payload[3]&0x0f) >> 2},
	}
	if len(payload) == ReelyActiveSensorLength {
		fields.Sensor = sensorReading(payload[4], payload[5])
	}
	return fields, nil
}

// sensorReading decodes the two trailing sensor bytes. Temperature is the
// 8 bits starting two bits below the top of the pair; battery is the low six
// bits of the second byte.
func sensorReading(hi, lo byte) *Sensor {
	temperatureRaw := ((int(hi)<<4 | int(lo)>>4) >> 2) % 256
	batteryRaw := int(lo) % 64
	return &Sensor{
		Battery:     float64(batteryRaw)/34 + 1.8,
		Temperature: (float64(temperatureRaw) - 80) / 2,
	}
}
