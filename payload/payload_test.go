package payload

import (
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/identifier"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestReelyActive_Identity(t *testing.T) {
	fields, err := NewProcessor().Decode(mustHex(t, "08000014"))
	require.NoError(t, err)

	assert.Equal(t, identifier.EUI64, fields.Identifier.Type())
	assert.Equal(t, "001bc50940800001", fields.Identifier.Hex())
	require.NotNil(t, fields.Flags)
	assert.Equal(t, 1, fields.Flags.TransmissionCount)
	assert.Nil(t, fields.Sensor)
	assert.Nil(t, fields.Advertisement)
}

func TestReelyActive_Sensor(t *testing.T) {
	fields, err := NewProcessor().Decode(mustHex(t, "0800001c1e0f"))
	require.NoError(t, err)

	assert.Equal(t, "001bc50940800001", fields.Identifier.Hex())
	assert.Equal(t, 3, fields.Flags.TransmissionCount)
	require.NotNil(t, fields.Sensor)
	assert.InDelta(t, 20.0, fields.Sensor.Temperature, 1e-9)
	assert.InDelta(t, 15.0/34+1.8, fields.Sensor.Battery, 1e-9)
}

func TestBLE_ReelyActiveAdvertisement(t *testing.T) {
	fields, err := NewProcessor().Decode(mustHex(t, "421655daba50e1fe0201050c097265656c79416374697665"))
	require.NoError(t, err)

	assert.Equal(t, identifier.ADVA48, fields.Identifier.Type())
	assert.Equal(t, "fee150bada55", fields.Identifier.Hex())

	adv := fields.Advertisement
	require.NotNil(t, adv)
	assert.Equal(t, Header{Type: "ADV_NONCONNECT_IND", Length: 22, TxAdd: "random", RxAdd: "public"}, adv.Header)
	assert.Equal(t, []string{"LE Limited Discoverable Mode", "BR/EDR Not Supported"}, adv.Data.Flags)
	assert.Equal(t, "reelyActive", adv.Data.CompleteLocalName)
}

func TestBLE_IBeacon(t *testing.T) {
	raw := "4024" + "665544332211" + "020106" + "1aff4c000215" +
		"e2c56db5dffb48d2b060d0f5a71096e0" + "0001" + "0002" + "c5"
	payload := mustHex(t, raw)
	require.Len(t, payload, IBeaconLength)

	fields, err := NewProcessor().Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, "112233445566", fields.Identifier.Hex())
	adv := fields.Advertisement
	assert.Equal(t, "ADV_IND", adv.Header.Type)
	assert.Equal(t, 36, adv.Header.Length)
	assert.Equal(t, []string{"LE General Discoverable Mode", "BR/EDR Not Supported"}, adv.Data.Flags)

	md := adv.Data.ManufacturerData
	require.NotNil(t, md)
	assert.Equal(t, "004c", md.CompanyCode)
	require.NotNil(t, md.IBeacon)
	assert.Equal(t, IBeacon{
		UUID:    "e2c56db5dffb48d2b060d0f5a71096e0",
		Major:   "0001",
		Minor:   "0002",
		TxPower: -59,
	}, *md.IBeacon)
}

func TestBLE_ReelyActiveLengthDefaultsName(t *testing.T) {
	raw := "4020" + "aabbccddeeff" + "020106" + "1416" + "9afe" + "0102030405060708090a0b0c0d0e0f1011"
	payload := mustHex(t, raw)
	require.Len(t, payload, ReelyActiveBLELength)

	fields, err := NewProcessor().Decode(payload)
	require.NoError(t, err)

	data := fields.Advertisement.Data
	assert.Equal(t, ReelyActiveName, data.CompleteLocalName)
	require.NotNil(t, data.ServiceData)
	assert.Equal(t, ServiceData{UUID: "fe9a", Data: "0102030405060708090a0b0c0d0e0f1011"}, *data.ServiceData)
}

func TestBLE_ADStructures(t *testing.T) {
	raw := "4000" + "010203040506" +
		"0302" + "0d18" + // incomplete 16-bit UUIDs
		"0320" + "aabb" + // unknown type, skipped
		"050874657374" + // shortened name "test"
		"020af4" + // tx power -12 dBm
		"051206000c00"
	fields, err := BLE{}.Decode(mustHex(t, raw))
	require.NoError(t, err)

	data := fields.Advertisement.Data
	assert.Equal(t, "180d", data.NonComplete16BitUUIDs)
	assert.Equal(t, "test", data.ShortenedLocalName)
	require.NotNil(t, data.TxPower)
	assert.Equal(t, -12, *data.TxPower)
	assert.Equal(t, "06000c00", data.SlaveConnectionIntervalRange)
	assert.Empty(t, data.CompleteLocalName)
}

func TestBLE_ZeroLengthEndsData(t *testing.T) {
	fields, err := BLE{}.Decode(mustHex(t, "4008aabbccddeeff0000ffff"))
	require.NoError(t, err)
	assert.Equal(t, AdvData{}, fields.Advertisement.Data)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"too short", "4008", errors.ErrUnknownPayload},
		{"seven bytes", "40080102030405", errors.ErrUnknownPayload},
		{"truncated AD structure", "4008aabbccddeeff0509", errors.ErrParsingFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor().Decode(mustHex(t, tt.payload))
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, tt.want), "got %v", err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestProcessor_DecodeIdentifier(t *testing.T) {
	p := NewProcessor()

	id := identifier.MustFromHex(identifier.RadioPayload, "08000014")
	fields, err := p.DecodeIdentifier(id)
	require.NoError(t, err)
	assert.Equal(t, "001bc50940800001", fields.Identifier.Hex())

	_, err = p.DecodeIdentifier(identifier.MustFromHex(identifier.EUI64, "001bc50940800001"))
	assert.True(t, stderrors.Is(err, errors.ErrInvalidData))
}

func TestProcessor_Register(t *testing.T) {
	p := NewProcessor()
	custom := identifier.MustFromHex(identifier.EUI64, "0102030405060708")
	p.Register(3, CodecFunc(func([]byte) (*Fields, error) {
		return &Fields{Identifier: custom}, nil
	}))

	fields, err := p.Decode([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, custom, fields.Identifier)
}

func TestFields_JSON(t *testing.T) {
	fields, err := NewProcessor().Decode(mustHex(t, "0800001c1e0f"))
	require.NoError(t, err)

	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"identifier":{"type":"EUI-64","value":"001bc50940800001"}`)
	assert.Contains(t, string(raw), `"transmission_count":3`)
	assert.NotContains(t, string(raw), "advertisement")
}

func TestDecode_NeverPanics(t *testing.T) {
	p := NewProcessor()
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 40).Draw(t, "payload")
		fields, err := p.Decode(payload)
		if err != nil {
			assert.True(t, errors.IsInvalid(err))
			return
		}
		assert.False(t, fields.Identifier.IsUnknown())
	})
}
