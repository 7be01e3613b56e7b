package identifier

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelyactive/barnowl/errors"
)

func TestNew_Lengths(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		value   []byte
		wantErr bool
	}{
		{"ra28 ok", RA28, []byte{0x00, 0x80, 0x00, 0x00}, false},
		{"ra28 short", RA28, []byte{0x00, 0x80, 0x00}, true},
		{"ra28 over 28 bits", RA28, []byte{0x10, 0x00, 0x00, 0x00}, true},
		{"adva48 ok", ADVA48, make([]byte, 6), false},
		{"adva48 long", ADVA48, make([]byte, 7), true},
		{"eui64 ok", EUI64, make([]byte, 8), false},
		{"eui64 short", EUI64, make([]byte, 6), true},
		{"payload ok", RadioPayload, []byte{1}, false},
		{"payload empty", RadioPayload, nil, true},
		{"unknown", Unknown, []byte{1, 2}, false},
		{"bad type", Type(42), []byte{1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.typ, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestIdentifier_Hex(t *testing.T) {
	ra := MustNew(RA28, []byte{0x00, 0x80, 0x00, 0x01})
	assert.Equal(t, "0800001", ra.Hex(), "RA-28 renders 7 digits")

	parsed, err := FromHex(RA28, "0800001")
	require.NoError(t, err)
	assert.Equal(t, ra, parsed)

	parsed, err = FromHex(RA28, "00800001")
	require.NoError(t, err)
	assert.Equal(t, ra, parsed)

	_, err = FromHex(EUI64, "zz")
	require.Error(t, err)
}

func TestIdentifier_Comparable(t *testing.T) {
	a := MustFromHex(ADVA48, "fee150bada55")
	b := MustFromHex(ADVA48, "FEE150BADA55")
	c := MustFromHex(RadioPayload, "fee150bada55")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a.Signature(), c.Signature(), "same bytes, different type")
	assert.Equal(t, "fee150bada55-ADVA-48", a.Signature())
}

func TestIdentifier_BytesIsCopy(t *testing.T) {
	id := MustFromHex(EUI64, "001bc50940800000")
	raw := id.Bytes()
	raw[0] = 0xff
	assert.Equal(t, "001bc50940800000", id.Hex())
}

func TestNone(t *testing.T) {
	assert.True(t, None.IsUnknown())
	assert.True(t, Identifier{}.IsUnknown())
	assert.Equal(t, "unknown", None.String())
	assert.Equal(t, None, Canonical(None))
}

func TestToType(t *testing.T) {
	tests := []struct {
		name    string
		from    Identifier
		to      Type
		want    string
		wantErr bool
	}{
		{"ra28 to eui64", MustFromHex(RA28, "0800000"), EUI64, "001bc50940800000", false},
		{"eui64 to ra28", MustFromHex(EUI64, "001bc50940800000"), RA28, "0800000", false},
		{"eui64 outside range", MustFromHex(EUI64, "0123456789abcdef"), RA28, "", true},
		{"adva48 to eui64", MustFromHex(ADVA48, "fee150bada55"), EUI64, "fee150fffebada55", false},
		{"eui64 to adva48", MustFromHex(EUI64, "fee150fffebada55"), ADVA48, "fee150bada55", false},
		{"eui64 not mapped", MustFromHex(EUI64, "fee1500000bada55"), ADVA48, "", true},
		{"identity", MustFromHex(ADVA48, "fee150bada55"), ADVA48, "fee150bada55", false},
		{"no rule", MustFromHex(RadioPayload, "01020304"), EUI64, "", true},
		{"ra28 to adva48", MustFromHex(RA28, "0800000"), ADVA48, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.from.ToType(tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errors.ErrNoConversion)
				assert.True(t, got.IsUnknown())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, got.Type())
			assert.Equal(t, tt.want, got.Hex())
		})
	}
}

func TestCanConvert(t *testing.T) {
	assert.True(t, CanConvert(RA28, EUI64))
	assert.True(t, CanConvert(EUI64, EUI64))
	assert.False(t, CanConvert(RadioPayload, EUI64))
}

func TestCanonical(t *testing.T) {
	assert.Equal(t, "EUI-64:001bc50940800000", Canonical(MustFromHex(RA28, "0800000")).String())
	payload := MustFromHex(RadioPayload, "01000000")
	assert.Equal(t, payload, Canonical(payload), "no rule leaves identifier unchanged")
}

func TestIdentifier_JSON(t *testing.T) {
	id := MustFromHex(RA28, "0800000")

	data, err := json.Marshal(id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"RA-28","value":"0800000"}`, string(data))

	var back Identifier
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, id, back)

	data, err = json.Marshal(None)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	back = id
	require.NoError(t, json.Unmarshal([]byte("null"), &back))
	assert.True(t, back.IsUnknown())

	require.Error(t, json.Unmarshal([]byte(`{"type":"bogus","value":"00"}`), &back))
}
