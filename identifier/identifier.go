// Package identifier models the radio entity addresses carried by reel
// packets: 28-bit reelyActive codes, 48-bit Bluetooth advertiser addresses,
// 64-bit extended unique identifiers and raw radio payloads.
//
// An Identifier is an immutable, comparable value. Conversions between forms
// follow a fixed table of vendor rules (see ToType); there is no inference.
package identifier

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/reelyactive/barnowl/errors"
)

// Type tags the canonical form of an identifier value.
type Type uint8

const (
	// Unknown marks an unresolved identifier.
	Unknown Type = iota
	// RA28 is the 28-bit reelyActive short code (4 bytes on the wire).
	RA28
	// ADVA48 is a 48-bit Bluetooth Low Energy advertiser address.
	ADVA48
	// EUI64 is a 64-bit extended unique identifier.
	EUI64
	// RadioPayload is an opaque transmitter payload used as identity until
	// a payload codec resolves it.
	RadioPayload
)

// Byte lengths of the fixed-size forms.
const (
	RA28Length   = 4
	ADVA48Length = 6
	EUI64Length  = 8
)

var typeNames = map[Type]string{
	Unknown:      "Unknown",
	RA28:         "RA-28",
	ADVA48:       "ADVA-48",
	EUI64:        "EUI-64",
	RadioPayload: "RadioPayload",
}

// String returns the canonical type name
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType returns the Type for a canonical type name.
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return Unknown, fmt.Errorf("%w: identifier type %q", errors.ErrInvalidData, name)
}

// Identifier is a typed radio address. The zero value is the unknown
// sentinel.
type Identifier struct {
	typ   Type
	value string
}

// None is the unknown sentinel used for unresolved slots.
var None = Identifier{}

// New builds an identifier from raw bytes, validating the length for the
// fixed-size forms. RA28 values must leave the top four bits clear.
func New(t Type, value []byte) (Identifier, error) {
	switch t {
	case Unknown:
		return None, nil
	case RA28:
		if len(value) != RA28Length {
			return None, lengthError(t, len(value))
		}
		if value[0]&0xf0 != 0 {
			return None, fmt.Errorf("%w: RA-28 value %x exceeds 28 bits", errors.ErrInvalidData, value)
		}
	case ADVA48:
		if len(value) != ADVA48Length {
			return None, lengthError(t, len(value))
		}
	case EUI64:
		if len(value) != EUI64Length {
			return None, lengthError(t, len(value))
		}
	case RadioPayload:
		if len(value) == 0 {
			return None, lengthError(t, 0)
		}
	default:
		return None, fmt.Errorf("%w: identifier type %d", errors.ErrInvalidData, t)
	}
	return Identifier{typ: t, value: string(value)}, nil
}

// MustNew is New for values known to be valid. It panics on error.
func MustNew(t Type, value []byte) Identifier {
	id, err := New(t, value)
	if err != nil {
		panic(err)
	}
	return id
}

// FromHex parses a hexadecimal identifier value. RA28 accepts the 7-digit
// short form as well as the 8-digit wire form.
func FromHex(t Type, s string) (Identifier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if t == RA28 && len(s) == 7 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return None, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	return New(t, raw)
}

// MustFromHex is FromHex for literals. It panics on error.
func MustFromHex(t Type, s string) Identifier {
	id, err := FromHex(t, s)
	if err != nil {
		panic(err)
	}
	return id
}

func lengthError(t Type, n int) error {
	return fmt.Errorf("%w: %s value of %d bytes", errors.ErrInvalidData, t, n)
}

// Type returns the identifier's type tag
func (id Identifier) Type() Type { return id.typ }

// IsUnknown reports whether id is the unknown sentinel
func (id Identifier) IsUnknown() bool { return id.typ == Unknown }

// Bytes returns a copy of the raw value
func (id Identifier) Bytes() []byte { return []byte(id.value) }

// Len returns the value length in bytes
func (id Identifier) Len() int { return len(id.value) }

// Hex returns the lowercase hexadecimal value. RA28 values are rendered in
// their 7-digit short form.
func (id Identifier) Hex() string {
	h := hex.EncodeToString([]byte(id.value))
	if id.typ == RA28 {
		return h[1:]
	}
	return h
}

// Signature is the mixing key for a transmitter: value and type together so
// identical bytes of different forms never collide.
func (id Identifier) Signature() string {
	return id.Hex() + "-" + id.typ.String()
}

// String implements fmt.Stringer
func (id Identifier) String() string {
	if id.IsUnknown() {
		return "unknown"
	}
	return id.typ.String() + ":" + id.Hex()
}

type jsonIdentifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// MarshalJSON renders {"type": ..., "value": ...}; the unknown sentinel
// renders as null.
func (id Identifier) MarshalJSON() ([]byte, error) {
	if id.IsUnknown() {
		return []byte("null"), nil
	}
	return json.Marshal(jsonIdentifier{Type: id.typ.String(), Value: id.Hex()})
}

// UnmarshalJSON accepts the MarshalJSON form
func (id *Identifier) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = None
		return nil
	}
	var raw jsonIdentifier
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := ParseType(raw.Type)
	if err != nil {
		return err
	}
	parsed, err := FromHex(t, raw.Value)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
