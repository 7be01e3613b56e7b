package identifier

import (
	"fmt"
	"strings"

	"github.com/reelyactive/barnowl/errors"
)

// reelyActivePrefix is the fixed EUI-64 prefix under which every RA-28 code
// is allocated.
const reelyActivePrefix = "001bc5094"

type conversion struct {
	from, to Type
}

// rule converts an identifier of one form to another, or fails when the
// source value is outside the target's address space.
type rule func(Identifier) (Identifier, error)

var rules = map[conversion]rule{
	{RA28, EUI64}:   ra28ToEUI64,
	{EUI64, RA28}:   eui64ToRA28,
	{ADVA48, EUI64}: adva48ToEUI64,
	{EUI64, ADVA48}: eui64ToADVA48,
}

// ToType converts id to the target form using the conversion table.
// Converting to the same type always succeeds. ErrNoConversion is returned
// when no rule exists or the value does not fit the target.
func (id Identifier) ToType(target Type) (Identifier, error) {
	if id.typ == target {
		return id, nil
	}
	convert, ok := rules[conversion{from: id.typ, to: target}]
	if !ok {
		return None, fmt.Errorf("%w: %s to %s", errors.ErrNoConversion, id.typ, target)
	}
	return convert(id)
}

// CanConvert reports whether a rule exists from one type to another.
func CanConvert(from, to Type) bool {
	if from == to {
		return true
	}
	_, ok := rules[conversion{from: from, to: to}]
	return ok
}

// Canonical returns id promoted to EUI-64 when a rule applies, otherwise id
// unchanged. Receivers are reported in this form.
func Canonical(id Identifier) Identifier {
	if id.IsUnknown() {
		return id
	}
	promoted, err := id.ToType(EUI64)
	if err != nil {
		return id
	}
	return promoted
}

func ra28ToEUI64(id Identifier) (Identifier, error) {
	return FromHex(EUI64, reelyActivePrefix+id.Hex())
}

func eui64ToRA28(id Identifier) (Identifier, error) {
	h := id.Hex()
	if !strings.HasPrefix(h, reelyActivePrefix) {
		return None, fmt.Errorf("%w: %s is outside the reelyActive range", errors.ErrNoConversion, id)
	}
	return FromHex(RA28, h[len(reelyActivePrefix):])
}

// EUI-48 to EUI-64 mapping: OUI, then fffe, then the device part.
func adva48ToEUI64(id Identifier) (Identifier, error) {
	raw := id.Bytes()
	out := make([]byte, 0, EUI64Length)
	out = append(out, raw[:3]...)
	out = append(out, 0xff, 0xfe)
	out = append(out, raw[3:]...)
	return New(EUI64, out)
}

func eui64ToADVA48(id Identifier) (Identifier, error) {
	raw := id.Bytes()
	if raw[3] != 0xff || raw[4] != 0xfe {
		return None, fmt.Errorf("%w: %s is not an EUI-48 mapping", errors.ErrNoConversion, id)
	}
	out := make([]byte, 0, ADVA48Length)
	out = append(out, raw[:3]...)
	out = append(out, raw[5:]...)
	return New(ADVA48, out)
}
