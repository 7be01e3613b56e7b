package payload

import (
	"encoding/hex"
	"fmt"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/identifier"
)

const (
	bleHeaderLength  = 2
	bleAddressLength = 6
	bleMinLength     = bleHeaderLength + bleAddressLength
)

// PDU types by the low nibble of the first header byte
var pduTypes = map[byte]string{
	0x0: "ADV_IND",
	0x1: "ADV_DIRECT_IND",
	0x2: "ADV_NONCONNECT_IND",
	0x3: "SCAN_REQ",
	0x4: "SCAN_RSP",
	0x5: "CONNECT_REQ",
	0x6: "ADV_DISCOVER_IND",
}

var flagNames = []struct {
	bit  byte
	name string
}{
	{0x01, "LE Limited Discoverable Mode"},
	{0x02, "LE General Discoverable Mode"},
	{0x04, "BR/EDR Not Supported"},
	{0x08, "Simultaneous LE and BR/EDR to Same Device Capable (Controller)"},
	{0x10, "Simultaneous LE and BR/EDR to Same Device Capable (Host)"},
}

// Header is the decoded advertising PDU header
type Header struct {
	Type   string `json:"type"`
	Length int    `json:"length"`
	TxAdd  string `json:"tx_add"`
	RxAdd  string `json:"rx_add"`
}

// ServiceData is an AD service data structure
type ServiceData struct {
	UUID string `json:"uuid"`
	Data string `json:"data"`
}

// IBeacon is the Apple proximity beacon carried in manufacturer data
type IBeacon struct {
	UUID    string `json:"uuid"`
	Major   string `json:"major"`
	Minor   string `json:"minor"`
	TxPower int    `json:"tx_power"`
}

// ManufacturerData is an AD manufacturer specific data structure
type ManufacturerData struct {
	CompanyCode string   `json:"company_identifier_code"`
	Data        string   `json:"data"`
	IBeacon     *IBeacon `json:"ibeacon,omitempty"`
}

// AdvData holds the AD structures found in an advertisement. UUID lists are
// rendered most significant byte first.
type AdvData struct {
	Flags                        []string          `json:"flags,omitempty"`
	NonComplete16BitUUIDs        string            `json:"non_complete_16bit_uuids,omitempty"`
	Complete16BitUUIDs           string            `json:"complete_16bit_uuids,omitempty"`
	NonComplete128BitUUIDs       string            `json:"non_complete_128bit_uuids,omitempty"`
	Complete128BitUUIDs          string            `json:"complete_128bit_uuids,omitempty"`
	ShortenedLocalName           string            `json:"shortened_local_name,omitempty"`
	CompleteLocalName            string            `json:"complete_local_name,omitempty"`
	TxPower                      *int              `json:"tx_power,omitempty"`
	SlaveConnectionIntervalRange string            `json:"slave_connection_interval_range,omitempty"`
	Solicitation16BitUUIDs       string            `json:"solicitation_16bit_uuids,omitempty"`
	Solicitation128BitUUIDs      string            `json:"solicitation_128bit_uuids,omitempty"`
	ServiceData                  *ServiceData      `json:"service_data,omitempty"`
	ManufacturerData             *ManufacturerData `json:"manufacturer_specific_data,omitempty"`
}

// Advertisement is a decoded BLE advertising PDU
type Advertisement struct {
	Header Header  `json:"header"`
	Data   AdvData `json:"data"`
}

// BLE decodes Bluetooth Low Energy advertising PDUs: a two byte header, the
// advertiser address least significant byte first, then AD structures.
type BLE struct{}

// Decode implements Codec
func (BLE) Decode(payload []byte) (*Fields, error) {
	if len(payload) < bleMinLength {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: BLE payload of %d bytes", errors.ErrUnknownPayload, len(payload)),
			"payload", "BLE.Decode", "check length")
	}

	address, err := identifier.New(identifier.ADVA48, reversed(payload[bleHeaderLength:bleMinLength]))
	if err != nil {
		return nil, errors.WrapInvalid(err, "payload", "BLE.Decode", "parse advertiser address")
	}

	data, err := parseAdvData(payload[bleMinLength:])
	if err != nil {
		return nil, errors.WrapInvalid(err, "payload", "BLE.Decode", "parse AD structures")
	}

	return &Fields{
		Identifier: address,
		Advertisement: &Advertisement{
			Header: parseHeader(payload[0], payload[1]),
			Data:   data,
		},
	}, nil
}

func parseHeader(first, length byte) Header {
	h := Header{
		Type:   pduTypes[first&0x0f],
		Length: int(length) % 64,
		TxAdd:  "public",
		RxAdd:  "public",
	}
	if first&0x40 != 0 {
		h.TxAdd = "random"
	}
	if first&0x80 != 0 {
		h.RxAdd = "random"
	}
	return h
}

// parseAdvData walks length-prefixed AD structures. A zero length marks the
// end of significant data. Unknown types are skipped.
func parseAdvData(b []byte) (AdvData, error) {
	var data AdvData
	for cursor := 0; cursor < len(b); {
		length := int(b[cursor])
		if length == 0 {
			break
		}
		end := cursor + 1 + length
		if end > len(b) {
			return data, fmt.Errorf("%w: AD structure at %d needs %d bytes, %d remain",
				errors.ErrParsingFailed, cursor, length, len(b)-cursor-1)
		}
		adType, value := b[cursor+1], b[cursor+2:end]
		cursor = end

		switch adType {
		case 0x01:
			data.Flags = flags(value)
		case 0x02:
			data.NonComplete16BitUUIDs = hex.EncodeToString(reversed(value))
		case 0x03:
			data.Complete16BitUUIDs = hex.EncodeToString(reversed(value))
		case 0x06:
			data.NonComplete128BitUUIDs = hex.EncodeToString(reversed(value))
		case 0x07:
			data.Complete128BitUUIDs = hex.EncodeToString(reversed(value))
		case 0x08:
			data.ShortenedLocalName = string(value)
		case 0x09:
			data.CompleteLocalName = string(value)
		case 0x0a:
			if len(value) > 0 {
				power := int(int8(value[0]))
				data.TxPower = &power
			}
		case 0x12:
			data.SlaveConnectionIntervalRange = hex.EncodeToString(value)
		case 0x14:
			data.Solicitation16BitUUIDs = hex.EncodeToString(reversed(value))
		case 0x15:
			data.Solicitation128BitUUIDs = hex.EncodeToString(reversed(value))
		case 0x16:
			data.ServiceData = serviceData(value)
		case 0xff:
			data.ManufacturerData = manufacturerData(value)
		}
	}
	return data, nil
}

func flags(value []byte) []string {
	if len(value) == 0 {
		return nil
	}
	var out []string
	for _, f := range flagNames {
		if value[0]&f.bit != 0 {
			out = append(out, f.name)
		}
	}
	return out
}

func serviceData(value []byte) *ServiceData {
	if len(value) < 2 {
		return &ServiceData{Data: hex.EncodeToString(value)}
	}
	return &ServiceData{
		UUID: hex.EncodeToString(reversed(value[:2])),
		Data: hex.EncodeToString(value[2:]),
	}
}

const (
	appleCompanyCode = "004c"
	iBeaconPrefix    = "0215"
	iBeaconLength    = 2 + 16 + 2 + 2 + 1
)

func manufacturerData(value []byte) *ManufacturerData {
	if len(value) < 2 {
		return &ManufacturerData{Data: hex.EncodeToString(value)}
	}
	md := &ManufacturerData{
		CompanyCode: hex.EncodeToString(reversed(value[:2])),
		Data:        hex.EncodeToString(value[2:]),
	}
	beacon := value[2:]
	if md.CompanyCode == appleCompanyCode && len(beacon) >= iBeaconLength && hex.EncodeToString(beacon[:2]) == iBeaconPrefix {
		md.IBeacon = &IBeacon{
			UUID:    hex.EncodeToString(beacon[2:18]),
			Major:   hex.EncodeToString(beacon[18:20]),
			Minor:   hex.EncodeToString(beacon[20:22]),
			TxPower: int(int8(beacon[22])),
		}
	}
	return md
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
