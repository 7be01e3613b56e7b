package reel

// Prefix marks the start of every frame.
var Prefix = []byte{0xaa, 0xaa}

// Wire layout constants. Lengths exclude the two prefix bytes and include
// the discriminator byte.
const (
	PrefixLength = 2

	// MinFrameLength is the shortest buffer, after the prefix, worth
	// attempting to decode.
	MinFrameLength = 4
	// MaxFrameLength bounds a single frame after the prefix.
	MaxFrameLength = 543

	MaxPayloadLength     = 39
	radioSignalOverhead  = 2
	bytesPerDecoding     = 2
	CodeReelAnnounce     = 0x70
	ReelAnnounceLength   = 22
	CodeReceiverStats    = 0x78
	ReceiverStatsLength  = 23
	NonceLength          = 16
	receiverIDLength     = 4
	announceIDOffset     = 2
	announceNonceOffset  = 6
	statisticsIDOffset   = 2
	statisticsDataOffset = 6
)

// IsRadioSignalCode reports whether a discriminator denotes a RadioSignal,
// in which case the discriminator is also the payload length.
func IsRadioSignalCode(code byte) bool {
	return code > 0 && code <= MaxPayloadLength
}

// RadioSignalLength returns the frame length after the prefix for a
// RadioSignal with the given payload length and receiver count.
func RadioSignalLength(payloadLength, receiverCount int) int {
	return radioSignalOverhead + payloadLength + bytesPerDecoding*receiverCount
}

// DecodeRSSI converts a wire RSSI byte to its reported value.
func DecodeRSSI(raw byte) int {
	if raw < 128 {
		return int(raw) + 128
	}
	return int(raw) - 128
}

// EncodeRSSI is the inverse of DecodeRSSI for values in [0, 255].
func EncodeRSSI(rssi int) byte {
	if rssi >= 128 {
		return byte(rssi - 128)
	}
	return byte(rssi + 128)
}

// Temperature and voltage encodings used by ReceiverStatistics.
func decodeTemperature(raw byte) float64 { return (float64(raw) - 80) / 2 }

func decodeRadioVoltage(raw byte) float64 { return 1.8 + float64(raw)/34 }

func encodeTemperature(celsius float64) byte { return clampByte(celsius*2 + 80) }

func encodeRadioVoltage(volts float64) byte { return clampByte((volts - 1.8) * 34) }

func clampByte(v float64) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(v + 0.5)
	}
}
