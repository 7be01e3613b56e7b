package reel

import (
	"fmt"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/identifier"
)

// Encode renders a packet as a complete frame including the prefix.
func Encode(p Packet) ([]byte, error) {
	switch pkt := p.(type) {
	case *RadioSignal:
		return EncodeRadioSignal(pkt.Payload, pkt.Decodings)
	case *ReelAnnounce:
		return EncodeReelAnnounce(pkt.DeviceCount, pkt.Receiver, pkt.Nonce)
	case *ReceiverStatistics:
		return EncodeReceiverStatistics(pkt)
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", errors.ErrInvalidData, p)
	}
}

// EncodeRadioSignal builds a RadioSignal frame. Decodings must have strictly
// increasing offsets in [0, 255] and RSSI values in [0, 255].
func EncodeRadioSignal(payload []byte, decodings []Decoding) ([]byte, error) {
	if len(payload) == 0 || len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%w: payload of %d bytes", errors.ErrInvalidData, len(payload))
	}
	if len(decodings) == 0 || len(decodings) > 255 {
		return nil, fmt.Errorf("%w: %d decodings", errors.ErrInvalidReceiverCount, len(decodings))
	}
	length := RadioSignalLength(len(payload), len(decodings))
	if length > MaxFrameLength {
		return nil, fmt.Errorf("%w: %d bytes", errors.ErrFrameTooLong, length)
	}

	frame := make([]byte, 0, PrefixLength+length)
	frame = append(frame, Prefix...)
	frame = append(frame, byte(len(payload)), byte(len(decodings)))
	frame = append(frame, payload...)

	lastOffset := -1
	for _, d := range decodings {
		if d.Offset <= lastOffset || d.Offset > 255 {
			return nil, fmt.Errorf("%w: offset %d after %d", errors.ErrOffsetSequence, d.Offset, lastOffset)
		}
		if d.RSSI < 0 || d.RSSI > 255 {
			return nil, fmt.Errorf("%w: rssi %d", errors.ErrInvalidData, d.RSSI)
		}
		lastOffset = d.Offset
		frame = append(frame, byte(d.Offset), EncodeRSSI(d.RSSI))
	}
	return frame, nil
}

func receiverField(receiver identifier.Identifier) ([]byte, error) {
	ra, err := receiver.ToType(identifier.RA28)
	if err != nil {
		return nil, err
	}
	return ra.Bytes(), nil
}

// EncodeReelAnnounce builds a ReelAnnounce frame. The receiver must be an
// RA-28 identifier or convertible to one.
func EncodeReelAnnounce(deviceCount int, receiver identifier.Identifier, nonce [NonceLength]byte) ([]byte, error) {
	if deviceCount < 0 || deviceCount > 255 {
		return nil, fmt.Errorf("%w: device count %d", errors.ErrInvalidData, deviceCount)
	}
	id, err := receiverField(receiver)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, PrefixLength+ReelAnnounceLength)
	frame = append(frame, Prefix...)
	frame = append(frame, CodeReelAnnounce, byte(deviceCount))
	frame = append(frame, id...)
	frame = append(frame, nonce[:]...)
	return frame, nil
}

// EncodeReceiverStatistics builds a ReceiverStatistics frame. Temperature
// and radio voltage are quantised to the wire resolution.
func EncodeReceiverStatistics(s *ReceiverStatistics) ([]byte, error) {
	if s.Offset < 0 || s.Offset > 255 {
		return nil, fmt.Errorf("%w: offset %d", errors.ErrInvalidData, s.Offset)
	}
	id, err := receiverField(s.Receiver)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, PrefixLength+ReceiverStatsLength)
	frame = append(frame, Prefix...)
	frame = append(frame, CodeReceiverStats, byte(s.Offset))
	frame = append(frame, id...)
	for _, v := range []int{s.Uptime, s.SendCount, s.CRCPass, s.CRCFail} {
		frame = append(frame, byte(v>>8), byte(v))
	}
	frame = append(frame,
		EncodeRSSI(s.RSSIMax), EncodeRSSI(s.RSSIAvg), EncodeRSSI(s.RSSIMin),
		byte(s.LQIMax), byte(s.LQIAvg), byte(s.LQIMin),
		encodeTemperature(s.Temperature),
		encodeRadioVoltage(s.RadioVoltage),
		byte(s.SerialVoltage),
	)
	return frame, nil
}
