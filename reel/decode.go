package reel

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/identifier"
)

// DecodeError reports a frame the decoder rejected. Consumed is the number
// of buffer bytes discarded because of it.
type DecodeError struct {
	Origin   string
	Code     byte
	Consumed int
	Err      error
}

// Error implements error
func (e *DecodeError) Error() string {
	return fmt.Sprintf("reel: origin %q code 0x%02x: %v (discarded %d bytes)", e.Origin, e.Code, e.Err, e.Consumed)
}

// Unwrap exposes the framing sentinel
func (e *DecodeError) Unwrap() error { return e.Err }

// Retryable reports whether more bytes may complete the frame
func (e *DecodeError) Retryable() bool { return stderrors.Is(e.Err, errors.ErrFrameTooShort) }

// Reason returns a short label for metrics
func (e *DecodeError) Reason() string {
	switch {
	case stderrors.Is(e.Err, errors.ErrFrameTooShort):
		return "too_short"
	case stderrors.Is(e.Err, errors.ErrFrameTooLong):
		return "too_long"
	case stderrors.Is(e.Err, errors.ErrUnknownPacket):
		return "unknown_packet"
	case stderrors.Is(e.Err, errors.ErrInvalidReceiverCount):
		return "receiver_count"
	case stderrors.Is(e.Err, errors.ErrOffsetSequence):
		return "offset_sequence"
	default:
		return "invalid"
	}
}

// Decode decodes the frame at the start of buf, which must begin with the
// prefix. It returns the packet and the number of bytes consumed including
// the prefix.
//
// On a retryable error (ErrFrameTooShort) nothing is consumed. Corrupt
// frames consume the whole buffer since the stream cannot be trusted again
// until the next prefix, except a misaligned buffer which consumes one byte.
func Decode(buf []byte, origin string, ts time.Time) (Packet, int, error) {
	if !bytes.HasPrefix(buf, Prefix) {
		return nil, min(1, len(buf)), &DecodeError{Origin: origin, Consumed: min(1, len(buf)),
			Err: fmt.Errorf("%w: buffer does not start with prefix", errors.ErrInvalidData)}
	}

	frame := buf[PrefixLength:]
	if len(frame) < MinFrameLength {
		return nil, 0, &DecodeError{Origin: origin, Err: errors.ErrFrameTooShort}
	}

	header := Header{Source: origin, Received: ts}
	code := frame[0]

	var (
		packet Packet
		n      int
		err    error
	)
	switch {
	case IsRadioSignalCode(code):
		packet, n, err = decodeRadioSignal(frame, header)
	case code == CodeReelAnnounce:
		packet, n, err = decodeReelAnnounce(frame, header)
	case code == CodeReceiverStats:
		packet, n, err = decodeReceiverStatistics(frame, header)
	default:
		return nil, len(buf), &DecodeError{Origin: origin, Code: code, Consumed: len(buf), Err: errors.ErrUnknownPacket}
	}

	if err != nil {
		consumed := 0
		if !stderrors.Is(err, errors.ErrFrameTooShort) {
			consumed = len(buf)
		}
		return nil, consumed, &DecodeError{Origin: origin, Code: code, Consumed: consumed, Err: err}
	}
	return packet, PrefixLength + n, nil
}

func decodeRadioSignal(frame []byte, header Header) (Packet, int, error) {
	payloadLength := int(frame[0])
	receiverCount := int(frame[1])
	if receiverCount == 0 {
		return nil, 0, errors.ErrInvalidReceiverCount
	}

	length := RadioSignalLength(payloadLength, receiverCount)
	if length > MaxFrameLength {
		return nil, 0, fmt.Errorf("%w: %d bytes", errors.ErrFrameTooLong, length)
	}
	if len(frame) < length {
		return nil, 0, errors.ErrFrameTooShort
	}

	payload := make([]byte, payloadLength)
	copy(payload, frame[radioSignalOverhead:radioSignalOverhead+payloadLength])
	transmitter, err := identifier.New(identifier.RadioPayload, payload)
	if err != nil {
		return nil, 0, err
	}

	decodings := make([]Decoding, 0, receiverCount)
	lastOffset := -1
	pairs := frame[radioSignalOverhead+payloadLength : length]
	for i := 0; i < len(pairs); i += bytesPerDecoding {
		offset := int(pairs[i])
		if offset <= lastOffset {
			return nil, 0, fmt.Errorf("%w: offset %d after %d", errors.ErrOffsetSequence, offset, lastOffset)
		}
		lastOffset = offset
		decodings = append(decodings, Decoding{Offset: offset, RSSI: DecodeRSSI(pairs[i+1])})
	}

	return &RadioSignal{
		Header:      header,
		Transmitter: transmitter,
		Payload:     payload,
		Decodings:   decodings,
	}, length, nil
}

// receiverID reads a 4-byte receiver field. The top four bits are reserved
// and ignored.
func receiverID(field []byte) identifier.Identifier {
	raw := make([]byte, receiverIDLength)
	copy(raw, field)
	raw[0] &= 0x0f
	return identifier.MustNew(identifier.RA28, raw)
}

func decodeReelAnnounce(frame []byte, header Header) (Packet, int, error) {
	if len(frame) < ReelAnnounceLength {
		return nil, 0, errors.ErrFrameTooShort
	}
	announce := &ReelAnnounce{
		Header:      header,
		DeviceCount: int(frame[1]),
		Receiver:    receiverID(frame[announceIDOffset : announceIDOffset+receiverIDLength]),
	}
	copy(announce.Nonce[:], frame[announceNonceOffset:announceNonceOffset+NonceLength])
	return announce, ReelAnnounceLength, nil
}

func decodeReceiverStatistics(frame []byte, header Header) (Packet, int, error) {
	if len(frame) < ReceiverStatsLength {
		return nil, 0, errors.ErrFrameTooShort
	}
	u16 := func(i int) int { return int(frame[i])<<8 | int(frame[i+1]) }

	return &ReceiverStatistics{
		Header:        header,
		Offset:        int(frame[1]),
		Receiver:      receiverID(frame[statisticsIDOffset : statisticsIDOffset+receiverIDLength]),
		Uptime:        u16(statisticsDataOffset),
		SendCount:     u16(8),
		CRCPass:       u16(10),
		CRCFail:       u16(12),
		RSSIMax:       DecodeRSSI(frame[14]),
		RSSIAvg:       DecodeRSSI(frame[15]),
		RSSIMin:       DecodeRSSI(frame[16]),
		LQIMax:        int(frame[17]),
		LQIAvg:        int(frame[18]),
		LQIMin:        int(frame[19]),
		Temperature:   decodeTemperature(frame[20]),
		RadioVoltage:  decodeRadioVoltage(frame[21]),
		SerialVoltage: int(frame[22]),
	}, ReceiverStatsLength, nil
}
