// Package reel implements the reel wire protocol: the packet types carried
// between receivers and the gateway, the frame decoder and encoder, and the
// per-origin stream framer that turns arbitrary byte chunks into packets.
package reel

import (
	"time"

	"github.com/reelyactive/barnowl/identifier"
)

// Kind enumerates the packet variants.
type Kind uint8

const (
	KindRadioSignal Kind = iota + 1
	KindReelAnnounce
	KindReceiverStatistics
)

// String returns the packet type name used in logs and metrics
func (k Kind) String() string {
	switch k {
	case KindRadioSignal:
		return "RadioSignal"
	case KindReelAnnounce:
		return "ReelAnnounce"
	case KindReceiverStatistics:
		return "ReceiverStatistics"
	default:
		return "Undefined"
	}
}

// Packet is one decoded reel packet. The set of implementations is closed:
// *RadioSignal, *ReelAnnounce and *ReceiverStatistics.
type Packet interface {
	Kind() Kind
	Origin() string
	Timestamp() time.Time
	sealed()
}

// Header carries the fields every packet shares.
type Header struct {
	Source   string    `json:"origin"`
	Received time.Time `json:"timestamp"`
}

// Origin returns the transport-assigned source of the packet
func (h Header) Origin() string { return h.Source }

// Timestamp returns the arrival time of the bytes that completed the packet
func (h Header) Timestamp() time.Time { return h.Received }

func (Header) sealed() {}

// Decoding is one receiver's observation within a RadioSignal. Offset is the
// receiver's position counted from the far end of its reel.
type Decoding struct {
	Offset int `json:"offset"`
	RSSI   int `json:"rssi"`
}

// RadioSignal reports a transmission decoded by one or more receivers on a
// reel. Decodings are ordered by strictly increasing offset.
type RadioSignal struct {
	Header
	Transmitter identifier.Identifier `json:"transmitter"`
	Payload     []byte                `json:"payload"`
	Decodings   []Decoding            `json:"decodings"`
}

// Kind implements Packet
func (*RadioSignal) Kind() Kind { return KindRadioSignal }

// ReelAnnounce is sent by a receiver to state its identity and its distance
// in hops from the hub end of the reel.
type ReelAnnounce struct {
	Header
	Receiver    identifier.Identifier `json:"receiver"`
	DeviceCount int                   `json:"deviceCount"`
	Nonce       [NonceLength]byte     `json:"nonce"`
}

// Kind implements Packet
func (*ReelAnnounce) Kind() Kind { return KindReelAnnounce }

// ReceiverStatistics is periodic receiver telemetry.
type ReceiverStatistics struct {
	Header
	Receiver      identifier.Identifier `json:"receiver"`
	Offset        int                   `json:"offset"`
	Uptime        int                   `json:"uptime"`
	SendCount     int                   `json:"sendCount"`
	CRCPass       int                   `json:"crcPass"`
	CRCFail       int                   `json:"crcFail"`
	RSSIMax       int                   `json:"maxRSSI"`
	RSSIAvg       int                   `json:"avgRSSI"`
	RSSIMin       int                   `json:"minRSSI"`
	LQIMax        int                   `json:"maxLQI"`
	LQIAvg        int                   `json:"avgLQI"`
	LQIMin        int                   `json:"minLQI"`
	Temperature   float64               `json:"temperature"`
	RadioVoltage  float64               `json:"radioVoltage"`
	SerialVoltage int                   `json:"serialVoltage"`
}

// Kind implements Packet
func (*ReceiverStatistics) Kind() Kind { return KindReceiverStatistics }
