package topology

import (
	"sort"
	"time"

	"github.com/reelyactive/barnowl/identifier"
	"github.com/reelyactive/barnowl/reel"
)

// Telemetry is the latest ReceiverStatistics seen for a receiver.
type Telemetry struct {
	Receiver      identifier.Identifier `json:"receiver"`
	Origin        string                `json:"origin"`
	Offset        int                   `json:"offset"`
	Uptime        int                   `json:"uptime"`
	SendCount     int                   `json:"send_count"`
	CRCPass       int                   `json:"crc_pass"`
	CRCFail       int                   `json:"crc_fail"`
	RSSIMax       int                   `json:"max_rssi"`
	RSSIAvg       int                   `json:"avg_rssi"`
	RSSIMin       int                   `json:"min_rssi"`
	LQIMax        int                   `json:"max_lqi"`
	LQIAvg        int                   `json:"avg_lqi"`
	LQIMin        int                   `json:"min_lqi"`
	Temperature   float64               `json:"temperature"`
	RadioVoltage  float64               `json:"radio_voltage"`
	SerialVoltage int                   `json:"serial_voltage"`
	Timestamp     time.Time             `json:"timestamp"`
}

func telemetryFrom(s *reel.ReceiverStatistics) Telemetry {
	return Telemetry{
		Receiver:      identifier.Canonical(s.Receiver),
		Origin:        s.Origin(),
		Offset:        s.Offset,
		Uptime:        s.Uptime,
		SendCount:     s.SendCount,
		CRCPass:       s.CRCPass,
		CRCFail:       s.CRCFail,
		RSSIMax:       s.RSSIMax,
		RSSIAvg:       s.RSSIAvg,
		RSSIMin:       s.RSSIMin,
		LQIMax:        s.LQIMax,
		LQIAvg:        s.LQIAvg,
		LQIMin:        s.LQIMin,
		Temperature:   s.Temperature,
		RadioVoltage:  s.RadioVoltage,
		SerialVoltage: s.SerialVoltage,
		Timestamp:     s.Timestamp(),
	}
}

// HandleStatistics records receiver telemetry. Statistics never alter the
// offset map; announces alone are authoritative for topology.
func (m *Manager) HandleStatistics(s *reel.ReceiverStatistics) Telemetry {
	t := telemetryFrom(s)
	key := t.Receiver.Hex()
	if _, err := m.telemetry.Set(key, t); err != nil {
		m.logger.Warn("failed to store receiver telemetry", "receiver", key, "error", err)
	}
	m.metrics.recordTelemetry(key, t)
	return t
}

// Telemetry returns the live telemetry for a receiver
func (m *Manager) Telemetry(receiver identifier.Identifier) (Telemetry, bool) {
	return m.telemetry.Get(identifier.Canonical(receiver).Hex())
}

// Receivers returns live telemetry for every receiver heard from within the
// telemetry TTL, sorted by receiver.
func (m *Manager) Receivers() []Telemetry {
	snapshot := m.telemetry.Snapshot()
	out := make([]Telemetry, 0, len(snapshot))
	for _, t := range snapshot {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Receiver.Hex() < out[j].Receiver.Hex() })
	return out
}
