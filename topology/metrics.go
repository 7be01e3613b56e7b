package topology

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/reelyactive/barnowl/metric"
)

const serviceName = "topology"

// Metrics holds topology and receiver telemetry metrics. A nil *Metrics
// records nothing.
type Metrics struct {
	resets       prometheus.Counter
	receivers    *prometheus.GaugeVec
	temperature  *prometheus.GaugeVec
	radioVoltage *prometheus.GaugeVec
	uptime       *prometheus.GaugeVec
	crcPass      *prometheus.GaugeVec
	crcFail      *prometheus.GaugeVec
}

func newMetrics(registry metric.MetricsRegistrar) (*Metrics, error) {
	receiverGauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "barnowl",
			Subsystem: "receiver",
			Name:      name,
			Help:      help,
		}, []string{"receiver"})
	}

	m := &Metrics{
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl",
			Subsystem: "topology",
			Name:      "resets_total",
			Help:      "Reel topologies rebuilt after a conflicting announce",
		}),
		receivers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "barnowl",
			Subsystem: "topology",
			Name:      "receivers",
			Help:      "Resolved receivers per origin",
		}, []string{"origin"}),
		temperature:  receiverGauge("temperature_celsius", "Receiver temperature"),
		radioVoltage: receiverGauge("radio_voltage_volts", "Receiver radio supply voltage"),
		uptime:       receiverGauge("uptime", "Receiver uptime counter"),
		crcPass:      receiverGauge("crc_pass", "Frames received with a valid CRC"),
		crcFail:      receiverGauge("crc_fail", "Frames received with an invalid CRC"),
	}

	if err := registry.RegisterCounter(serviceName, "resets_total", m.resets); err != nil {
		return nil, err
	}
	vecs := map[string]*prometheus.GaugeVec{
		"receivers":           m.receivers,
		"temperature_celsius": m.temperature,
		"radio_voltage_volts": m.radioVoltage,
		"uptime":              m.uptime,
		"crc_pass":            m.crcPass,
		"crc_fail":            m.crcFail,
	}
	for name, vec := range vecs {
		if err := registry.RegisterGaugeVec(serviceName, name, vec); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordReset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}

func (m *Metrics) setReceivers(origin string, n int) {
	if m == nil {
		return
	}
	m.receivers.WithLabelValues(origin).Set(float64(n))
}

func (m *Metrics) recordTelemetry(receiver string, t Telemetry) {
	if m == nil {
		return
	}
	m.temperature.WithLabelValues(receiver).Set(t.Temperature)
	m.radioVoltage.WithLabelValues(receiver).Set(t.RadioVoltage)
	m.uptime.WithLabelValues(receiver).Set(float64(t.Uptime))
	m.crcPass.WithLabelValues(receiver).Set(float64(t.CRCPass))
	m.crcFail.WithLabelValues(receiver).Set(float64(t.CRCFail))
}

func (m *Metrics) forgetReceiver(receiver string) {
	if m == nil {
		return
	}
	for _, vec := range []*prometheus.GaugeVec{m.temperature, m.radioVoltage, m.uptime, m.crcPass, m.crcFail} {
		vec.DeleteLabelValues(receiver)
	}
}
