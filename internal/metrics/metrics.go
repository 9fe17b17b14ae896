package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates the station's Prometheus registry with the standard
// process and Go collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics holds the station's own instruments.
type AppMetrics struct {
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	FramesDecoded  prometheus.Counter
	CRCFailures    prometheus.Counter
	CommandsTotal  *prometheus.CounterVec // labels: command, result=ok|error
	DevicesGauge   prometheus.Gauge
	QueueWaitTotal prometheus.Counter
}

// NewAppMetrics registers and returns the station instruments.
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "serial_bytes_sent_total",
			Help: "Total bytes written to the serial bus.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "serial_bytes_received_total",
			Help: "Total bytes drained from the serial bus.",
		}),
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frames_decoded_total",
			Help: "Complete frames decoded from the bus.",
		}),
		CRCFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frames_crc_failures_total",
			Help: "Frames dropped due to checksum mismatch.",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "commands_total",
			Help: "Dispatched commands by name and result.",
		}, []string{"command", "result"}),
		DevicesGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chain_devices",
			Help: "Devices identified by the last ping.",
		}),
		QueueWaitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "command_queue_polls_total",
			Help: "Blocking polls of the command queue.",
		}),
	}
	reg.MustRegister(m.BytesSent, m.BytesReceived, m.FramesDecoded,
		m.CRCFailures, m.CommandsTotal, m.DevicesGauge, m.QueueWaitTotal)
	return m
}
