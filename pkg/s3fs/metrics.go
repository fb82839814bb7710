package s3fs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// fsMetrics tracks per-filesystem activity. The collectors always exist
// so call sites never nil-check; they are only exported to a registry
// when the user supplies one.
type fsMetrics struct {
	ops           *prometheus.CounterVec
	bytesRead     prometheus.Counter
	bytesWritten  prometheus.Counter
	partsUploaded prometheus.Counter
	openStreams   prometheus.Gauge
}

func newFSMetrics(reg prometheus.Registerer) *fsMetrics {
	m := &fsMetrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nimbusfs",
			Subsystem: "s3",
			Name:      "operations_total",
			Help:      "Filesystem operations by name and result.",
		}, []string{"op", "result"}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nimbusfs",
			Subsystem: "s3",
			Name:      "read_bytes_total",
			Help:      "Bytes fetched from object payloads.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nimbusfs",
			Subsystem: "s3",
			Name:      "written_bytes_total",
			Help:      "Bytes uploaded in object payloads.",
		}),
		partsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nimbusfs",
			Subsystem: "s3",
			Name:      "multipart_parts_total",
			Help:      "Multipart upload parts completed.",
		}),
		openStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nimbusfs",
			Subsystem: "s3",
			Name:      "open_output_streams",
			Help:      "Output streams currently open.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.bytesRead, m.bytesWritten, m.partsUploaded, m.openStreams)
	}
	return m
}

// observeOp records one completed facade operation.
func (m *fsMetrics) observeOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Inc()
}
