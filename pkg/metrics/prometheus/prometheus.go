// Package prometheus implements metrics.Recorder on top of
// github.com/prometheus/client_golang, mirroring the registration style
// of the teacher's metrics backend: one constructor, one registry,
// vector metrics labeled by the dimension callers care about.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clusterfs/fleetmgmtd/pkg/metrics"
)

type Backend struct {
	wireMessages      *prometheus.CounterVec
	fanOuts           *prometheus.CounterVec
	controlLoopErrors *prometheus.CounterVec
	handlerDuration   *prometheus.HistogramVec
}

var _ metrics.Recorder = (*Backend)(nil)

// New registers the metric vectors against reg and returns a Backend.
// Pass prometheus.DefaultRegisterer for the process default registry.
func New(reg prometheus.Registerer) *Backend {
	b := &Backend{
		wireMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mgmtd",
			Name:      "wire_messages_total",
			Help:      "Wire protocol messages processed, by message id and direction.",
		}, []string{"msg_id", "direction"}),
		fanOuts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mgmtd",
			Name:      "fanout_notifications_total",
			Help:      "Fan-out notifications sent, by notification kind.",
		}, []string{"notification"}),
		controlLoopErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mgmtd",
			Name:      "control_loop_errors_total",
			Help:      "Errors logged by background control loops, by loop name.",
		}, []string{"loop"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mgmtd",
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(b.wireMessages, b.fanOuts, b.controlLoopErrors, b.handlerDuration)
	return b
}

func (b *Backend) IncWireMessage(msgID uint16, direction string) {
	b.wireMessages.WithLabelValues(formatMsgID(msgID), direction).Inc()
}

func (b *Backend) IncFanOut(notification string) {
	b.fanOuts.WithLabelValues(notification).Inc()
}

func (b *Backend) IncControlLoopError(loop string) {
	b.controlLoopErrors.WithLabelValues(loop).Inc()
}

func (b *Backend) ObserveHandlerDuration(op string, seconds float64) {
	b.handlerDuration.WithLabelValues(op).Observe(seconds)
}

func formatMsgID(id uint16) string {
	const hexDigits = "0123456789abcdef"
	buf := [6]byte{'0', 'x', '0', '0', '0', '0'}
	for i := 5; i >= 2; i-- {
		buf[i] = hexDigits[id&0xF]
		id >>= 4
	}
	return string(buf[:])
}
