// Package metrics defines a nil-safe metrics facade so that every
// component can record counters without a constructor-ordering
// dependency on the concrete backend. Components fall back to Noop when
// no Recorder is wired; the process wires a Prometheus-backed
// implementation at startup via New in pkg/metrics/prometheus.
package metrics

// Recorder is the minimal surface components depend on. The concrete
// Prometheus implementation lives in pkg/metrics/prometheus to keep this
// package free of the client_golang import, avoiding an import cycle
// between the registry constructor and its consumers.
type Recorder interface {
	IncWireMessage(msgID uint16, direction string)
	IncFanOut(notification string)
	IncControlLoopError(loop string)
	ObserveHandlerDuration(op string, seconds float64)
}

// noop is used whenever the caller does not wire a concrete Recorder.
type noop struct{}

func (noop) IncWireMessage(uint16, string)          {}
func (noop) IncFanOut(string)                       {}
func (noop) IncControlLoopError(string)             {}
func (noop) ObserveHandlerDuration(string, float64)  {}

// Noop is a shared no-op Recorder, safe for concurrent use.
var Noop Recorder = noop{}
