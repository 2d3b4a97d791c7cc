package link

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for a connection manager. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	State       prometheus.Gauge
	Transitions *prometheus.CounterVec
	Reconnects  prometheus.Counter
	Polls       *prometheus.CounterVec
	Frames      *prometheus.CounterVec
	Records     *prometheus.CounterVec
}

// NewMetrics registers the link collectors with reg. When reg is nil the
// default registry is used. Registering twice against the same registry
// returns the existing collectors.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
		gatherer = prometheus.DefaultGatherer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	state, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleet_link_state",
		Help: "Current connection state (0 idle, 1 connecting, 2 open, 3 retrying, 4 polling).",
	}), "fleet_link_state")
	if err != nil {
		return nil, err
	}
	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_link_transitions_total",
		Help: "Connection state transitions by target state.",
	}, []string{"state"}), "fleet_link_transitions_total")
	if err != nil {
		return nil, err
	}
	reconnects, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fleet_link_reconnect_attempts_total",
		Help: "Scheduled reconnect attempts.",
	}), "fleet_link_reconnect_attempts_total")
	if err != nil {
		return nil, err
	}
	polls, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_link_polls_total",
		Help: "Fallback polls by result (ok, error, skipped).",
	}, []string{"result"}), "fleet_link_polls_total")
	if err != nil {
		return nil, err
	}
	frames, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_link_frames_total",
		Help: "Inbound channel frames by type; malformed frames are counted as dropped.",
	}, []string{"type"}), "fleet_link_frames_total")
	if err != nil {
		return nil, err
	}
	records, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_link_records_total",
		Help: "Normalized records dispatched to subscribers by source (live, poll).",
	}, []string{"source"}), "fleet_link_records_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		gatherer:    gatherer,
		State:       state,
		Transitions: transitions,
		Reconnects:  reconnects,
		Polls:       polls,
		Frames:      frames,
		Records:     records,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (m *Metrics) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if m != nil && m.gatherer != nil {
		gatherer = m.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) transition(s State) {
	if m == nil {
		return
	}
	m.State.Set(float64(s))
	m.Transitions.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) poll(result string) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result).Inc()
}

func (m *Metrics) frame(kind string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(kind).Inc()
}

func (m *Metrics) record(source string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(source).Inc()
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
