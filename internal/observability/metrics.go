package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fragment channels used as metric labels.
const (
	ChannelThinking = "thinking"
	ChannelReply    = "reply"
)

// Metrics groups all Prometheus instruments used by the service. Each
// instance owns its registry so several servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions       prometheus.Gauge
	SessionEvents        *prometheus.CounterVec
	WSMessages           *prometheus.CounterVec
	ProviderErrors       *prometheus.CounterVec
	ChatTurns            *prometheus.CounterVec
	StreamedFragments    *prometheus.CounterVec
	FirstFragmentLatency *prometheus.HistogramVec
	WorkflowActions      *prometheus.CounterVec

	Stages *TurnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active assistant sessions.",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Model provider errors by provider and code.",
		}, []string{"provider", "code"}),
		ChatTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by transport and outcome.",
		}, []string{"transport", "outcome"}),
		StreamedFragments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streamed_fragments_total",
			Help:      "Fragments emitted by the think-tag splitter, by channel.",
		}, []string{"channel"}),
		FirstFragmentLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_fragment_latency_ms",
			Help:      "Latency from request to the first fragment of a channel in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}, []string{"channel"}),
		WorkflowActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_actions_total",
			Help:      "Measurement workflow actions by action and result.",
		}, []string{"action", "result"}),
		Stages: NewTurnStageWindow(256),
	}
}

// ObserveFirstFragment records first-fragment latency for a channel in both
// the histogram and the rolling stage window.
func (m *Metrics) ObserveFirstFragment(channel string, d time.Duration) {
	ms := float64(d.Milliseconds())
	m.FirstFragmentLatency.WithLabelValues(channel).Observe(ms)
	m.Stages.Observe("request_to_first_"+channel, ms)
}

// Handler serves this instance's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
