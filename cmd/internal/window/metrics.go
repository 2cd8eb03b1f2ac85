package window

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsObserver exports lifecycle events as Prometheus metrics.
type MetricsObserver struct {
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	merged        *prometheus.CounterVec
	stale         *prometheus.CounterVec
	renumbers     prometheus.Counter
	sends         *prometheus.CounterVec
	origin        prometheus.Gauge
	size          prometheus.Gauge
}

// NewMetricsObserver registers the window metrics on reg.
// A nil registerer uses prometheus.DefaultRegisterer.
func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &MetricsObserver{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgwindow",
			Subsystem: "window",
			Name:      "fetches_total",
			Help:      "Paged reads issued by the window, by kind and result.",
		}, []string{"kind", "result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "msgwindow",
			Subsystem: "window",
			Name:      "fetch_duration_seconds",
			Help:      "Paged read latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		merged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgwindow",
			Subsystem: "window",
			Name:      "merged_messages_total",
			Help:      "Messages merged into the window, by source and outcome.",
		}, []string{"source", "outcome"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgwindow",
			Subsystem: "window",
			Name:      "stale_updates_total",
			Help:      "Incoming versions dropped by last-write-wins, by source.",
		}, []string{"source"}),
		renumbers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgwindow",
			Subsystem: "window",
			Name:      "renumbers_total",
			Help:      "Virtual index renumbering passes.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgwindow",
			Subsystem: "window",
			Name:      "sends_total",
			Help:      "Local submissions, by result.",
		}, []string{"result"}),
		origin: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "msgwindow",
			Subsystem: "window",
			Name:      "origin",
			Help:      "Virtual index of the oldest loaded message.",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "msgwindow",
			Subsystem: "window",
			Name:      "messages",
			Help:      "Messages currently loaded.",
		}),
	}

	for _, c := range []prometheus.Collector{m.fetches, m.fetchDuration, m.merged, m.stale, m.renumbers, m.sends, m.origin, m.size} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MetricsObserver) FetchStarted(FetchKind) {}

func (m *MetricsObserver) FetchFinished(kind FetchKind, _ int, took time.Duration, err error) {
	m.fetches.WithLabelValues(string(kind), resultLabel(err)).Inc()
	m.fetchDuration.WithLabelValues(string(kind)).Observe(took.Seconds())
}

func (m *MetricsObserver) MergeApplied(src Source, res MergeResult, origin int) {
	s := string(src)
	m.merged.WithLabelValues(s, "inserted").Add(float64(res.InsertedBefore + res.InsertedAfter))
	m.merged.WithLabelValues(s, "replaced").Add(float64(res.Replaced))
	m.origin.Set(float64(origin))
	m.size.Set(float64(len(res.Messages)))
}

func (m *MetricsObserver) StaleIgnored(src Source, _ string) {
	m.stale.WithLabelValues(string(src)).Inc()
}

func (m *MetricsObserver) Renumbered(_ uint64, origin int) {
	m.renumbers.Inc()
	m.origin.Set(float64(origin))
}

func (m *MetricsObserver) StateChanged(State, State) {}

func (m *MetricsObserver) SendFinished(_ time.Duration, err error) {
	m.sends.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
