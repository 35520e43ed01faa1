package gomatrixstateres

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus metrics recorded by state resolution. A nil
// *Metrics records nothing.
type Metrics struct {
	resolutions  *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	conflicted   prometheus.Histogram
	rejected     prometheus.Counter
	cacheLookups *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with the registerer,
// if it is not nil.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gomatrixstateres",
			Name:      "resolutions_total",
			Help:      "Number of state resolutions by algorithm and outcome.",
		}, []string{"algorithm", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gomatrixstateres",
			Name:      "resolution_duration_seconds",
			Help:      "Time taken to resolve state.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"algorithm"}),
		conflicted: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gomatrixstateres",
			Name:      "conflicted_slots",
			Help:      "Number of conflicted state slots per resolution.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gomatrixstateres",
			Name:      "rejected_events_total",
			Help:      "Number of events rejected during state resolution.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gomatrixstateres",
			Name:      "event_cache_lookups_total",
			Help:      "Number of event cache lookups by result.",
		}, []string{"result"}),
	}
	if registerer == nil {
		return m, nil
	}
	for _, collector := range []prometheus.Collector{
		m.resolutions, m.duration, m.conflicted, m.rejected, m.cacheLookups,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeResolution(algorithm StateResAlgorithm, started time.Time, conflicted, rejected int, err error) {
	if m == nil {
		return
	}
	label := "v" + strconv.Itoa(int(algorithm))
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.resolutions.WithLabelValues(label, outcome).Inc()
	m.duration.WithLabelValues(label).Observe(time.Since(started).Seconds())
	m.conflicted.Observe(float64(conflicted))
	m.rejected.Add(float64(rejected))
}

func (m *Metrics) observeCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}
