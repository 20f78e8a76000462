package pocket

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of a pocket.
// A nil *Metrics records nothing.
type Metrics struct {
	stores       prometheus.Counter
	loads        prometheus.Counter
	failures     *prometheus.CounterVec
	blobsWritten prometheus.Counter
	blobBytes    prometheus.Counter
	duration     *prometheus.HistogramVec
	tracked      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stores: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pocket",
			Name:      "stores_total",
			Help:      "Total number of successful store calls",
		}),
		loads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pocket",
			Name:      "loads_total",
			Help:      "Total number of successful load calls",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pocket",
			Name:      "failures_total",
			Help:      "Total number of failed operations",
		}, []string{"op"}),
		blobsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pocket",
			Subsystem: "blob",
			Name:      "written_total",
			Help:      "Total number of blob payloads written",
		}),
		blobBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pocket",
			Subsystem: "blob",
			Name:      "written_bytes_total",
			Help:      "Total number of blob payload bytes written",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pocket",
			Name:      "operation_duration_seconds",
			Help:      "Duration of store, load and cleanup calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pocket",
			Name:      "tracked_objects",
			Help:      "Number of objects currently tracked",
		}),
	}

	var errs []error
	for _, c := range []prometheus.Collector{m.stores, m.loads, m.failures, m.blobsWritten, m.blobBytes, m.duration, m.tracked} {
		errs = append(errs, reg.Register(c))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) recordStore(start time.Time, blobs int, bytes int64) {
	if m == nil {
		return
	}
	m.stores.Inc()
	m.blobsWritten.Add(float64(blobs))
	m.blobBytes.Add(float64(bytes))
	m.duration.WithLabelValues("store").Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordLoad(start time.Time) {
	if m == nil {
		return
	}
	m.loads.Inc()
	m.duration.WithLabelValues("load").Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordCleanup(start time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues("cleanup").Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordFailure(op string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op).Inc()
}

func (m *Metrics) updateTracked(n int) {
	if m == nil {
		return
	}
	m.tracked.Set(float64(n))
}
