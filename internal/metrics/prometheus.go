// Package metrics exposes sonny's Prometheus collectors: tick/probe
// latency, host-state transitions, and resurrection outcomes, scraped by
// whatever monitoring stack watches the fleet.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the Prometheus collectors for one sonny process.
type Metrics struct {
	registry *prometheus.Registry

	ticksTotal         *prometheus.CounterVec
	tickDuration       *prometheus.HistogramVec
	probeDuration      *prometheus.HistogramVec
	suspicionsTotal    *prometheus.CounterVec
	deadHostsTotal     *prometheus.CounterVec
	resurrectionsTotal *prometheus.CounterVec
	resurrectDuration  *prometheus.HistogramVec
	queueDepth         *prometheus.GaugeVec
	hostsByState       *prometheus.GaugeVec
	uptime             prometheus.GaugeFunc
}

var defaultBuckets = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

var startTime = time.Now()

var current *Metrics

// InitPrometheus builds and registers sonny's collectors under namespace,
// replacing any previously initialized set. Safe to call once per process.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		ticksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Total supervisor ticks run, by cloud",
			},
			[]string{"cloud"},
		),

		tickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_milliseconds",
				Help:      "Duration of one supervisor tick",
				Buckets:   buckets,
			},
			[]string{"cloud"},
		),

		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_duration_milliseconds",
				Help:      "Duration of a TCP liveness probe batch",
				Buckets:   buckets,
			},
			[]string{"cloud"},
		),

		suspicionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "suspicions_total",
				Help:      "Hypervisors newly marked suspicious, by cloud",
			},
			[]string{"cloud"},
		),

		deadHostsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dead_hosts_total",
				Help:      "Hypervisors confirmed dead after failed probing, by cloud",
			},
			[]string{"cloud"},
		),

		resurrectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resurrections_total",
				Help:      "Resurrection attempts, by cloud and result",
			},
			[]string{"cloud", "result"},
		),

		resurrectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resurrection_duration_milliseconds",
				Help:      "Duration of a full resurrection procedure",
				Buckets:   []float64{100, 500, 1000, 5000, 15000, 30000, 60000, 180000, 600000},
			},
			[]string{"cloud"},
		),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "job_queue_depth",
				Help:      "Pending jobs in the Redis job queue, by cloud",
			},
			[]string{"cloud"},
		),

		hostsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "hosts_by_state",
				Help:      "Hypervisor count, by state label",
			},
			[]string{"cloud", "state"},
		),
	}

	m.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since this sonny process started",
		},
		func() float64 {
			return time.Since(startTime).Seconds()
		},
	)

	registry.MustRegister(
		m.ticksTotal,
		m.tickDuration,
		m.probeDuration,
		m.suspicionsTotal,
		m.deadHostsTotal,
		m.resurrectionsTotal,
		m.resurrectDuration,
		m.queueDepth,
		m.hostsByState,
		m.uptime,
	)

	current = m
}

// RecordTick records the outcome of one completed supervisor tick.
func RecordTick(cloud string, durationMs int64) {
	if current == nil {
		return
	}
	current.ticksTotal.WithLabelValues(cloud).Inc()
	current.tickDuration.WithLabelValues(cloud).Observe(float64(durationMs))
}

// RecordProbe records the wall-clock cost of one probe batch.
func RecordProbe(cloud string, durationMs int64) {
	if current == nil {
		return
	}
	current.probeDuration.WithLabelValues(cloud).Observe(float64(durationMs))
}

// RecordSuspicion counts a hypervisor newly marked suspicious.
func RecordSuspicion(cloud string) {
	if current == nil {
		return
	}
	current.suspicionsTotal.WithLabelValues(cloud).Inc()
}

// RecordDeadHost counts a hypervisor confirmed dead.
func RecordDeadHost(cloud string) {
	if current == nil {
		return
	}
	current.deadHostsTotal.WithLabelValues(cloud).Inc()
}

// RecordResurrection records one resurrection attempt's outcome and
// duration. result is "success" or "failed".
func RecordResurrection(cloud, result string, durationMs int64) {
	if current == nil {
		return
	}
	current.resurrectionsTotal.WithLabelValues(cloud, result).Inc()
	current.resurrectDuration.WithLabelValues(cloud).Observe(float64(durationMs))
}

// SetQueueDepth reports the current job queue depth for a cloud.
func SetQueueDepth(cloud string, depth int) {
	if current == nil {
		return
	}
	current.queueDepth.WithLabelValues(cloud).Set(float64(depth))
}

// SetHostsByState reports the current hypervisor count for one state.
func SetHostsByState(cloud, state string, count int) {
	if current == nil {
		return
	}
	current.hostsByState.WithLabelValues(cloud, state).Set(float64(count))
}

// Handler returns an HTTP handler serving the registry for scraping.
func Handler() http.Handler {
	if current == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(current.registry, promhttp.HandlerOpts{})
}

// Registry returns the active registry, or nil if InitPrometheus was never
// called.
func Registry() *prometheus.Registry {
	if current == nil {
		return nil
	}
	return current.registry
}
