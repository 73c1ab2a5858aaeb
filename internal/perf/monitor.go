// Package perf is read-only instrumentation for the confidence pool: it
// observes reads, cache hits, latency, and estimated cost, and raises
// leveled alerts when targets are missed. It never alters control flow.
package perf

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Firestore pricing: $0.06 per 100k document reads.
const CostPerRead = 0.06 / 100000

const (
	slowOpThreshold   = 500 * time.Millisecond
	loadTimeTarget    = 200 * time.Millisecond
	readsPerReqTarget = 2.0
	errorRateTarget   = 5.0
)

var (
	storeReadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "confidence_store_reads_total",
		Help: "Total document store reads issued by the confidence pool",
	})
	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "confidence_cache_hits_total",
		Help: "Total leaderboard cache hits",
	})
	requestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "confidence_request_duration_seconds",
		Help:    "Duration of confidence pool operations",
		Buckets: prometheus.DefBuckets,
	})
	poolErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "confidence_errors_total",
		Help: "Confidence pool errors by outcome",
	}, []string{"outcome"})
)

// InitPrometheus registers the collectors. Call once from main.
func InitPrometheus() {
	prometheus.MustRegister(storeReadsTotal)
	prometheus.MustRegister(cacheHitsTotal)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(poolErrorsTotal)
}

type SlowOp struct {
	Op       string        `json:"op"`
	Duration time.Duration `json:"duration_ms"`
	At       time.Time     `json:"at"`
}

type Alert struct {
	Level   string    `json:"level"` // info|warning|error|critical
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Metrics is a point-in-time snapshot of the session counters.
type Metrics struct {
	TotalReads      int     `json:"total_reads"`
	CacheHits       int     `json:"cache_hits"`
	Requests        int     `json:"requests"`
	AverageLoadMS   float64 `json:"average_load_ms"`
	ReadsPerRequest float64 `json:"reads_per_request"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	ErrorRate       float64 `json:"error_rate"`
	EstimatedCost   float64 `json:"estimated_cost_usd"`
	CostSaved       float64 `json:"cost_saved_usd"`
	SlowOps         int     `json:"slow_ops"`
	Errors          int     `json:"errors"`
	Recovered       int     `json:"recovered"`
}

type Monitor struct {
	mu        sync.Mutex
	reads     int
	cacheHits int
	requests  int
	errors    int
	recovered int
	loadTimes []time.Duration
	slowOps   []SlowOp
	alerts    []Alert
	now       func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{now: time.Now}
}

func (m *Monitor) RecordReads(n int) {
	storeReadsTotal.Add(float64(n))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads += n
}

func (m *Monitor) RecordCacheHit() {
	cacheHitsTotal.Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHits++
}

// RecordRequest logs one operation's latency and re-checks the alert
// thresholds.
func (m *Monitor) RecordRequest(op string, d time.Duration) {
	requestDuration.Observe(d.Seconds())
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.loadTimes = append(m.loadTimes, d)
	if d > slowOpThreshold {
		m.slowOps = append(m.slowOps, SlowOp{Op: op, Duration: d, At: m.now()})
		m.alert("warning", "slow operation: "+op)
	}
	m.checkThresholdsLocked()
}

func (m *Monitor) RecordError() {
	poolErrorsTotal.WithLabelValues("error").Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
	m.checkThresholdsLocked()
}

func (m *Monitor) RecordRecovery() {
	poolErrorsTotal.WithLabelValues("recovered").Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recovered++
}

func (m *Monitor) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Metrics{
		TotalReads:    m.reads,
		CacheHits:     m.cacheHits,
		Requests:      m.requests,
		Errors:        m.errors,
		Recovered:     m.recovered,
		SlowOps:       len(m.slowOps),
		EstimatedCost: float64(m.reads) * CostPerRead,
		CostSaved:     float64(m.cacheHits) * CostPerRead,
	}
	if len(m.loadTimes) > 0 {
		var total time.Duration
		for _, d := range m.loadTimes {
			total += d
		}
		s.AverageLoadMS = float64(total.Milliseconds()) / float64(len(m.loadTimes))
	}
	if m.requests > 0 {
		s.ReadsPerRequest = float64(m.reads) / float64(m.requests)
		s.CacheHitRate = 100 * float64(m.cacheHits) / float64(m.requests)
		s.ErrorRate = 100 * float64(m.errors) / float64(m.requests)
	}
	return s
}

func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// CriticalAlerts returns only critical-level alerts, for surfaces that must
// not drown the operator in warnings.
func (m *Monitor) CriticalAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0)
	for _, a := range m.alerts {
		if a.Level == "critical" {
			out = append(out, a)
		}
	}
	return out
}

func (m *Monitor) checkThresholdsLocked() {
	if m.requests == 0 {
		return
	}
	var total time.Duration
	for _, d := range m.loadTimes {
		total += d
	}
	if len(m.loadTimes) > 0 {
		avg := total / time.Duration(len(m.loadTimes))
		if avg > loadTimeTarget {
			m.alert("warning", "average load time above 200ms target")
		}
	}
	if float64(m.reads)/float64(m.requests) > readsPerReqTarget {
		m.alert("error", "reads per request above the 2-read target")
	}
	if 100*float64(m.errors)/float64(m.requests) > errorRateTarget {
		m.alert("critical", "error rate above 5%")
	}
}

// alert appends once per message so a persistently-missed target does not
// flood the list.
func (m *Monitor) alert(level, message string) {
	for _, a := range m.alerts {
		if a.Message == message {
			return
		}
	}
	m.alerts = append(m.alerts, Alert{Level: level, Message: message, At: m.now()})
}
