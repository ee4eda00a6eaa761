package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guardkit/guardkit/pkg/resilience"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Guard metrics
	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec
	BreakerRejections  *prometheus.CounterVec
	BulkheadRejections *prometheus.CounterVec
	BulkheadQueueWait  *prometheus.HistogramVec
	BulkheadActive     *prometheus.GaugeVec
	BulkheadQueued     *prometheus.GaugeVec
	RetryAttempts      *prometheus.CounterVec
	Fallbacks          *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "guardkit",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),

		// Guard metrics
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "guarded_operations_total",
				Help:      "Total number of guarded operation calls",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "guarded_operation_duration_seconds",
				Help:      "Guarded operation duration in seconds, including retries and queueing",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation", "outcome"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"key"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"key", "from", "to"},
		),
		BreakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_rejections_total",
				Help:      "Total number of calls rejected by an open circuit breaker",
			},
			[]string{"key"},
		),
		BulkheadRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "bulkhead_rejections_total",
				Help:      "Total number of calls rejected by a bulkhead",
			},
			[]string{"key", "reason"},
		),
		BulkheadQueueWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "bulkhead_queue_wait_seconds",
				Help:      "Time spent waiting in a bulkhead queue before getting a slot",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"key"},
		),
		BulkheadActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "bulkhead_active",
				Help:      "Number of calls currently holding a bulkhead slot",
			},
			[]string{"key"},
		),
		BulkheadQueued: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "bulkhead_queued",
				Help:      "Number of calls waiting in a bulkhead queue",
			},
			[]string{"key"},
		),
		RetryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts after a failed first try",
			},
			[]string{"operation"},
		),
		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "fallbacks_total",
				Help:      "Total number of fallback invocations",
			},
			[]string{"operation", "status"},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component", "error_type"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "panics_total",
				Help:      "Total number of panics",
			},
			[]string{"component"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.OperationsTotal,
		m.OperationDuration,
		m.BreakerState,
		m.BreakerTransitions,
		m.BreakerRejections,
		m.BulkheadRejections,
		m.BulkheadQueueWait,
		m.BulkheadActive,
		m.BulkheadQueued,
		m.RetryAttempts,
		m.Fallbacks,
		m.ErrorsTotal,
		m.PanicsTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic records panic metrics
func (m *Metrics) RecordPanic(component string) {
	if m.PanicsTotal == nil {
		return
	}

	m.PanicsTotal.WithLabelValues(component).Inc()
}

// Observer returns a guard activity observer backed by these metrics,
// suitable for resilience.ComposerConfig.Observer.
func (m *Metrics) Observer() resilience.Observer {
	return &guardObserver{metrics: m}
}

// guardObserver translates guard activity into metric updates
type guardObserver struct {
	metrics *Metrics
}

func (o *guardObserver) OperationCompleted(name string, success bool, duration time.Duration) {
	if o.metrics.OperationsTotal == nil {
		return
	}

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	o.metrics.OperationsTotal.WithLabelValues(name, outcome).Inc()
	o.metrics.OperationDuration.WithLabelValues(name, outcome).Observe(duration.Seconds())
}

func (o *guardObserver) BreakerTransition(key string, from, to resilience.CircuitState) {
	if o.metrics.BreakerState == nil {
		return
	}

	o.metrics.BreakerState.WithLabelValues(key).Set(float64(to))
	o.metrics.BreakerTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
}

func (o *guardObserver) BreakerRejected(key string) {
	if o.metrics.BreakerRejections == nil {
		return
	}

	o.metrics.BreakerRejections.WithLabelValues(key).Inc()
}

func (o *guardObserver) BulkheadRejected(key string, reason resilience.RejectionReason) {
	if o.metrics.BulkheadRejections == nil {
		return
	}

	o.metrics.BulkheadRejections.WithLabelValues(key, string(reason)).Inc()
}

func (o *guardObserver) BulkheadQueued(key string, waited time.Duration) {
	if o.metrics.BulkheadQueueWait == nil {
		return
	}

	o.metrics.BulkheadQueueWait.WithLabelValues(key).Observe(waited.Seconds())
}

func (o *guardObserver) RetryAttempted(name string, attempt int) {
	if o.metrics.RetryAttempts == nil {
		return
	}

	o.metrics.RetryAttempts.WithLabelValues(name).Inc()
}

func (o *guardObserver) FallbackInvoked(name string, success bool) {
	if o.metrics.Fallbacks == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}
	o.metrics.Fallbacks.WithLabelValues(name, status).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// GaugeCollector polls the guard registries and keeps the state gauges
// current even when no traffic is flowing.
type GaugeCollector struct {
	metrics   *Metrics
	breakers  *resilience.CircuitBreakerRegistry
	bulkheads *resilience.BulkheadRegistry
	interval  time.Duration
	stopCh    chan struct{}
}

// NewGaugeCollector creates a new gauge collector over the given registries
func NewGaugeCollector(metrics *Metrics, breakers *resilience.CircuitBreakerRegistry, bulkheads *resilience.BulkheadRegistry, interval time.Duration) *GaugeCollector {
	return &GaugeCollector{
		metrics:   metrics,
		breakers:  breakers,
		bulkheads: bulkheads,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins gauge collection
func (gc *GaugeCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-gc.stopCh:
			return
		case <-ticker.C:
			gc.collect()
		}
	}
}

// Stop stops gauge collection
func (gc *GaugeCollector) Stop() {
	close(gc.stopCh)
}

func (gc *GaugeCollector) collect() {
	if gc.metrics.BreakerState == nil {
		return
	}

	for key, snap := range gc.breakers.Stats() {
		gc.metrics.BreakerState.WithLabelValues(key).Set(float64(snap.State))
	}
	for key, snap := range gc.bulkheads.Stats() {
		gc.metrics.BulkheadActive.WithLabelValues(key).Set(float64(snap.Active))
		gc.metrics.BulkheadQueued.WithLabelValues(key).Set(float64(snap.Queued))
	}
}
