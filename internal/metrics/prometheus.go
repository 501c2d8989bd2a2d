package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Pipeline run metrics
	runsTotal      prometheus.Counter
	runErrorsTotal prometheus.Counter
	jobsBuiltTotal prometheus.Counter
	runDuration    prometheus.Histogram

	// Dispatcher metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	deliveryDuration      prometheus.Histogram
	retryAttemptsTotal    *prometheus.CounterVec
	jobsInFlight          prometheus.Gauge

	// Job bus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Retention metrics
	keysPrunedTotal prometheus.Counter

	// Leader election metrics
	isLeader        prometheus.Gauge
	leaderAcquired  prometheus.Counter
	leaderLostTotal *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initPipelineMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initJobBusMetrics(reg)
	s.initRetentionMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initPipelineMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flagalerts_pipeline_runs_total",
		Help: "Total number of pipeline runs started.",
	})
	s.runErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flagalerts_pipeline_run_errors_total",
		Help: "Total number of pipeline runs that failed.",
	})
	s.jobsBuiltTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flagalerts_pipeline_jobs_built_total",
		Help: "Total number of notification jobs built.",
	})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flagalerts_pipeline_run_duration_seconds",
		Help:    "Duration of each pipeline run in seconds.",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	s.register(reg, s.runsTotal, "flagalerts_pipeline_runs_total")
	s.register(reg, s.runErrorsTotal, "flagalerts_pipeline_run_errors_total")
	s.register(reg, s.jobsBuiltTotal, "flagalerts_pipeline_jobs_built_total")
	s.register(reg, s.runDuration, "flagalerts_pipeline_run_duration_seconds")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flagalerts_dispatcher_delivery_attempts_total",
		Help: "Total number of delivery attempts.",
	}, []string{"attempt", "status_class"})

	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flagalerts_dispatcher_delivery_outcomes_total",
		Help: "Total number of final delivery outcomes per job.",
	}, []string{"outcome"})

	s.deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flagalerts_dispatcher_delivery_duration_seconds",
		Help:    "Delivery attempt latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flagalerts_dispatcher_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})

	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagalerts_dispatcher_jobs_in_flight",
		Help: "Number of notification jobs currently being processed.",
	})

	s.register(reg, s.deliveryAttemptsTotal, "flagalerts_dispatcher_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "flagalerts_dispatcher_delivery_outcomes_total")
	s.register(reg, s.deliveryDuration, "flagalerts_dispatcher_delivery_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "flagalerts_dispatcher_retry_attempts_total")
	s.register(reg, s.jobsInFlight, "flagalerts_dispatcher_jobs_in_flight")
}

func (s *PrometheusSink) initJobBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagalerts_jobbus_buffer_size",
		Help: "Current number of jobs in the bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagalerts_jobbus_buffer_capacity",
		Help: "Configured capacity of the bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagalerts_jobbus_buffer_saturation",
		Help: "Bus buffer fill ratio between 0 and 1.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flagalerts_jobbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full at shutdown).",
	})

	s.register(reg, s.bufferSize, "flagalerts_jobbus_buffer_size")
	s.register(reg, s.bufferCapacity, "flagalerts_jobbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "flagalerts_jobbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "flagalerts_jobbus_emit_errors_total")
}

func (s *PrometheusSink) initRetentionMetrics(reg prometheus.Registerer) {
	s.keysPrunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flagalerts_retention_keys_pruned_total",
		Help: "Total number of expired tracking keys pruned.",
	})

	s.register(reg, s.keysPrunedTotal, "flagalerts_retention_keys_pruned_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagalerts_leader_is_leader",
		Help: "1 when this instance holds the leader lock, else 0.",
	})
	s.leaderAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flagalerts_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flagalerts_leader_lost_total",
		Help: "Total number of times leadership was lost, by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "flagalerts_leader_is_leader")
	s.register(reg, s.leaderAcquired, "flagalerts_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "flagalerts_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Pipeline run metrics implementation

func (s *PrometheusSink) RunStarted() {
	s.runsTotal.Inc()
}

func (s *PrometheusSink) RunCompleted(duration time.Duration, jobsBuilt int, err error) {
	s.runDuration.Observe(duration.Seconds())
	s.jobsBuiltTotal.Add(float64(jobsBuilt))
	if err != nil {
		s.runErrorsTotal.Inc()
	}
}

// Dispatcher metrics implementation

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.deliveryDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	label := "false"
	if retryable {
		label = "true"
	}
	s.retryAttemptsTotal.WithLabelValues(label).Inc()
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

// Job bus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Retention metrics implementation

func (s *PrometheusSink) TrackingKeysPruned(count int) {
	s.keysPrunedTotal.Add(float64(count))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
	} else {
		s.isLeader.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquired.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}

// Compile-time interface assertion
var _ Sink = (*PrometheusSink)(nil)
