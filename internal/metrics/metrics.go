package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Progress metrics
	LastCommittedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmproc_last_committed_block",
			Help: "Height of the last committed block",
		},
	)

	ChainHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmproc_chain_height",
			Help: "Chain height as reported by the active data source",
		},
	)

	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmproc_batches_processed_total",
			Help: "Total number of batches handed to the handler",
		},
		[]string{"source"},
	)

	BlocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmproc_blocks_processed_total",
			Help: "Total number of blocks handed to the handler",
		},
		[]string{"source"},
	)

	BatchProcessingTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmproc_batch_processing_duration_seconds",
			Help:    "Time spent in the handler per batch, commit excluded",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Upstream metrics
	archiveQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmproc_archive_queries_total",
			Help: "Total number of archive HTTP queries",
		},
		[]string{"endpoint"},
	)

	archiveQueryTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evmproc_archive_query_duration_seconds",
			Help:    "Duration of archive HTTP queries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	rpcRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmproc_transport_retries_total",
			Help: "Total number of upstream request retries",
		},
		[]string{"operation"},
	)

	// Hot state metrics
	Rollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evmproc_rollbacks_total",
			Help: "Total number of rolled-back hot blocks",
		},
	)

	ReorgDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evmproc_reorg_depth_blocks",
			Help:    "Depth of detected reorganizations in blocks",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		},
	)

	ChangeRecordsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evmproc_change_records_written_total",
			Help: "Total number of change records appended to the hot change log",
		},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmproc_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evmproc_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmproc_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evmproc_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evmproc_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func LastCommittedBlockSet(height uint64) {
	LastCommittedBlock.Set(float64(height))
}

func ChainHeightSet(height uint64) {
	ChainHeight.Set(float64(height))
}

func BatchProcessedInc(source string, blocks int) {
	BatchesProcessed.WithLabelValues(source).Inc()
	BlocksProcessed.WithLabelValues(source).Add(float64(blocks))
}

func BatchProcessingTimeLog(source string, duration time.Duration) {
	BatchProcessingTime.WithLabelValues(source).Observe(duration.Seconds())
}

func ArchiveQueryInc(endpoint string, duration time.Duration) {
	archiveQueries.WithLabelValues(endpoint).Inc()
	archiveQueryTime.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func TransportRetryInc(operation string) {
	rpcRetries.WithLabelValues(operation).Inc()
}

func RollbackInc() {
	Rollbacks.Inc()
}

func ReorgDepthLog(depth uint64) {
	ReorgDepth.Observe(float64(depth))
}

func ChangeRecordsWrittenAdd(count int) {
	ChangeRecordsWritten.Add(float64(count))
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	// Update uptime
	Uptime.Set(time.Since(startTime).Seconds())

	// Update goroutine count
	Goroutines.Set(float64(runtime.NumGoroutine()))

	// Update memory statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
