// Package metrics provides Prometheus instrumentation for constellation.
//
// The package exposes pre-registered collectors for the progressive loader,
// the column materializer, the filter engine and the render sampler:
//
//	timer := metrics.NewTimer()
//	visible := engine.Evaluate(table)
//	metrics.FilterEvaluationLatency.WithLabelValues(dataset).Observe(timer.Stop().Seconds())
//	metrics.VisiblePoints.WithLabelValues(dataset).Set(float64(len(visible)))
package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

var (
	// ShardBytesLoaded counts downloaded shard bytes.
	// Labels: dataset
	ShardBytesLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_shard_bytes_total",
			Help: "Total shard bytes downloaded",
		},
		[]string{"dataset"},
	)

	// RecordsLoaded counts records appended to the record table.
	// Labels: dataset
	RecordsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_records_loaded_total",
			Help: "Total records appended to the record table",
		},
		[]string{"dataset"},
	)

	// ShardLoads counts load requests by outcome.
	// Labels: dataset, status (success/failure/dropped/noop)
	ShardLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_shard_loads_total",
			Help: "Shard load requests by outcome",
		},
		[]string{"dataset", "status"},
	)

	// ResidentShards tracks how many shards are merged into the table.
	ResidentShards = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "constellation_resident_shards",
			Help: "Number of shards merged into the record table",
		},
		[]string{"dataset"},
	)

	// ColumnMaterializations counts materialized columns.
	// Labels: dataset, column
	ColumnMaterializations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_column_materializations_total",
			Help: "Columns materialized across all resident shards",
		},
		[]string{"dataset", "column"},
	)

	// MalformedValues counts values skipped during parsing.
	MalformedValues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "constellation_malformed_values_total",
			Help: "Values skipped because they could not be parsed",
		},
		[]string{"dataset", "column"},
	)

	// FilterEvaluationLatency tracks the duration of a full conjunction pass in seconds.
	FilterEvaluationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "constellation_filter_evaluation_seconds",
			Help: "Duration of filter conjunction evaluation",
			Buckets: []float64{
				0.0001, // 100μs - tiny tables
				0.001,  // 1ms
				0.01,   // 10ms
				0.05,   // 50ms - one interactive frame budget
				0.1,    // 100ms
				0.5,    // 500ms
				1,      // 1s - tens of millions of records, several filters
			},
		},
		[]string{"dataset"},
	)

	// VisiblePoints tracks the size of the visible-index set.
	VisiblePoints = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "constellation_visible_points",
			Help: "Records passing the current filter conjunction",
		},
		[]string{"dataset"},
	)

	// RenderedPoints tracks the size of the rendered-index set.
	RenderedPoints = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "constellation_rendered_points",
			Help: "Records handed to the rendering surface",
		},
		[]string{"dataset"},
	)

	// ProcessResidentBytes tracks the resident set size of this process.
	ProcessResidentBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "constellation_process_resident_bytes",
			Help: "Resident set size of the process in bytes",
		},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// SampleProcessMemory updates ProcessResidentBytes and returns the RSS.
// Shards are retained in memory for later column materialization, so RSS
// grows with the number of resident shards.
func SampleProcessMemory() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits int32
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	ProcessResidentBytes.Set(float64(info.RSS))
	return info.RSS, nil
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
