// Package metrics defines the Prometheus collectors shared by the pipeline
// and the query server.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GranulesDownloaded counts granule files fetched, by product and outcome.
	GranulesDownloaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phpollution_granules_downloaded_total",
			Help: "Total number of granule files downloaded",
		},
		[]string{"product", "status"}, // status=success/failure/cached
	)

	// BytesDownloaded counts payload bytes written to disk.
	BytesDownloaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phpollution_download_bytes_total",
			Help: "Total bytes downloaded",
		},
		[]string{"product"},
	)

	// HTTPRetries counts retried requests by cause.
	HTTPRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phpollution_http_retries_total",
			Help: "Total HTTP requests retried",
		},
		[]string{"reason"}, // network, 429, 5xx
	)

	// HTTPErrors counts requests that failed permanently.
	HTTPErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phpollution_http_errors_total",
			Help: "Total HTTP requests that failed after retries",
		},
		[]string{"type"}, // 4xx, 5xx, network
	)

	// StageDuration records the wall time of each pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phpollution_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27min
		},
		[]string{"stage"},
	)

	// GridCells records the number of cells in each loaded product cube.
	GridCells = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "phpollution_grid_cells",
			Help: "Number of cells in each loaded variable",
		},
		[]string{"variable"},
	)

	// QueryRequests counts query API requests by endpoint and status code.
	QueryRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phpollution_query_requests_total",
			Help: "Total query API requests",
		},
		[]string{"endpoint", "code"},
	)

	// ExportJobs counts nighttime-lights export outcomes.
	ExportJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phpollution_export_jobs_total",
			Help: "Total Earth Engine export jobs by outcome",
		},
		[]string{"status"}, // success, failure
	)
)

// ObserveStage records the duration since start for stage.
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes every registered metric in the text exposition
// format, for collection by the node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
