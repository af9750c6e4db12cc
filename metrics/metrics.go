package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Commit outcomes used as the outcome label of Commits.
const (
	OutcomeCommitted = "committed"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
)

var (
	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arctic_iceberg_commits_total",
		Help: "Total number of pending update commit attempts by operation and outcome.",
	}, []string{"operation", "outcome"})

	CommitRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arctic_iceberg_commit_retries_total",
		Help: "Total number of commits re-staged after a stale-base conflict.",
	}, []string{"operation"})

	CommitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arctic_iceberg_commit_duration_seconds",
		Help:    "Duration of a commit including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	DataFilesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arctic_iceberg_data_files_written_total",
		Help: "Total number of parquet data files written per table.",
	}, []string{"table"})

	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arctic_iceberg_records_written_total",
		Help: "Total number of rows written to data files per table.",
	}, []string{"table"})

	ReplicationMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arctic_iceberg_replication_messages_total",
		Help: "Total number of logical replication messages handled by type.",
	}, []string{"type"})

	ProxyQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arctic_iceberg_proxy_queries_total",
		Help: "Total number of queries served by the wire protocol proxy.",
	}, []string{"status"})

	ProxyConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arctic_iceberg_proxy_connections",
		Help: "Number of open proxy client connections.",
	})
)
