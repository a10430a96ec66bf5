package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// VDir metrics
	VDirGeneration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrift_vdir_generation",
			Help: "Current generation counter of the VDir mmap",
		},
	)

	VDirEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrift_vdir_entries",
			Help: "Number of occupied slots in the VDir stat table",
		},
	)

	VDirLoadFactor = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrift_vdir_load_factor",
			Help: "Occupied slots divided by stat table capacity",
		},
	)

	VDirResizesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrift_vdir_resizes_total",
			Help: "Total number of stat table resizes performed by the daemon",
		},
	)

	LookupLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrift_lookup_latency_seconds",
			Help:    "Client-side VDir lookup latency in seconds",
			Buckets: prometheus.ExponentialBuckets(1e-7, 2, 20),
		},
	)

	LookupRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrift_lookup_retries_total",
			Help: "Total number of torn-read retries on the VDir lookup path",
		},
	)

	LookupFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrift_lookup_fallbacks_total",
			Help: "Total number of lookups that fell back to an RPC after retries were exhausted",
		},
	)

	// Routing metrics
	RoutingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrift_routing_decisions_total",
			Help: "Total number of interposed calls classified by decision",
		},
		[]string{"decision"},
	)

	PerimeterBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrift_perimeter_blocks_total",
			Help: "Total number of mutation-perimeter trips by call",
		},
		[]string{"call", "errno"},
	)

	// Commit / ingest metrics
	CommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrift_commits_total",
			Help: "Total number of commit RPCs by result",
		},
		[]string{"result"},
	)

	CommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrift_commit_duration_seconds",
			Help:    "Time taken to process a commit RPC end-to-end",
			Buckets: prometheus.DefBuckets,
		},
	)

	IngestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrift_ingest_duration_seconds",
			Help:    "Time taken to hash and CAS-promote a staged file",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrift_wal_flush_duration_seconds",
			Help:    "Time taken to flush a WAL batch into the manifest",
			Buckets: prometheus.DefBuckets,
		},
	)

	WALRecordsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrift_wal_records_pending",
			Help: "Number of WAL records appended but not yet flushed to the manifest",
		},
	)

	// CAS metrics
	CASDedupHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrift_cas_dedup_hits_total",
			Help: "Total number of ingests that found an existing blob (no write performed)",
		},
	)

	CASPromotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vrift_cas_promotions_total",
			Help: "Total number of CAS blob promotions by strategy used",
		},
		[]string{"strategy"},
	)

	CASBlobsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vrift_cas_blobs_total",
			Help: "Total number of blobs currently present in CAS",
		},
	)

	GCBlobsRemovedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrift_gc_blobs_removed_total",
			Help: "Total number of blobs removed by GC sweeps",
		},
	)

	GCSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vrift_gc_sweep_duration_seconds",
			Help:    "Time taken for a GC sweep over the CAS tree",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Watchdog metrics
	ClientDisconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrift_client_disconnects_total",
			Help: "Total number of client disconnects observed by the daemon's watchdog",
		},
	)

	StagingFilesReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vrift_staging_files_reaped_total",
			Help: "Total number of orphaned staging files cleaned up by the watchdog",
		},
	)
)

func init() {
	prometheus.MustRegister(
		VDirGeneration,
		VDirEntries,
		VDirLoadFactor,
		VDirResizesTotal,
		LookupLatency,
		LookupRetriesTotal,
		LookupFallbacksTotal,
		RoutingDecisionsTotal,
		PerimeterBlocksTotal,
		CommitsTotal,
		CommitDuration,
		IngestDuration,
		WALFlushDuration,
		WALRecordsPending,
		CASDedupHitsTotal,
		CASPromotionsTotal,
		CASBlobsTotal,
		GCBlobsRemovedTotal,
		GCSweepDuration,
		ClientDisconnectsTotal,
		StagingFilesReapedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the daemon's metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to the histogram of vec
// selected by the given label values.
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labels ...string) {
	vec.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
