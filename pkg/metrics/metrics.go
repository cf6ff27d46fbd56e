package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cell store metrics
	CellsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cellar_cells_written_total",
			Help: "Total number of cell records written to the cell database",
		},
	)

	CellsLoaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cellar_cells_loaded_total",
			Help: "Total number of cell records materialized from the cell database",
		},
	)

	CellCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cellar_cell_cache_hits_total",
			Help: "Total number of cell loads served from the in-memory cache",
		},
	)

	StatesStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cellar_shard_states_stored_total",
			Help: "Total number of shard state roots stored",
		},
	)

	// Garbage collector metrics
	GCRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cellar_gc_runs_total",
			Help: "Total number of garbage collection runs",
		},
	)

	CellsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cellar_gc_cells_swept_total",
			Help: "Total number of cell records deleted by the garbage collector",
		},
	)

	GCDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cellar_gc_duration_seconds",
			Help:    "Duration of garbage collection runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Archive metrics
	ArchiveEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cellar_archive_entries_total",
			Help: "Total number of entries appended to archive packages by kind",
		},
		[]string{"kind"},
	)

	ArchiveBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cellar_archive_bytes_written_total",
			Help: "Total number of bytes appended to archive packages",
		},
	)

	UnappliedFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cellar_unapplied_files",
			Help: "Number of loose files currently staged in the unapplied directory",
		},
	)

	BlocksArchived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cellar_blocks_archived_total",
			Help: "Total number of blocks promoted into archive packages",
		},
	)

	// Block index metrics
	IndexAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cellar_block_index_appends_total",
			Help: "Total number of block index entries appended",
		},
	)
)

// Register registers all storage metrics with the given registry.
// Passing nil registers with the default prometheus registry.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	reg.MustRegister(
		CellsWritten,
		CellsLoaded,
		CellCacheHits,
		StatesStored,
		GCRuns,
		CellsSwept,
		GCDuration,
		ArchiveEntries,
		ArchiveBytes,
		UnappliedFiles,
		BlocksArchived,
		IndexAppends,
	)
}

// Handler returns an HTTP handler serving the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
