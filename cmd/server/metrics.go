package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mcdskit.dev/internal/persistence/indexdb"
	"mcdskit.dev/internal/persistence/s3mirror"
	"mcdskit.dev/internal/store"
	"mcdskit.dev/internal/transport/ws"
)

type metrics struct {
	loads     *prometheus.CounterVec
	loadTime  *prometheus.HistogramVec
	queries   *prometheus.CounterVec
	queryTime *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcds_loads_total",
			Help: "Time step decodes by source (bundle or archive) and result.",
		}, []string{"source", "result"}),
		loadTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcds_load_seconds",
			Help:    "Time step decode duration.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"source"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcds_queries_total",
			Help: "Answered read-API messages by target and error code (ok on success).",
		}, []string{"what", "code"}),
		queryTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcds_query_seconds",
			Help:    "Read-API message handling duration, including any decode.",
			Buckets: prometheus.DefBuckets,
		}, []string{"what"}),
	}
	reg.MustRegister(m.loads, m.loadTime, m.queries, m.queryTime)
	return m
}

func (m *metrics) observeLoad(source string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.loads.WithLabelValues(source, result).Inc()
	m.loadTime.WithLabelValues(source).Observe(d.Seconds())
}

func (m *metrics) observeQuery(ev ws.QueryEvent) {
	what, code := ev.What, ev.Code
	if what == "" {
		what = "unknown"
	}
	if code == "" {
		code = "ok"
	}
	m.queries.WithLabelValues(what, code).Inc()
	m.queryTime.WithLabelValues(what).Observe(ev.Duration.Seconds())
}

// registerComponentStats exports the counters the store, index and mirror
// keep themselves. idx and mirror may be nil.
func registerComponentStats(reg prometheus.Registerer, st *store.Store, idx *indexdb.SQLiteIndex, mirror *s3mirror.Mirror) {
	counter := func(name, help string, f func() uint64) {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 { return float64(f()) }))
	}
	gauge := func(name, help string, f func() float64) {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, f))
	}

	counter("mcds_cache_hits_total", "Snapshot cache hits.", func() uint64 { return st.Stats().Hits })
	counter("mcds_cache_misses_total", "Snapshot cache misses.", func() uint64 { return st.Stats().Misses })
	counter("mcds_archive_writes_total", "Archives written after a bundle decode.", func() uint64 { return st.Stats().ArchiveWrites })
	gauge("mcds_cache_entries", "Decoded snapshots held in memory.", func() float64 { return float64(st.Stats().Cached) })

	if idx != nil {
		gauge("mcds_index_queue_depth", "Pending index writes.", func() float64 { return float64(idx.Stats().QueueDepth) })
		counter("mcds_index_dropped_total", "Index writes dropped on a full queue.", func() uint64 { return idx.Stats().DroppedTotal })
		counter("mcds_index_failed_total", "Index batches that failed to commit.", func() uint64 { return idx.Stats().FailedTotal })
	}
	if mirror != nil {
		gauge("mcds_mirror_queue_depth", "Pending archive uploads.", func() float64 { return float64(mirror.Stats().QueueDepth) })
		counter("mcds_mirror_dropped_total", "Uploads dropped because the queue stayed saturated.", func() uint64 { return mirror.Stats().DroppedTotal })
		counter("mcds_mirror_upload_success_total", "Successful archive uploads.", func() uint64 { return mirror.Stats().UploadSuccessTotal })
		counter("mcds_mirror_upload_fail_total", "Archive uploads that failed after retries.", func() uint64 { return mirror.Stats().UploadFailTotal })
		gauge("mcds_mirror_last_success_unix", "Unix time of the last successful upload.", func() float64 { return float64(mirror.Stats().LastSuccessUnix) })
	}
}
