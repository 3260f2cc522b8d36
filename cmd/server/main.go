package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mcdskit.dev/internal/config"
	"mcdskit.dev/internal/logging"
	"mcdskit.dev/internal/persistence/indexdb"
	"mcdskit.dev/internal/persistence/querylog"
	"mcdskit.dev/internal/persistence/s3mirror"
	"mcdskit.dev/internal/store"
	"mcdskit.dev/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to mcds.yaml (MCDS_* environment variables override it)")
		addr       = flag.String("addr", "", "http listen address (default: server.addr)")
		dataDir    = flag.String("data", "", "directory of output*.xml bundles (default: server.data_dir)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dataDir != "" {
		cfg.Server.DataDir = *dataDir
	}

	var logger *slog.Logger
	if cfg.Logging.Format == "json" {
		logger = logging.NewJSONLogger(cfg.Logging.Level, os.Stderr)
	} else {
		logger = logging.NewLogger(cfg.Logging.Level, os.Stderr)
	}
	logger = logger.With("component", "server")

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("init", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", "addr", cfg.Server.Addr, "data", cfg.Server.DataDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("ListenAndServe", "err", err)
		os.Exit(1)
	}
}

// app holds the long-lived server components.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	store   *store.Store
	index   *indexdb.SQLiteIndex // nil without index.path
	mirror  *s3mirror.Mirror     // nil without mirror.enabled
	queries *querylog.Writer     // nil without server.query_log_dir
	reg     *prometheus.Registry
	metrics *metrics
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger, reg: prometheus.NewRegistry()}
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = newMetrics(a.reg)

	archiveDir := cfg.Archive.Dir
	opts := store.Options{
		DataDir:    cfg.Server.DataDir,
		ArchiveDir: archiveDir,
		CacheSize:  cfg.Server.CacheSize,
		Loader:     cfg.LoaderOptions(logger.With("component", "loader")),
		Logger:     logger,
		OnLoad:     a.metrics.observeLoad,
	}

	if cfg.Index.Path != "" {
		if archiveDir == "" {
			logger.Warn("index.path set without archive.dir; steps are indexed only when archived")
		}
		idx, err := indexdb.OpenSQLite(cfg.Index.Path, cfg.Index.QueueSize, logger)
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		if err := idx.UpsertCatalogs(ctx); err != nil {
			logger.Warn("index: upsert catalogs", "err", err)
		}
		a.index = idx
		opts.Index = idx
	}

	if cfg.Mirror.Enabled && archiveDir != "" {
		client, err := s3mirror.New(ctx, cfg.Mirror.ClientConfig())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init s3 mirror: %w", err)
		}
		a.mirror = s3mirror.NewMirror(client, cfg.Mirror.Options(archiveDir, logger))
		opts.Mirror = a.mirror
	} else if cfg.Mirror.Enabled {
		logger.Warn("mirror.enabled requires archive.dir; mirror disabled")
	}

	if cfg.Server.QueryLogDir != "" {
		a.queries = querylog.New(cfg.Server.QueryLogDir, "queries")
	}

	st, err := store.New(opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st
	registerComponentStats(a.reg, st, a.index, a.mirror)
	return a, nil
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "cached": a.store.Stats().Cached})
	})
	mux.HandleFunc("/v1/steps", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		steps, err := a.store.Steps()
		if err != nil {
			http.Error(rw, err.Error(), http.StatusInternalServerError)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"steps": steps})
	})
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/ws", ws.NewServer(a.store, ws.Options{
		MaxRows:      a.cfg.Server.MaxRows,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		Logger:       a.log,
		OnQuery:      a.onQuery,
	}).Handler())
	return mux
}

func (a *app) onQuery(ev ws.QueryEvent) {
	a.metrics.observeQuery(ev)
	err := a.queries.Write(querylog.Entry{
		RequestID: ev.RequestID,
		XMLFile:   ev.XMLFile,
		What:      ev.What,
		Code:      ev.Code,
		Rows:      ev.Rows,
		Millis:    float64(ev.Duration.Microseconds()) / 1000,
	})
	if err != nil {
		a.log.Warn("query log", "err", err)
	}
}

// Close drains the mirror and index queues and flushes the query log.
func (a *app) Close() {
	if err := a.queries.Close(); err != nil {
		a.log.Warn("query log close", "err", err)
	}
	a.mirror.Close()
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.log.Warn("index close", "err", err)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
