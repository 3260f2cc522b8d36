// Package store serves decoded time steps out of one output directory. A
// step is decoded at most once at a time; decoded steps are kept in an LRU
// cache and, when an archive directory is configured, persisted as
// .snap.zst archives that later loads prefer over the raw bundle.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"mcdskit.dev/internal/logging"
	"mcdskit.dev/internal/mcds"
	"mcdskit.dev/internal/persistence/snapshot"
)

// ErrNotFound reports a descriptor that does not exist in the data dir.
var ErrNotFound = errors.New("time step not found")

// Indexer records every newly archived step.
type Indexer interface {
	RecordStep(archivePath string, a snapshot.SnapshotV1)
}

// Mirror ships archives off the machine.
type Mirror interface {
	Enqueue(localPath string)
}

type Options struct {
	DataDir    string
	ArchiveDir string // empty disables archives
	CacheSize  int
	Loader     mcds.Options

	Index  Indexer
	Mirror Mirror
	Logger *slog.Logger

	// OnLoad observes every decode; source is "bundle" or "archive".
	OnLoad func(source string, d time.Duration, err error)
}

type Stats struct {
	Hits          uint64
	Misses        uint64
	Loads         uint64
	LoadFailures  uint64
	ArchiveWrites uint64
	Cached        int
}

type Store struct {
	opts  Options
	log   *slog.Logger
	cache *lru.Cache[string, *mcds.Snapshot]
	group singleflight.Group

	hits          atomic.Uint64
	misses        atomic.Uint64
	loads         atomic.Uint64
	loadFailures  atomic.Uint64
	archiveWrites atomic.Uint64
}

func New(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.DataDir) == "" {
		return nil, fmt.Errorf("store: data dir required")
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 16
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	cache, err := lru.New[string, *mcds.Snapshot](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	if opts.ArchiveDir != "" {
		if err := os.MkdirAll(opts.ArchiveDir, 0o755); err != nil {
			return nil, err
		}
	}
	opts.Loader.OutputPath = opts.DataDir
	return &Store{
		opts:  opts,
		log:   opts.Logger.With("component", "store"),
		cache: cache,
	}, nil
}

// Get returns the decoded step for a descriptor file name in the data dir.
func (s *Store) Get(ctx context.Context, xmlfile string) (*mcds.Snapshot, error) {
	if xmlfile == "" || filepath.Base(xmlfile) != xmlfile || strings.ContainsAny(xmlfile, `/\`) {
		return nil, fmt.Errorf("%w: %q is not a file name", ErrNotFound, xmlfile)
	}
	if snap, ok := s.cache.Get(xmlfile); ok {
		s.hits.Add(1)
		return snap, nil
	}
	s.misses.Add(1)
	// The decode is shared by every caller waiting on xmlfile, so it runs
	// detached from any one caller's cancellation. Each caller still stops
	// waiting when its own ctx ends.
	ch := s.group.DoChan(xmlfile, func() (any, error) {
		if snap, ok := s.cache.Get(xmlfile); ok {
			return snap, nil
		}
		snap, err := s.load(context.WithoutCancel(ctx), xmlfile)
		if err != nil {
			return nil, err
		}
		s.cache.Add(xmlfile, snap)
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*mcds.Snapshot), nil
	}
}

// Steps lists the descriptor files in the data dir, sorted.
func (s *Store) Steps() ([]string, error) {
	m, err := filepath.Glob(filepath.Join(s.opts.DataDir, "output*.xml"))
	if err != nil {
		return nil, err
	}
	out := make([]string, len(m))
	for i, p := range m {
		out[i] = filepath.Base(p)
	}
	return out, nil
}

func (s *Store) Stats() Stats {
	return Stats{
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Loads:         s.loads.Load(),
		LoadFailures:  s.loadFailures.Load(),
		ArchiveWrites: s.archiveWrites.Load(),
		Cached:        s.cache.Len(),
	}
}

func (s *Store) load(ctx context.Context, xmlfile string) (*mcds.Snapshot, error) {
	xmlpath := filepath.Join(s.opts.DataDir, xmlfile)
	xmlInfo, xmlErr := os.Stat(xmlpath)

	if s.opts.ArchiveDir != "" {
		ap := snapshot.Path(s.opts.ArchiveDir, xmlfile)
		if ai, err := os.Stat(ap); err == nil && (xmlErr != nil || !ai.ModTime().Before(xmlInfo.ModTime())) {
			snap, err := s.fromArchive(ap)
			if err == nil {
				return snap, nil
			}
			s.log.Warn("archive unreadable, decoding bundle", "archive", ap, "err", err)
		}
	}

	if xmlErr != nil {
		if errors.Is(xmlErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, xmlfile)
		}
		return nil, xmlErr
	}

	s.loads.Add(1)
	start := time.Now()
	snap, err := mcds.Load(ctx, xmlpath, s.opts.Loader)
	s.observe("bundle", time.Since(start), err)
	if err != nil {
		s.loadFailures.Add(1)
		return nil, err
	}
	s.log.Info("decoded", "xmlfile", xmlfile, "cells", snap.NumCells(), "ms", time.Since(start).Milliseconds())

	if s.opts.ArchiveDir != "" {
		s.persist(snap)
	}
	return snap, nil
}

func (s *Store) fromArchive(path string) (*mcds.Snapshot, error) {
	s.loads.Add(1)
	start := time.Now()
	a, err := snapshot.ReadSnapshot(path)
	var snap *mcds.Snapshot
	if err == nil {
		snap, err = mcds.FromArchive(a, s.queryLogger())
	}
	s.observe("archive", time.Since(start), err)
	if err != nil {
		s.loadFailures.Add(1)
		return nil, err
	}
	return snap, nil
}

func (s *Store) persist(snap *mcds.Snapshot) {
	a := snap.Archive()
	path := snapshot.Path(s.opts.ArchiveDir, snap.XMLFile())
	if err := snapshot.WriteSnapshot(path, a); err != nil {
		s.log.Warn("archive write failed", "path", path, "err", err)
		return
	}
	s.archiveWrites.Add(1)
	if s.opts.Index != nil {
		s.opts.Index.RecordStep(path, a)
	}
	if s.opts.Mirror != nil {
		s.opts.Mirror.Enqueue(path)
	}
}

func (s *Store) queryLogger() *slog.Logger {
	if s.opts.Loader.Verbose {
		return s.opts.Loader.Logger
	}
	return nil
}

func (s *Store) observe(source string, d time.Duration, err error) {
	if s.opts.OnLoad != nil {
		s.opts.OnLoad(source, d, err)
	}
}
