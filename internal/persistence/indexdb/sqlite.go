package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"mcdskit.dev/internal/logging"
	"mcdskit.dev/internal/mcds/catalogs"
	"mcdskit.dev/internal/mcds/table"
	"mcdskit.dev/internal/persistence/snapshot"
)

const schemaVersion = "1"

// SQLiteIndex is a secondary read model over decoded time steps. Writes are
// queued and applied by a single goroutine; archives stay the source of
// truth.
type SQLiteIndex struct {
	db  *sql.DB
	log *slog.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	droppedTotal atomic.Uint64
	appliedTotal atomic.Uint64
	failedTotal  atomic.Uint64
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DroppedTotal  uint64
	AppliedTotal  uint64
	FailedTotal   uint64
}

// StepRow is one indexed time step.
type StepRow struct {
	XMLFile        string
	Path           string
	Time           float64
	TimeUnit       string
	Runtime        float64
	Cells          int
	Voxels         int
	Substrates     int
	CellTypeSource string
	Archive        string
	CatalogDigest  string
	IndexedAt      string
}

type req struct {
	step   StepRow
	counts map[string]int
}

// OpenSQLite opens or creates the index at path. queueSize <= 0 uses a
// default.
func OpenSQLite(path string, queueSize int, log *slog.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if queueSize <= 0 {
		queueSize = 4096
	}
	if log == nil {
		log = logging.Discard()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		log: log.With("component", "indexdb"),
		ch:  make(chan req, queueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS timesteps (
			xmlfile TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			time REAL NOT NULL,
			time_unit TEXT NOT NULL,
			runtime REAL NOT NULL,
			cells INTEGER NOT NULL,
			voxels INTEGER NOT NULL,
			substrates INTEGER NOT NULL,
			celltype_source TEXT NOT NULL,
			archive TEXT NOT NULL,
			catalog_digest TEXT NOT NULL,
			indexed_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_timesteps_time ON timesteps(time);`,
		`CREATE TABLE IF NOT EXISTS celltype_counts (
			xmlfile TEXT NOT NULL,
			cell_type TEXT NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (xmlfile, cell_type)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordStep queues a decoded time step. archivePath may be empty when the
// step was indexed without writing an archive. It never blocks: when the
// writer falls behind the row is dropped and counted.
func (s *SQLiteIndex) RecordStep(archivePath string, a snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := req{
		step: StepRow{
			XMLFile:        a.Header.XMLFile,
			Path:           a.Path,
			Time:           a.Header.Time,
			TimeUnit:       a.Metadata.TimeUnit,
			Runtime:        a.Metadata.Runtime,
			Cells:          a.Header.Cells,
			Voxels:         a.Header.Voxels,
			Substrates:     len(a.Species),
			CellTypeSource: a.CellTypeSource,
			Archive:        archivePath,
			CatalogDigest:  a.Header.CatalogDigest,
			IndexedAt:      time.Now().UTC().Format(time.RFC3339Nano),
		},
		counts: countTypes(a.Cells),
	}
	select {
	case s.ch <- r:
	default:
		s.droppedTotal.Add(1)
		s.log.Warn("index queue full, dropping step", "xmlfile", r.step.XMLFile)
	}
}

func countTypes(t snapshot.TableV1) map[string]int {
	out := map[string]int{}
	for _, c := range t.Columns {
		if c.Name != "cell_type" || table.Kind(c.Kind) != table.String {
			continue
		}
		for _, v := range c.Strings {
			out[v]++
		}
	}
	return out
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DroppedTotal:  s.droppedTotal.Load(),
		AppliedTotal:  s.appliedTotal.Load(),
		FailedTotal:   s.failedTotal.Load(),
	}
}

// UpsertCatalogs stores the code tables the index was built against, so
// rows stay interpretable when the tables change.
func (s *SQLiteIndex) UpsertCatalogs(ctx context.Context) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name string
		json []byte
	}
	var rows []kv
	add := func(name string, v any) {
		b, err := json.Marshal(v)
		if err == nil {
			rows = append(rows, kv{name: name, json: b})
		}
	}
	add("cycle_model", catalogs.CycleModel)
	add("death_model", catalogs.DeathModel)
	add("cycle_phase", catalogs.CyclePhase)
	add("death_phase", catalogs.DeathPhase)
	add("column_types", catalogs.ColumnTypes)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, schemaVersion); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('catalog_digest',?)`, catalogs.Digest()); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		sum := sha256.Sum256(r.json)
		if _, err := stmt.ExecContext(ctx, r.name, hex.EncodeToString(sum[:]), string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Steps lists indexed time steps ordered by simulated time.
func (s *SQLiteIndex) Steps(ctx context.Context) ([]StepRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT xmlfile,path,time,time_unit,runtime,cells,voxels,substrates,
		celltype_source,archive,catalog_digest,indexed_at FROM timesteps ORDER BY time, xmlfile`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StepRow
	for rows.Next() {
		var r StepRow
		if err := rows.Scan(&r.XMLFile, &r.Path, &r.Time, &r.TimeUnit, &r.Runtime, &r.Cells, &r.Voxels,
			&r.Substrates, &r.CellTypeSource, &r.Archive, &r.CatalogDigest, &r.IndexedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CellTypeCounts returns agents per type for one time step.
func (s *SQLiteIndex) CellTypeCounts(ctx context.Context, xmlfile string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cell_type,count FROM celltype_counts WHERE xmlfile=?`, xmlfile)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// Catalog returns the stored JSON of a code table.
func (s *SQLiteIndex) Catalog(ctx context.Context, name string) (digest string, raw []byte, err error) {
	var js string
	err = s.db.QueryRowContext(ctx, `SELECT digest,json FROM catalogs WHERE name=?`, name).Scan(&digest, &js)
	return digest, []byte(js), err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertStep, err := s.db.Prepare(`INSERT OR REPLACE INTO timesteps(xmlfile,path,time,time_unit,runtime,cells,voxels,
		substrates,celltype_source,archive,catalog_digest,indexed_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Error("prepare timesteps insert", "err", err)
	}
	clearCounts, _ := s.db.Prepare(`DELETE FROM celltype_counts WHERE xmlfile=?`)
	insertCount, _ := s.db.Prepare(`INSERT OR REPLACE INTO celltype_counts(xmlfile,cell_type,count) VALUES(?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertStep, clearCounts, insertCount} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = 2 * time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.log.Error("index commit", "err", err)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	apply := func(r req) error {
		st := r.step
		if insertStep == nil || clearCounts == nil || insertCount == nil {
			return fmt.Errorf("statements not prepared")
		}
		if _, err := tx.Stmt(insertStep).Exec(st.XMLFile, st.Path, st.Time, st.TimeUnit, st.Runtime, st.Cells,
			st.Voxels, st.Substrates, st.CellTypeSource, st.Archive, st.CatalogDigest, st.IndexedAt); err != nil {
			return err
		}
		if _, err := tx.Stmt(clearCounts).Exec(st.XMLFile); err != nil {
			return err
		}
		names := make([]string, 0, len(r.counts))
		for n := range r.counts {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if _, err := tx.Stmt(insertCount).Exec(st.XMLFile, n, r.counts[n]); err != nil {
				return err
			}
		}
		opCount += 2 + len(names)
		return nil
	}

	tick := time.NewTicker(commitMaxWait)
	defer tick.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				s.failedTotal.Add(1)
				continue
			}
			if err := apply(r); err != nil {
				s.failedTotal.Add(1)
				s.log.Error("index write", "xmlfile", r.step.XMLFile, "err", err)
				rollback()
				continue
			}
			s.appliedTotal.Add(1)
			flushIfNeeded()
		case <-tick.C:
			flushIfNeeded()
		}
	}
}
