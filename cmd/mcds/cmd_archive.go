package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mcdskit.dev/internal/mcds"
	"mcdskit.dev/internal/persistence/indexdb"
	"mcdskit.dev/internal/persistence/s3mirror"
	"mcdskit.dev/internal/persistence/snapshot"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <output.xml>...",
		Short: "Decode time steps and write .snap.zst archives",
		Long: `archive decodes each bundle and writes <output>.snap.zst next to it, or
into --out. With mirror.enabled in the config the archives are uploaded to
S3 after writing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = env.cfg.Archive.Dir
			}
			if out == "" {
				out = filepath.Dir(args[0])
			}
			mirror, err := env.openMirror(cmd, out)
			if err != nil {
				return err
			}
			defer mirror.Close()

			for _, xmlpath := range args {
				snap, err := mcds.Load(cmd.Context(), xmlpath, env.cfg.LoaderOptions(env.log))
				if err != nil {
					return err
				}
				path := snapshot.Path(out, snap.XMLFile())
				if err := snapshot.WriteSnapshot(path, snap.Archive()); err != nil {
					return err
				}
				mirror.Enqueue(path)
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().String("out", "", "Archive directory (default: archive.dir, then the bundle directory)")
	return cmd
}

// openMirror returns nil when mirroring is disabled; a nil *Mirror ignores
// Enqueue and Close.
func (e *runEnv) openMirror(cmd *cobra.Command, dataDir string) (*s3mirror.Mirror, error) {
	if !e.cfg.Mirror.Enabled {
		return nil, nil
	}
	client, err := s3mirror.New(cmd.Context(), e.cfg.Mirror.ClientConfig())
	if err != nil {
		return nil, err
	}
	return s3mirror.NewMirror(client, e.cfg.Mirror.Options(dataDir, e.log)), nil
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <output dir>",
		Short: "Archive every time step in a directory and index it in sqlite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			dir := args[0]
			dbPath, _ := cmd.Flags().GetString("db")
			if dbPath == "" {
				dbPath = env.cfg.Index.Path
			}
			if dbPath == "" {
				dbPath = filepath.Join(dir, "mcds_index.sqlite")
			}
			archDir := env.cfg.Archive.Dir
			if archDir == "" {
				archDir = dir
			}
			jobs, _ := cmd.Flags().GetInt("jobs")
			if jobs <= 0 {
				jobs = runtime.GOMAXPROCS(0)
			}

			xmls, err := filepath.Glob(filepath.Join(dir, "output*.xml"))
			if err != nil {
				return err
			}
			sort.Strings(xmls)

			n, err := indexSteps(cmd, env, xmls, dbPath, archDir, jobs)
			if err != nil {
				return err
			}

			idx, err := indexdb.OpenSQLite(dbPath, 0, env.log)
			if err != nil {
				return err
			}
			defer idx.Close()
			steps, err := idx.Steps(cmd.Context())
			if err != nil {
				return err
			}
			if env.jsonOut {
				return writeJSON(cmd, steps)
			}
			w := cmd.OutOrStdout()
			for _, s := range steps {
				fmt.Fprintf(w, "%s\t%g %s\t%d cells\t%s\n", s.XMLFile, s.Time, s.TimeUnit, s.Cells, s.Archive)
			}
			fmt.Fprintf(w, "indexed %d of %d steps into %s\n", n, len(xmls), dbPath)
			return nil
		},
	}
	cmd.Flags().String("db", "", "sqlite index path (default: index.path, then <dir>/mcds_index.sqlite)")
	cmd.Flags().Int("jobs", 0, "Concurrent decodes (default: GOMAXPROCS)")
	return cmd
}

// indexSteps decodes xmls concurrently, archives each into archDir and
// records it. Steps that fail to decode are logged and skipped.
func indexSteps(cmd *cobra.Command, env *runEnv, xmls []string, dbPath, archDir string, jobs int) (int, error) {
	idx, err := indexdb.OpenSQLite(dbPath, len(xmls)+1, env.log)
	if err != nil {
		return 0, err
	}
	if err := idx.UpsertCatalogs(cmd.Context()); err != nil {
		_ = idx.Close()
		return 0, err
	}
	mirror, err := env.openMirror(cmd, archDir)
	if err != nil {
		_ = idx.Close()
		return 0, err
	}

	var (
		mu      sync.Mutex
		indexed int
	)
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(jobs)
	for _, xmlpath := range xmls {
		g.Go(func() error {
			snap, err := mcds.Load(ctx, xmlpath, env.cfg.LoaderOptions(env.log))
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				env.log.Warn("skipping step", "xmlfile", filepath.Base(xmlpath), "err", err)
				return nil
			}
			a := snap.Archive()
			path := snapshot.Path(archDir, snap.XMLFile())
			if err := snapshot.WriteSnapshot(path, a); err != nil {
				return err
			}
			idx.RecordStep(path, a)
			mirror.Enqueue(path)
			mu.Lock()
			indexed++
			mu.Unlock()
			env.log.Debug("indexed", slog.String("xmlfile", snap.XMLFile()), slog.Int("cells", snap.NumCells()))
			return nil
		})
	}
	werr := g.Wait()
	mirror.Close()
	if err := idx.Close(); err != nil && werr == nil {
		werr = err
	}
	return indexed, werr
}
