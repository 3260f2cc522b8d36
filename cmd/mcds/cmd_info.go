package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mcdskit.dev/internal/query"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <output.xml|archive.snap.zst>",
		Short: "Summarize one time step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			snap, err := env.open(cmd, args[0])
			if err != nil {
				return err
			}
			in := query.Info(snap)
			if env.jsonOut {
				return writeJSON(cmd, in)
			}

			w := cmd.OutOrStdout()
			row := func(k, format string, a ...any) {
				fmt.Fprintf(w, "%-18s %s\n", k, fmt.Sprintf(format, a...))
			}
			row("xmlfile", "%s", in.XMLFile)
			row("multicellds", "%s", in.MultiCellDSVersion)
			row("physicell", "%s", in.PhysiCellVersion)
			if in.Created != "" {
				row("created", "%s", in.Created)
			}
			row("time", "%g %s", in.Time, in.TimeUnit)
			row("runtime", "%g %s", in.Runtime, in.RuntimeUnit)
			row("cells", "%d", in.Cells)
			row("mesh", "%d x %d x %d voxels, spacing %g %g %g %s",
				in.MeshShape[0], in.MeshShape[1], in.MeshShape[2],
				in.Spacing[0], in.Spacing[1], in.Spacing[2], in.SpatialUnit)
			row("voxel volume", "%g", in.VoxelVolume)
			row("substrates", "%s", strings.Join(in.Substrates, ", "))
			row("cell types", "%s (%s)", strings.Join(in.CellTypes, ", "), in.CellTypeSource)
			for _, n := range in.Notices {
				fmt.Fprintf(w, "notice: %s\n", n)
			}
			return nil
		},
	}
}

func newSubstratesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "substrates <output.xml|archive.snap.zst>",
		Short: "List substrates with their diffusion and decay parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			snap, err := env.open(cmd, args[0])
			if err != nil {
				return err
			}
			t := snap.SubstrateTable()
			if env.jsonOut {
				return writeJSON(cmd, t.Records())
			}
			return writeCSV(cmd, t)
		},
	}
}

func newCellTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "celltypes <output.xml|archive.snap.zst>",
		Short: "List cell type ids and names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			snap, err := env.open(cmd, args[0])
			if err != nil {
				return err
			}
			d := snap.CellTypeDict()
			if env.jsonOut {
				return writeJSON(cmd, d)
			}
			printDict(cmd.OutOrStdout(), d, true)
			return nil
		},
	}
}

// printDict writes "key\tvalue" lines; numeric keys sort by value.
func printDict(w io.Writer, d map[string]string, numeric bool) {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if numeric {
			a, errA := strconv.Atoi(keys[i])
			b, errB := strconv.Atoi(keys[j])
			if errA == nil && errB == nil {
				return a < b
			}
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\n", k, d[k])
	}
}
