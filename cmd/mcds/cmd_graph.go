package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mcdskit.dev/internal/mcds/graph"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <output.xml|archive.snap.zst>",
		Short: "Print a cell graph as \"id: id,id\" lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			env, err := setup(cmd)
			if err != nil {
				return err
			}
			snap, err := env.open(cmd, args[0])
			if err != nil {
				return err
			}
			var g graph.Graph
			switch kind {
			case "neighbor":
				g = snap.NeighborGraph()
			case "attached":
				g = snap.AttachedGraph()
			case "spring":
				g = snap.SpringGraph()
			default:
				return fmt.Errorf("unknown graph %q (valid: neighbor, attached, spring)", kind)
			}
			if env.jsonOut {
				return writeJSON(cmd, g.Lists())
			}
			w := cmd.OutOrStdout()
			for _, id := range slices.Sorted(maps.Keys(g)) {
				ns := g.Neighbors(id)
				parts := make([]string, len(ns))
				for i, n := range ns {
					parts[i] = strconv.Itoa(n)
				}
				fmt.Fprintf(w, "%d: %s\n", id, strings.Join(parts, ","))
			}
			return nil
		},
	}
	cmd.Flags().String("kind", "neighbor", "Graph: neighbor, attached or spring")
	return cmd
}

func newUnitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "units <output.xml|archive.snap.zst>",
		Short: "Print the unit of every column",
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
			d := snap.UnitDict()
			if env.jsonOut {
				return writeJSON(cmd, d)
			}
			printDict(cmd.OutOrStdout(), d, false)
			return nil
		},
	}
}
