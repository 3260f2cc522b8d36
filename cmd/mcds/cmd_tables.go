package main

import (
	"encoding/csv"
	"fmt"

	"github.com/spf13/cobra"

	"mcdskit.dev/internal/mcds"
	"mcdskit.dev/internal/mcds/table"
	"mcdskit.dev/internal/protocol"
	"mcdskit.dev/internal/query"
)

func newCellsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cells <output.xml|archive.snap.zst>",
		Short: "Print the agent table as CSV or Arrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTable(cmd, args[0], protocol.WhatCells)
		},
	}
	addFilterFlags(cmd)
	return cmd
}

func newConcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conc <output.xml|archive.snap.zst>",
		Short: "Print the voxel concentration table as CSV or Arrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTable(cmd, args[0], protocol.WhatConc)
		},
	}
	addFilterFlags(cmd)
	cmd.Flags().Float64("z-slice", 0, "Only voxels in this xy plane (snapped to the nearest mesh center)")
	cmd.Flags().Bool("strict", false, "Fail instead of snapping a z-slice that is not a mesh center")
	return cmd
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("keep", nil, "Columns to keep (coordinates are always kept)")
	cmd.Flags().StringSlice("drop", nil, "Columns to drop")
	cmd.Flags().Int("values", 0, "Drop columns with fewer distinct values")
	cmd.Flags().Int("limit", 0, "Maximum rows in JSON output (0 for all)")
	cmd.Flags().Bool("arrow", false, "Write an Arrow IPC stream instead of CSV")
}

func queryFromFlags(cmd *cobra.Command, snap *mcds.Snapshot, what string) (protocol.QueryMsg, error) {
	f := cmd.Flags()
	q := protocol.QueryMsg{
		Type:            protocol.TypeQuery,
		ProtocolVersion: protocol.Version,
		RequestID:       "cli",
		XMLFile:         snap.XMLFile(),
		What:            what,
	}
	q.Keep, _ = f.GetStringSlice("keep")
	q.Drop, _ = f.GetStringSlice("drop")
	q.Values, _ = f.GetInt("values")
	q.Limit, _ = f.GetInt("limit")
	if f.Lookup("z-slice") != nil && f.Changed("z-slice") {
		z, _ := f.GetFloat64("z-slice")
		q.ZSlice = &z
		q.Strict, _ = f.GetBool("strict")
	}
	if len(q.Keep) > 0 && len(q.Drop) > 0 {
		return q, fmt.Errorf("%w: --keep %v, --drop %v", mcds.ErrConflictingFilter, q.Keep, q.Drop)
	}
	return q, nil
}

func runTable(cmd *cobra.Command, path, what string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	snap, err := env.open(cmd, path)
	if err != nil {
		return err
	}
	q, err := queryFromFlags(cmd, snap, what)
	if err != nil {
		return err
	}
	if env.jsonOut {
		res, e := query.Answer(cmd.Context(), query.Fixed{Snap: snap}, q, 0)
		if e != nil {
			return e
		}
		return writeJSON(cmd, res)
	}

	filter := mcds.Filter{Values: q.Values, Keep: q.Keep, Drop: q.Drop}
	var t *table.Table
	if what == protocol.WhatConc {
		t, err = snap.ConcTable(mcds.ConcQuery{Filter: filter, ZSlice: q.ZSlice, Strict: q.Strict})
	} else {
		t, err = snap.CellTable(filter)
	}
	if err != nil {
		return err
	}
	if asArrow, _ := cmd.Flags().GetBool("arrow"); asArrow {
		return t.WriteArrow(cmd.OutOrStdout())
	}
	return writeCSV(cmd, t)
}

func writeCSV(cmd *cobra.Command, t *table.Table) error {
	w := csv.NewWriter(cmd.OutOrStdout())
	if err := w.WriteAll(t.Records()); err != nil {
		return err
	}
	return w.Error()
}
