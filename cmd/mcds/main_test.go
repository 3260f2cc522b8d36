package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcdskit.dev/internal/mcds"
	"mcdskit.dev/internal/mcds/mcdstest"
	"mcdskit.dev/internal/mcds/table"
	"mcdskit.dev/internal/persistence/snapshot"
	"mcdskit.dev/internal/protocol"
)

// run executes the CLI with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := newRootCmd()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	err := rootCmd.Execute()
	return out.String(), err
}

func bundle(t *testing.T) string {
	t.Helper()
	return mcdstest.Write(t, t.TempDir(), mcdstest.Default())
}

func TestInfo(t *testing.T) {
	xml := bundle(t)

	out, err := run(t, "info", xml)
	require.NoError(t, err)
	assert.Contains(t, out, "output00000001.xml")
	assert.Contains(t, out, "3 x 2 x 1 voxels")
	assert.Contains(t, out, "tumor, immune (descriptor)")

	out, err = run(t, "info", xml, "--json")
	require.NoError(t, err)
	var in protocol.InfoV1
	require.NoError(t, json.Unmarshal([]byte(out), &in))
	assert.Equal(t, 2, in.Cells)
	assert.Equal(t, 60.0, in.Time)
	assert.Equal(t, []string{"oxygen"}, in.Substrates)
}

func TestCells_CSV(t *testing.T) {
	out, err := run(t, "cells", bundle(t), "--keep", "cell_type,dead")
	require.NoError(t, err)

	recs, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Contains(t, recs[0], "cell_type")
	assert.Contains(t, recs[0], "ID")
	assert.NotContains(t, recs[0], "oxygen")
	col := map[string]int{}
	for i, n := range recs[0] {
		col[n] = i
	}
	assert.Equal(t, "tumor", recs[1][col["cell_type"]])
	assert.Equal(t, "true", recs[2][col["dead"]])
}

func TestCells_Arrow(t *testing.T) {
	out, err := run(t, "cells", bundle(t), "--keep", "cell_type", "--arrow")
	require.NoError(t, err)

	tb, err := table.ReadArrow(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 2, tb.Len())
	ct, ok := tb.Column("cell_type")
	require.True(t, ok)
	assert.Equal(t, []string{"tumor", "immune"}, ct.Strings)
	assert.True(t, tb.Has("ID"))
}

func TestConc_JSONSlice(t *testing.T) {
	out, err := run(t, "conc", bundle(t), "--z-slice", "0", "--drop", "oxygen", "--json")
	require.NoError(t, err)
	var res protocol.ResultMsg
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, protocol.TypeResult, res.Type)
	assert.Len(t, res.Rows, 6)
	assert.NotContains(t, res.Columns, "oxygen")
	assert.Contains(t, res.Columns, "voxel_i")

	_, err = run(t, "conc", bundle(t), "--z-slice", "7", "--strict")
	assert.ErrorIs(t, err, mcds.ErrSliceOffMesh)

	_, err = run(t, "cells", bundle(t), "--keep", "a", "--drop", "b")
	assert.ErrorIs(t, err, mcds.ErrConflictingFilter)
}

func TestGraphAndUnits(t *testing.T) {
	xml := bundle(t)

	out, err := run(t, "graph", xml)
	require.NoError(t, err)
	assert.Equal(t, "0: 1\n1: 0\n", out)

	out, err = run(t, "graph", xml, "--kind", "spring")
	require.NoError(t, err)
	assert.Equal(t, "0: 1\n1: \n", out)

	_, err = run(t, "graph", xml, "--kind", "bogus")
	assert.Error(t, err)

	out, err = run(t, "units", xml)
	require.NoError(t, err)
	assert.Contains(t, out, "oxygen\tmmHg\n")
	assert.Contains(t, out, "time\tmin\n")

	out, err = run(t, "celltypes", xml)
	require.NoError(t, err)
	assert.Equal(t, "0\ttumor\n1\timmune\n", out)
}

func TestArchiveThenInfo(t *testing.T) {
	xml := bundle(t)
	dir := t.TempDir()

	out, err := run(t, "archive", xml, "--out", dir)
	require.NoError(t, err)
	want := snapshot.Path(dir, "output00000001.xml")
	assert.Equal(t, want+"\n", out)

	out, err = run(t, "info", want, "--json")
	require.NoError(t, err)
	var in protocol.InfoV1
	require.NoError(t, json.Unmarshal([]byte(out), &in))
	assert.Equal(t, 2, in.Cells)

	out, err = run(t, "cells", want, "--keep", "cell_type")
	require.NoError(t, err)
	assert.Contains(t, out, "immune")
}

func TestIndex(t *testing.T) {
	xml := bundle(t)
	dir := filepath.Dir(xml)
	db := filepath.Join(t.TempDir(), "index.sqlite")

	out, err := run(t, "index", dir, "--db", db, "--jobs", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "output00000001.xml\t60 min\t2 cells")
	assert.Contains(t, out, "indexed 1 of 1 steps")
	assert.FileExists(t, snapshot.Path(dir, "output00000001.xml"))
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "mcds version "))
}
