package querylog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, "queries")
	clock := time.Date(2024, 5, 1, 12, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	require.NoError(t, w.Write(Entry{RequestID: "a", What: "cells", Rows: 2}))
	require.NoError(t, w.Write(Entry{RequestID: "b", What: "info", Code: "E_NOT_FOUND"}))
	first := clock
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, w.Write(Entry{RequestID: "c", What: "conc", Rows: 6}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	got, err := ReadFile(w.Path(first))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].RequestID)
	assert.Equal(t, 2, got[0].Rows)
	assert.Equal(t, first, got[0].Time)
	assert.Equal(t, "E_NOT_FOUND", got[1].Code)

	got, err = ReadFile(w.Path(clock))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "conc", got[0].What)
}

func TestWriter_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for _, id := range []string{"x", "y"} {
		w := New(dir, "queries")
		w.now = func() time.Time { return clock }
		require.NoError(t, w.Write(Entry{RequestID: id}))
		require.NoError(t, w.Close())
	}
	got, err := ReadFile(New(dir, "queries").Path(clock))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "y", got[1].RequestID)
}

func TestWriter_NilSafe(t *testing.T) {
	var w *Writer
	assert.NoError(t, w.Write(Entry{}))
	assert.NoError(t, w.Close())
}
