package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcdskit.dev/internal/config"
	"mcdskit.dev/internal/logging"
	"mcdskit.dev/internal/mcds/mcdstest"
	"mcdskit.dev/internal/persistence/indexdb"
	"mcdskit.dev/internal/persistence/querylog"
	"mcdskit.dev/internal/persistence/snapshot"
	"mcdskit.dev/internal/protocol"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Loader.PhysiBoSS = false
	cfg.Loader.SettingsXML = ""
	cfg.Server.DataDir = t.TempDir()
	cfg.Archive.Dir = filepath.Join(t.TempDir(), "archive")
	cfg.Index.Path = filepath.Join(t.TempDir(), "index.sqlite")
	cfg.Server.QueryLogDir = filepath.Join(t.TempDir(), "queries")
	mcdstest.Write(t, cfg.Server.DataDir, mcdstest.Default())
	return cfg
}

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestServer_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	a, err := newApp(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)

	ts := httptest.NewServer(a.routes())
	defer ts.Close()

	assert.Contains(t, get(t, ts.URL+"/healthz"), `"ok":true`)

	var steps struct {
		Steps []string `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(get(t, ts.URL+"/v1/steps")), &steps))
	assert.Equal(t, []string{"output00000001.xml"}, steps.Steps)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(protocol.QueryMsg{
		Type:            protocol.TypeQuery,
		ProtocolVersion: protocol.Version,
		RequestID:       "q1",
		XMLFile:         "output00000001.xml",
		What:            protocol.WhatCells,
		Keep:            []string{"cell_type"},
	}))
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var res protocol.ResultMsg
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, protocol.TypeResult, res.Type)
	assert.Equal(t, "q1", res.RequestID)
	assert.Equal(t, 2, res.TotalRows)

	require.NoError(t, conn.WriteJSON(protocol.QueryMsg{
		Type:            protocol.TypeQuery,
		ProtocolVersion: protocol.Version,
		RequestID:       "q2",
		XMLFile:         "output00000042.xml",
		What:            protocol.WhatInfo,
	}))
	var e protocol.ErrorMsg
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, protocol.ErrNotFound, e.Code)

	m := get(t, ts.URL+"/metrics")
	assert.Contains(t, m, `mcds_loads_total{result="ok",source="bundle"} 1`)
	assert.Contains(t, m, `mcds_queries_total{code="ok",what="cells"} 1`)
	assert.Contains(t, m, `mcds_queries_total{code="E_NOT_FOUND",what="info"} 1`)
	assert.Contains(t, m, "mcds_archive_writes_total 1")
	assert.Contains(t, m, "mcds_cache_entries 1")
	assert.Contains(t, m, "mcds_index_queue_depth")

	a.Close()
	assert.FileExists(t, snapshot.Path(cfg.Archive.Dir, "output00000001.xml"))

	logs, err := filepath.Glob(filepath.Join(cfg.Server.QueryLogDir, "queries-*.jsonl.zst"))
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	var entries []querylog.Entry
	for _, p := range logs {
		got, err := querylog.ReadFile(p)
		require.NoError(t, err)
		entries = append(entries, got...)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "q1", entries[0].RequestID)
	assert.Equal(t, 2, entries[0].Rows)
	assert.Equal(t, protocol.ErrNotFound, entries[1].Code)

	idx, err := indexdb.OpenSQLite(cfg.Index.Path, 0, nil)
	require.NoError(t, err)
	defer idx.Close()
	rows, err := idx.Steps(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "output00000001.xml", rows[0].XMLFile)
	assert.Equal(t, 2, rows[0].Cells)
}

func TestServer_MirrorNeedsArchiveDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Dir = ""
	cfg.Index.Path = ""
	cfg.Mirror.Enabled = true
	cfg.Mirror.Bucket = "runs"

	a, err := newApp(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.mirror)
	assert.Nil(t, a.index)
}
