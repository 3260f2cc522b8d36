package graph

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	in := "5: 2,7\n6:\n\n 8 : 9 , 5 ,\n5:11\n"
	g, err := Parse(strings.NewReader(in), "neighbors.txt")
	require.NoError(t, err)

	want := map[string][]int{
		"5": {2, 7, 11},
		"6": {},
		"8": {5, 9},
	}
	if diff := cmp.Diff(want, g.Lists()); diff != "" {
		t.Fatalf("graph mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 5, g.Edges())
	assert.Empty(t, g.Neighbors(42))
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(strings.NewReader("1: 2\n2 3\n"), "g.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "g.txt:2")

	_, err = Parse(strings.NewReader("x: 2\n"), "g.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "g.txt:1")

	_, err = Parse(strings.NewReader("1: 2,b\n"), "g.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"b"`)
}

func TestClone(t *testing.T) {
	g := Graph{1: {2: {}}}
	c := g.Clone()
	c[1][3] = struct{}{}
	assert.Len(t, g[1], 1)
	assert.NotNil(t, Graph(nil).Clone())
}

func TestReadOptional(t *testing.T) {
	dir := t.TempDir()
	g, found, err := ReadOptional(filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, g)

	p := filepath.Join(dir, "spring.txt")
	require.NoError(t, os.WriteFile(p, []byte("3: 4\n"), 0o644))
	g, found, err = ReadOptional(p)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []int{4}, g.Neighbors(3))
}

func TestAdjacencyRoundTrip(t *testing.T) {
	g := Graph{1: {2: {}, 3: {}}, 4: {}}
	adj := g.Adjacency()
	assert.Equal(t, map[int][]int{1: {2, 3}, 4: {}}, adj)
	assert.Equal(t, g, FromAdjacency(adj))
	assert.Empty(t, FromAdjacency(nil))
}
