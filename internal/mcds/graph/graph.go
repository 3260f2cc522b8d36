// Package graph decodes the adjacency list text files PhysiCell writes next
// to each time step.
package graph

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Graph maps an agent id to the ids it points at. Direction is kept as
// stored.
type Graph map[int]map[int]struct{}

// Clone deep-copies g. A nil graph clones to an empty one.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for k, vs := range g {
		set := make(map[int]struct{}, len(vs))
		for v := range vs {
			set[v] = struct{}{}
		}
		out[k] = set
	}
	return out
}

// Neighbors returns the sorted out-edges of id.
func (g Graph) Neighbors(id int) []int {
	vs := g[id]
	out := make([]int, 0, len(vs))
	for v := range vs {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Edges counts directed edges.
func (g Graph) Edges() int {
	n := 0
	for _, vs := range g {
		n += len(vs)
	}
	return n
}

// Lists renders g with sorted neighbor lists, keyed by decimal id.
func (g Graph) Lists() map[string][]int {
	out := make(map[string][]int, len(g))
	for k := range g {
		out[strconv.Itoa(k)] = g.Neighbors(k)
	}
	return out
}

// Parse reads "<id>: <id>,<id>,..." lines. name labels errors.
func Parse(r io.Reader, name string) (Graph, error) {
	g := Graph{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		head, tail, ok := strings.Cut(text, ":")
		if !ok {
			return nil, fmt.Errorf("%s:%d: missing ':' in %q", name, line, text)
		}
		id, err := strconv.Atoi(strings.TrimSpace(head))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad agent id %q", name, line, head)
		}
		set := g[id]
		if set == nil {
			set = map[int]struct{}{}
			g[id] = set
		}
		tail = strings.TrimSpace(tail)
		if tail == "" {
			continue
		}
		for _, f := range strings.Split(tail, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: bad neighbor id %q", name, line, f)
			}
			set[v] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return g, nil
}

// ReadFile parses the graph stored at path.
func ReadFile(path string) (Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, filepath.Base(path))
}

// ReadOptional is ReadFile that treats a missing file as an empty graph.
// found reports whether the file existed.
func ReadOptional(path string) (g Graph, found bool, err error) {
	g, err = ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Graph{}, false, nil
	}
	if err != nil {
		return nil, true, err
	}
	return g, true, nil
}

// Adjacency renders g as sorted neighbor lists.
func (g Graph) Adjacency() map[int][]int {
	out := make(map[int][]int, len(g))
	for k := range g {
		out[k] = g.Neighbors(k)
	}
	return out
}

// FromAdjacency is the inverse of Adjacency.
func FromAdjacency(m map[int][]int) Graph {
	g := make(Graph, len(m))
	for k, vs := range m {
		set := make(map[int]struct{}, len(vs))
		for _, v := range vs {
			set[v] = struct{}{}
		}
		g[k] = set
	}
	return g
}
