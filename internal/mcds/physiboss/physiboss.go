// Package physiboss reads the per-agent boolean network state files that
// PhysiBoSS writes next to each PhysiCell time step.
package physiboss

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// NilState marks an agent whose network has no active node.
const NilState = "<nil>"

// nodeSep separates active nodes inside a state string.
const nodeSep = " -- "

// StateFile names the state file of an output XML file:
// output00000003.xml -> states_00000003.csv.
func StateFile(xmlfile string) string {
	s := strings.ReplaceAll(filepath.Base(xmlfile), "output", "")
	s = strings.ReplaceAll(s, ".xml", ".csv")
	return "states_" + s
}

// States are the decoded network states of one time step.
type States struct {
	ByID  map[int]string
	Nodes []string // sorted, NilState excluded
}

// Active splits a state into its node names.
func Active(state string) []string {
	if state == "" {
		return nil
	}
	return strings.Split(state, nodeSep)
}

// Has reports whether node is active in state.
func Has(state, node string) bool {
	for _, n := range Active(state) {
		if n == node {
			return true
		}
	}
	return false
}

// IsNil reports whether state carries the nil marker.
func IsNil(state string) bool {
	return strings.Contains(state, NilState)
}

// Parse reads "ID,state" records. The first column is the agent id; the
// state column is located by header name.
func Parse(r io.Reader, name string) (*States, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	head, err := cr.Read()
	if err == io.EOF {
		return &States{ByID: map[int]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	col := -1
	for i, h := range head {
		if strings.TrimSpace(h) == "state" {
			col = i
		}
	}
	if col < 1 {
		return nil, fmt.Errorf("%s: no state column in header %v", name, head)
	}

	s := &States{ByID: map[int]string{}}
	seen := map[string]struct{}{}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if len(rec) <= col {
			return nil, fmt.Errorf("%s:%d: %d fields, want at least %d", name, line, len(rec), col+1)
		}
		id, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad agent id %q", name, line, rec[0])
		}
		state := rec[col]
		s.ByID[id] = state
		for _, n := range Active(state) {
			if n != NilState {
				seen[n] = struct{}{}
			}
		}
	}
	for n := range seen {
		s.Nodes = append(s.Nodes, n)
	}
	sort.Strings(s.Nodes)
	return s, nil
}

// ReadFile parses the state file at path.
func ReadFile(path string) (*States, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, filepath.Base(path))
}
