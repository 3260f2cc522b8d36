package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Version is the archive layout written by WriteSnapshot.
const Version = 1

// Ext is the file extension of decoded time step archives.
const Ext = ".snap.zst"

// Header is written twice: as a leading JSON line so tools can identify an
// archive without decoding it, and inside the gob body.
type Header struct {
	Version       int     `json:"version"`
	XMLFile       string  `json:"xmlfile"`
	Time          float64 `json:"time"`
	Cells         int     `json:"cells"`
	Voxels        int     `json:"voxels"`
	CatalogDigest string  `json:"catalog_digest"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Path     string     `json:"path"`
	Metadata MetadataV1 `json:"metadata"`
	Mesh     MeshV1     `json:"mesh"`

	Microenv bool        `json:"microenv"`
	Species  []SpeciesV1 `json:"species,omitempty"`
	Conc     TableV1     `json:"conc"`

	Cells          TableV1        `json:"cells"`
	Attributes     []string       `json:"attributes"`
	CellTypes      map[int]string `json:"cell_types,omitempty"`
	CellTypeSource string         `json:"cell_type_source,omitempty"`

	Graphs GraphsV1          `json:"graphs"`
	Units  map[string]string `json:"units"`

	Notices []string `json:"notices,omitempty"`
}

type MetadataV1 struct {
	MultiCellDSVersion string  `json:"multicellds_version"`
	PhysiCellVersion   string  `json:"physicell_version"`
	Created            string  `json:"created"`
	Time               float64 `json:"time"`
	TimeUnit           string  `json:"time_unit"`
	Runtime            float64 `json:"runtime"`
	RuntimeUnit        string  `json:"runtime_unit"`
	SpatialUnit        string  `json:"spatial_unit"`
}

type MeshV1 struct {
	Axes     [3][]float64  `json:"axes"`
	MNPRange [3][2]float64 `json:"mnp_range"`
	IJKRange [3][2]int     `json:"ijk_range"`
	XYZRange [3][2]float64 `json:"xyz_range"`
	Spacing  [3]float64    `json:"spacing"`
	Volume   float64       `json:"volume"`
	Centers  [3][]float64  `json:"centers"`
	Unit     string        `json:"unit"`
}

type SpeciesV1 struct {
	ID            int     `json:"id"`
	Name          string  `json:"name"`
	Unit          string  `json:"unit"`
	Diffusion     float64 `json:"diffusion_coefficient"`
	DiffusionUnit string  `json:"diffusion_coefficient_unit"`
	Decay         float64 `json:"decay_rate"`
	DecayUnit     string  `json:"decay_rate_unit"`
}

type TableV1 struct {
	Rows    int        `json:"rows"`
	Columns []ColumnV1 `json:"columns"`
}

// ColumnV1 carries exactly one non-empty slice, selected by Kind.
type ColumnV1 struct {
	Name    string    `json:"name"`
	Kind    uint8     `json:"kind"`
	Floats  []float64 `json:"floats,omitempty"`
	Ints    []int64   `json:"ints,omitempty"`
	Bools   []bool    `json:"bools,omitempty"`
	Strings []string  `json:"strings,omitempty"`
}

// GraphsV1 stores adjacency as sorted neighbor lists.
type GraphsV1 struct {
	Neighbor map[int][]int `json:"neighbor"`
	Attached map[int][]int `json:"attached"`
	Spring   map[int][]int `json:"spring"`
}

// Path returns the archive path for an output XML file inside dir.
func Path(dir, xmlfile string) string {
	base := strings.TrimSuffix(filepath.Base(xmlfile), filepath.Ext(xmlfile))
	return filepath.Join(dir, base+Ext)
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("%s: unsupported archive version %d", filepath.Base(path), snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
