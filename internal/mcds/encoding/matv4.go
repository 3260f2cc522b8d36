package encoding

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var (
	ErrUnsupportedMAT = errors.New("unsupported mat container")
	ErrMalformedMAT   = errors.New("malformed mat container")
)

// Matrix is one named variable of a MATLAB Level 4 file. Data is column-major.
type Matrix struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

func (m *Matrix) At(r, c int) float64 { return m.Data[c*m.Rows+r] }

// Row returns a copy of row r across all columns.
func (m *Matrix) Row(r int) []float64 {
	out := make([]float64, m.Cols)
	for c := 0; c < m.Cols; c++ {
		out[c] = m.Data[c*m.Rows+r]
	}
	return out
}

// Level 4 header: type (MOPT), mrows, ncols, imagf, namlen; all int32.
const headerLen = 20

const (
	precDouble = 0
	precSingle = 1
	precInt32  = 2
	precInt16  = 3
	precUint16 = 4
	precUint8  = 5
)

// Caps guard against headers that would make us allocate absurd buffers.
// Data is read in chunks of chunkElems, so memory grows with the bytes
// actually present rather than with the dims a header claims.
const (
	maxNameLen  = 1 << 16
	maxElements = 1 << 31
	chunkElems  = 1 << 13
)

// DecodeMAT reads every variable in a Level 4 container. Level 5 and HDF5
// based containers are rejected with ErrUnsupportedMAT.
func DecodeMAT(r io.Reader) (map[string]*Matrix, error) {
	br := bufio.NewReaderSize(r, 256*1024)
	if peek, err := br.Peek(8); err == nil && bytes.HasPrefix(peek, []byte("MATLAB")) {
		return nil, fmt.Errorf("%w: level 5 header", ErrUnsupportedMAT)
	}

	out := map[string]*Matrix{}
	for {
		var hdr [headerLen]byte
		n, err := io.ReadFull(br, hdr[:])
		if err == io.EOF && n == 0 {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: short header: %v", ErrMalformedMAT, err)
		}
		m, err := decodeOne(br, hdr)
		if err != nil {
			return nil, err
		}
		out[m.Name] = m
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no variables", ErrMalformedMAT)
	}
	return out, nil
}

func decodeOne(r io.Reader, hdr [headerLen]byte) (*Matrix, error) {
	var order binary.ByteOrder = binary.LittleEndian
	mopt := int32(order.Uint32(hdr[0:4]))
	if mopt < 0 || mopt > 4052 {
		order = binary.BigEndian
		mopt = int32(order.Uint32(hdr[0:4]))
	}
	if mopt < 0 || mopt > 4052 {
		return nil, fmt.Errorf("%w: type field %d", ErrMalformedMAT, mopt)
	}
	machine := mopt / 1000
	o := (mopt / 100) % 10
	prec := (mopt / 10) % 10
	kind := mopt % 10
	switch {
	case machine > 1:
		return nil, fmt.Errorf("%w: vax/cray machine format %d", ErrUnsupportedMAT, machine)
	case machine == 1 && order != binary.BigEndian, machine == 0 && order != binary.LittleEndian:
		return nil, fmt.Errorf("%w: byte order does not match machine field %d", ErrMalformedMAT, machine)
	case o != 0:
		return nil, fmt.Errorf("%w: reserved field %d", ErrMalformedMAT, o)
	case kind == 2:
		return nil, fmt.Errorf("%w: sparse matrix", ErrUnsupportedMAT)
	case kind > 2:
		return nil, fmt.Errorf("%w: matrix kind %d", ErrMalformedMAT, kind)
	}

	rows := int32(order.Uint32(hdr[4:8]))
	cols := int32(order.Uint32(hdr[8:12]))
	imagf := int32(order.Uint32(hdr[12:16]))
	namlen := int32(order.Uint32(hdr[16:20]))
	if rows < 0 || cols < 0 || namlen <= 0 || namlen > maxNameLen {
		return nil, fmt.Errorf("%w: dims %dx%d namlen %d", ErrMalformedMAT, rows, cols, namlen)
	}
	elems := int64(rows) * int64(cols)
	if elems > maxElements {
		return nil, fmt.Errorf("%w: %d elements", ErrMalformedMAT, elems)
	}

	name := make([]byte, namlen)
	if _, err := io.ReadFull(r, name); err != nil {
		return nil, fmt.Errorf("%w: name: %v", ErrMalformedMAT, err)
	}
	m := &Matrix{
		Name: strings.TrimRight(string(name), "\x00"),
		Rows: int(rows),
		Cols: int(cols),
	}

	size, err := elemSize(int(prec))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, min(elems, chunkElems)*int64(size))
	m.Data = make([]float64, 0, min(elems, chunkElems))
	for left := elems; left > 0; {
		n := min(left, chunkElems)
		chunk := buf[:n*int64(size)]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("%w: %s real part: %v", ErrMalformedMAT, m.Name, err)
		}
		for i := 0; i < int(n); i++ {
			m.Data = append(m.Data, decodeElem(order, int(prec), chunk[i*size:]))
		}
		left -= n
	}
	if imagf != 0 {
		// Imaginary parts carry no information for simulation output.
		if _, err := io.CopyN(io.Discard, r, elems*int64(size)); err != nil {
			return nil, fmt.Errorf("%w: %s imaginary part: %v", ErrMalformedMAT, m.Name, err)
		}
	}
	return m, nil
}

func elemSize(prec int) (int, error) {
	switch prec {
	case precDouble:
		return 8, nil
	case precSingle, precInt32:
		return 4, nil
	case precInt16, precUint16:
		return 2, nil
	case precUint8:
		return 1, nil
	}
	return 0, fmt.Errorf("%w: precision %d", ErrMalformedMAT, prec)
}

func decodeElem(order binary.ByteOrder, prec int, b []byte) float64 {
	switch prec {
	case precDouble:
		return math.Float64frombits(order.Uint64(b))
	case precSingle:
		return float64(math.Float32frombits(order.Uint32(b)))
	case precInt32:
		return float64(int32(order.Uint32(b)))
	case precInt16:
		return float64(int16(order.Uint16(b)))
	case precUint16:
		return float64(order.Uint16(b))
	default:
		return float64(b[0])
	}
}

// EncodeMAT writes little-endian double precision Level 4 variables.
func EncodeMAT(w io.Writer, ms ...*Matrix) error {
	bw := bufio.NewWriterSize(w, 256*1024)
	for _, m := range ms {
		if m == nil {
			continue
		}
		if len(m.Data) != m.Rows*m.Cols {
			return fmt.Errorf("matrix %s: %d values for %dx%d", m.Name, len(m.Data), m.Rows, m.Cols)
		}
		var hdr [headerLen]byte
		binary.LittleEndian.PutUint32(hdr[0:4], 0)
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(m.Rows))
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(m.Cols))
		binary.LittleEndian.PutUint32(hdr[12:16], 0)
		binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(m.Name)+1))
		if _, err := bw.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := bw.WriteString(m.Name); err != nil {
			return err
		}
		if err := bw.WriteByte(0); err != nil {
			return err
		}
		var tmp [8]byte
		for _, v := range m.Data {
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
			if _, err := bw.Write(tmp[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// ReadMATFile decodes path. Files ending in .zst are decompressed on the fly.
func ReadMATFile(path string) (map[string]*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.EqualFold(filepath.Ext(path), ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}
	ms, err := DecodeMAT(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return ms, nil
}

func WriteMATFile(path string, ms ...*Matrix) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := EncodeMAT(f, ms...); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Variable returns the named matrix or an error naming the file contents.
func Variable(ms map[string]*Matrix, name string) (*Matrix, error) {
	m, ok := ms[name]
	if !ok {
		have := make([]string, 0, len(ms))
		for k := range ms {
			have = append(have, k)
		}
		sort.Strings(have)
		return nil, fmt.Errorf("%w: variable %q not found (have %v)", ErrMalformedMAT, name, have)
	}
	return m, nil
}
