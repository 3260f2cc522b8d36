package table

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/compute"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

var mem = memory.NewGoAllocator()

func (k Kind) arrowType() arrow.DataType {
	switch k {
	case Int:
		return arrow.PrimitiveTypes.Int64
	case Bool:
		return arrow.FixedWidthTypes.Boolean
	case String:
		return arrow.BinaryTypes.String
	}
	return arrow.PrimitiveTypes.Float64
}

func kindOf(dt arrow.DataType) (Kind, error) {
	switch dt.ID() {
	case arrow.FLOAT64:
		return Float, nil
	case arrow.INT64:
		return Int, nil
	case arrow.BOOL:
		return Bool, nil
	case arrow.STRING:
		return String, nil
	}
	return 0, fmt.Errorf("arrow type %s has no column kind", dt)
}

// Array copies c into a new arrow array. The caller releases it.
func (c *Column) Array() arrow.Array {
	switch c.Kind {
	case Int:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(c.Ints, nil)
		return b.NewArray()
	case Bool:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.AppendValues(c.Bools, nil)
		return b.NewArray()
	case String:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.AppendValues(c.Strings, nil)
		return b.NewArray()
	}
	b := array.NewFloat64Builder(mem)
	defer b.Release()
	b.AppendValues(c.Floats, nil)
	return b.NewArray()
}

// fromArray copies arr into a column of kind k. Null slots become the zero
// value, NaN for floats.
func fromArray(name string, k Kind, arr arrow.Array) (*Column, error) {
	out := &Column{Name: name, Kind: k}
	n := arr.Len()
	bad := func() (*Column, error) {
		return nil, fmt.Errorf("column %s: arrow %s is not %s", name, arr.DataType(), k)
	}
	switch k {
	case Int:
		a, ok := arr.(*array.Int64)
		if !ok {
			return bad()
		}
		out.Ints = make([]int64, n)
		for i := range out.Ints {
			if a.IsValid(i) {
				out.Ints[i] = a.Value(i)
			}
		}
	case Bool:
		a, ok := arr.(*array.Boolean)
		if !ok {
			return bad()
		}
		out.Bools = make([]bool, n)
		for i := range out.Bools {
			out.Bools[i] = a.IsValid(i) && a.Value(i)
		}
	case String:
		a, ok := arr.(*array.String)
		if !ok {
			return bad()
		}
		out.Strings = make([]string, n)
		for i := range out.Strings {
			if a.IsValid(i) {
				out.Strings[i] = strings.Clone(a.Value(i))
			}
		}
	default:
		a, ok := arr.(*array.Float64)
		if !ok {
			return bad()
		}
		out.Floats = make([]float64, n)
		for i := range out.Floats {
			if a.IsValid(i) {
				out.Floats[i] = a.Value(i)
			} else {
				out.Floats[i] = math.NaN()
			}
		}
	}
	return out, nil
}

// take gathers rows by index. A negative index yields a null slot, read
// back as the zero value or NaN.
func (c *Column) take(idx []int) *Column {
	values := c.Array()
	defer values.Release()

	ib := array.NewInt64Builder(mem)
	defer ib.Release()
	for _, j := range idx {
		if j < 0 {
			ib.AppendNull()
			continue
		}
		ib.Append(int64(j))
	}
	indices := ib.NewArray()
	defer indices.Release()

	taken, err := compute.TakeArray(context.Background(), values, indices)
	if err != nil {
		// Only an index past the end gets here, which is a caller bug.
		panic(fmt.Sprintf("table: take %s: %v", c.Name, err))
	}
	defer taken.Release()
	out, err := fromArray(c.Name, c.Kind, taken)
	if err != nil {
		panic(fmt.Sprintf("table: take %s: %v", c.Name, err))
	}
	return out
}

// Record returns the table as one arrow record batch. The caller releases it.
func (t *Table) Record() arrow.Record {
	fields := make([]arrow.Field, len(t.cols))
	cols := make([]arrow.Array, len(t.cols))
	for i, c := range t.cols {
		fields[i] = arrow.Field{Name: c.Name, Type: c.Kind.arrowType()}
		cols[i] = c.Array()
	}
	rec := array.NewRecord(arrow.NewSchema(fields, nil), cols, int64(t.rows))
	for _, a := range cols {
		a.Release()
	}
	return rec
}

// WriteArrow writes the table as an Arrow IPC stream of one record batch.
func (t *Table) WriteArrow(w io.Writer) error {
	rec := t.Record()
	defer rec.Release()
	wr := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := wr.Write(rec); err != nil {
		_ = wr.Close()
		return err
	}
	return wr.Close()
}

// ReadArrow reads the first record batch of an Arrow IPC stream.
func ReadArrow(r io.Reader) (*Table, error) {
	rd, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, err
	}
	defer rd.Release()
	if !rd.Next() {
		if err := rd.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("arrow stream has no record batch")
	}
	rec := rd.Record()
	t := New(int(rec.NumRows()))
	for i, f := range rec.Schema().Fields() {
		k, err := kindOf(f.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", f.Name, err)
		}
		col, err := fromArray(f.Name, k, rec.Column(i))
		if err != nil {
			return nil, err
		}
		if err := t.Set(col); err != nil {
			return nil, err
		}
	}
	return t, nil
}
