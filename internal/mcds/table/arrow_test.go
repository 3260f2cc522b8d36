package table

import (
	"bytes"
	"math"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mixed(t *testing.T) *Table {
	t.Helper()
	tb := New(3)
	require.NoError(t, tb.SetInts("ID", []int64{4, 5, 6}))
	require.NoError(t, tb.SetFloats("oxygen", []float64{1.5, math.NaN(), -2}))
	require.NoError(t, tb.SetBools("dead", []bool{false, true, false}))
	require.NoError(t, tb.SetStrings("cell_type", []string{"tumor", "immune", "tumor"}))
	return tb
}

func TestRecordSchema(t *testing.T) {
	rec := mixed(t).Record()
	defer rec.Release()

	assert.Equal(t, int64(3), rec.NumRows())
	want := []arrow.Type{arrow.INT64, arrow.FLOAT64, arrow.BOOL, arrow.STRING}
	for i, f := range rec.Schema().Fields() {
		assert.Equal(t, want[i], f.Type.ID(), f.Name)
	}
}

func TestArrowStreamRoundTrip(t *testing.T) {
	tb := mixed(t)
	var buf bytes.Buffer
	require.NoError(t, tb.WriteArrow(&buf))

	got, err := ReadArrow(&buf)
	require.NoError(t, err)
	assert.Equal(t, tb.Names(), got.Names())
	assert.Equal(t, tb.Records(), got.Records())

	ox, _ := got.Column("oxygen")
	assert.True(t, math.IsNaN(ox.Floats[1]))
	dead, _ := got.Column("dead")
	assert.Equal(t, Bool, dead.Kind)

	_, err = ReadArrow(bytes.NewReader(nil))
	assert.Error(t, err)
}

func TestTakeNullSlots(t *testing.T) {
	got := mixed(t).Take([]int{2, -1, 0})
	id, _ := got.Column("ID")
	ox, _ := got.Column("oxygen")
	dead, _ := got.Column("dead")
	ct, _ := got.Column("cell_type")
	assert.Equal(t, []int64{6, 0, 4}, id.Ints)
	assert.Equal(t, -2.0, ox.Floats[0])
	assert.True(t, math.IsNaN(ox.Floats[1]))
	assert.Equal(t, []bool{false, false, false}, dead.Bools)
	assert.Equal(t, []string{"tumor", "", "tumor"}, ct.Strings)

	assert.Panics(t, func() { mixed(t).Take([]int{3}) })
}
