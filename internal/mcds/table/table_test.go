package table

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertRoundsHalfToEven(t *testing.T) {
	c := &Column{Name: "n", Kind: Float, Floats: []float64{0.5, 1.5, 2.4999, -0.5, 3}}

	ints, err := c.Convert(Int)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2, 2, 0, 3}, ints.Ints)

	bools, err := c.Convert(Bool)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, false, true}, bools.Bools)

	strs, err := c.Convert(String)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.5", "1.5", "2.4999", "-0.5", "3"}, strs.Strings)

	_, err = (&Column{Name: "x", Kind: Float, Floats: []float64{math.NaN()}}).Convert(Int)
	require.Error(t, err)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"int": Int, "bool": Bool, "str": String, "category": String, "float": Float} {
		got, ok := ParseKind(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseKind("complex")
	assert.False(t, ok)
}

func TestSortByAndTake(t *testing.T) {
	tb := New(4)
	require.NoError(t, tb.SetInts("ID", []int64{7, 3, 9, 1}))
	require.NoError(t, tb.SetStrings("cell_type", []string{"a", "b", "c", "d"}))
	require.Error(t, tb.SetFloats("short", []float64{1}))

	sorted, err := tb.SortBy("ID")
	require.NoError(t, err)
	id, _ := sorted.Column("ID")
	ct, _ := sorted.Column("cell_type")
	assert.Equal(t, []int64{1, 3, 7, 9}, id.Ints)
	assert.Equal(t, []string{"d", "b", "a", "c"}, ct.Strings)

	_, err = tb.SortBy("cell_type")
	require.Error(t, err)

	gathered := tb.Take([]int{1, -1})
	f := &Column{Name: "f", Kind: Float, Floats: []float64{1, 2, 3, 4}}
	require.NoError(t, tb.Set(f))
	gf := tb.Take([]int{-1})
	col, _ := gf.Column("f")
	assert.True(t, math.IsNaN(col.Floats[0]))
	s, _ := gathered.Column("cell_type")
	assert.Equal(t, []string{"b", ""}, s.Strings)
}

func TestCloneIsIndependent(t *testing.T) {
	tb := New(2)
	require.NoError(t, tb.SetFloats("b", []float64{1, 2}))
	require.NoError(t, tb.SetFloats("a", []float64{3, 4}))

	cp := tb.Clone()
	c, _ := cp.Column("a")
	c.Floats[0] = 99
	orig, _ := tb.Column("a")
	assert.Equal(t, 3.0, orig.Floats[0])

	cp.SortColumns()
	assert.Equal(t, []string{"a", "b"}, cp.Names())
	assert.Equal(t, []string{"b", "a"}, tb.Names())

	cp.Drop("b")
	assert.Equal(t, []string{"a"}, cp.Names())
	assert.True(t, tb.Has("b"))
}

func TestDistinctAndRecords(t *testing.T) {
	tb := New(3)
	require.NoError(t, tb.SetFloats("x", []float64{1, math.NaN(), math.NaN()}))
	require.NoError(t, tb.SetBools("dead", []bool{false, false, false}))
	x, _ := tb.Column("x")
	d, _ := tb.Column("dead")
	assert.Equal(t, 2, x.Distinct())
	assert.Equal(t, 1, d.Distinct())

	want := [][]string{
		{"x", "dead"},
		{"1", "false"},
		{"NaN", "false"},
		{"NaN", "false"},
	}
	if diff := cmp.Diff(want, tb.Records()); diff != "" {
		t.Fatalf("Records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []any{1.0, false}, tb.Row(0))
}
