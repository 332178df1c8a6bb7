package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueZeroIsNull(t *testing.T) {
	var v Value
	require.True(t, v.IsNull())
	require.Equal(t, KindNull, v.Kind())
	require.Equal(t, "null", v.String())
}

func TestValueScalars(t *testing.T) {
	require.Equal(t, true, Bool(true).Bool())
	require.Equal(t, 2.5, Number(2.5).Num())
	require.Equal(t, 3, Int(3).Int())
	require.Equal(t, "hi", String("hi").Str())

	// Accessors on the wrong kind return zero values.
	require.Equal(t, 0.0, String("7").Num())
	require.Equal(t, "", Number(7).Str())
	require.False(t, Number(1).Bool())
}

func TestParseNumbersAreDoubles(t *testing.T) {
	v := MustParse(`{"n": 3, "big": 1e3}`)
	require.Equal(t, KindNumber, v.Get("n").Kind())
	require.Equal(t, 3.0, v.Get("n").Num())
	require.Equal(t, 1000.0, v.Get("big").Num())
}

func TestCanonicalMarshalSortsKeys(t *testing.T) {
	v := Object(map[string]Value{
		"zebra": Int(1),
		"alpha": Int(2),
		"mid":   Object(map[string]Value{"b": Int(3), "a": Int(4)}),
	})
	require.Equal(t, `{"alpha":2,"mid":{"a":4,"b":3},"zebra":1}`, v.String())
}

func TestMarshalIntegralDoublesStayCompact(t *testing.T) {
	// 3.0 must serialize as 3, matching the source encoding of counters.
	v := Object(map[string]Value{"i": Number(3)})
	require.Equal(t, `{"i":3}`, v.String())
}

func TestRoundTripPreservesEquality(t *testing.T) {
	v := MustParse(`{"a":[1,2,{"x":null}],"b":"s","c":true,"d":{"e":2.5}}`)
	got, err := Parse([]byte(v.String()))
	require.NoError(t, err)
	require.True(t, v.Equal(got))
}

func TestSetPathCreatesIntermediateObjects(t *testing.T) {
	ctx := Object(nil)
	require.NoError(t, ctx.SetPath("a.b.c", Int(1)))

	got, ok := ctx.GetPath("a.b.c")
	require.True(t, ok)
	require.Equal(t, 1, got.Int())
}

func TestSetPathNumericSegmentsAreKeys(t *testing.T) {
	ctx := Object(nil)
	require.NoError(t, ctx.SetPath("arr.0", String("zero")))

	arr := ctx.Get("arr")
	require.Equal(t, KindObject, arr.Kind())
	require.Equal(t, "zero", arr.Get("0").Str())
}

func TestSetPathReplacesNonObjectIntermediates(t *testing.T) {
	ctx := Object(map[string]Value{"a": Int(5)})
	require.NoError(t, ctx.SetPath("a.b", Int(6)))

	require.Equal(t, KindObject, ctx.Get("a").Kind())
	require.Equal(t, 6, ctx.Get("a").Get("b").Int())
}

func TestSetPathRejectsNonObjectTarget(t *testing.T) {
	require.Error(t, Int(1).SetPath("a", Int(2)))
	require.Error(t, Object(nil).SetPath("", Int(2)))
}

func TestCloneIsIndependent(t *testing.T) {
	orig := MustParse(`{"a":{"b":1},"list":[1,2]}`)
	clone := orig.Clone()
	require.NoError(t, clone.SetPath("a.b", Int(99)))

	require.Equal(t, 1, orig.Get("a").Get("b").Int())
	require.Equal(t, 99, clone.Get("a").Get("b").Int())
}

func TestEqualDeep(t *testing.T) {
	a := MustParse(`{"x":[1,{"y":"z"}]}`)
	b := MustParse(`{"x":[1,{"y":"z"}]}`)
	c := MustParse(`{"x":[1,{"y":"w"}]}`)
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.False(t, a.Equal(Null()))
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{"n": 7, "s": "x", "l": []int{1, 2}})
	require.NoError(t, err)
	require.Equal(t, 7.0, v.Get("n").Num())
	require.Equal(t, "x", v.Get("s").Str())
	require.Equal(t, 2, v.Get("l").Len())
}

func TestFieldsSorted(t *testing.T) {
	v := MustParse(`{"c":1,"a":2,"b":3}`)
	require.Equal(t, []string{"a", "b", "c"}, v.Fields())
}

func TestArrayAccessors(t *testing.T) {
	v := Array(Int(1), String("two"))
	require.Equal(t, 2, v.Len())
	require.Equal(t, 1, v.At(0).Int())
	require.Equal(t, "two", v.At(1).Str())
	require.True(t, v.At(5).IsNull())
	require.True(t, v.At(-1).IsNull())
}
