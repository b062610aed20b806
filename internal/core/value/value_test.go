package value

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericEquality(t *testing.T) {
	assert.True(t, Int(5).Equal(Number(5.0)))
	assert.False(t, Int(5).Equal(Number(5.5)))
	assert.False(t, Int(0).Equal(Bool(false)))
	assert.False(t, Null().Equal(String("")))
}

func TestNilBehavesAsNull(t *testing.T) {
	var v *Value
	assert.True(t, v.IsNull())
	assert.True(t, v.Equal(Null()))
	assert.Equal(t, "null", v.DebugString())

	arr := Array(nil, Int(1))
	first, ok := arr.Index(0)
	require.True(t, ok)
	assert.True(t, first.IsNull())
}

func TestAccessorsNeverPanicOnMismatch(t *testing.T) {
	s := String("hello")

	_, ok := s.AsNumber()
	assert.False(t, ok)
	_, ok = s.AsInt()
	assert.False(t, ok)
	_, ok = s.AsBool()
	assert.False(t, ok)
	_, ok = s.AsArray()
	assert.False(t, ok)
	_, ok = s.AsObject()
	assert.False(t, ok)
	_, ok = s.Index(0)
	assert.False(t, ok)
	_, ok = s.Key("x")
	assert.False(t, ok)

	str, ok := s.AsString()
	assert.True(t, ok)
	assert.Equal(t, "hello", str)
}

func TestAsIntegerRejectsFractions(t *testing.T) {
	n, ok := Number(16777215).AsInteger()
	require.True(t, ok)
	assert.Equal(t, 16777215, n)
	n, ok = Number(-3).AsInteger()
	require.True(t, ok)
	assert.Equal(t, -3, n)

	for _, in := range []*Value{Number(1.5), Number(-0.25), Number(math.NaN()), Number(math.Inf(-1)), String("1"), nil} {
		_, ok := in.AsInteger()
		assert.False(t, ok, in.DebugString())
	}
}

func TestAsIntRounds(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{2.4, 2},
		{2.5, 3},
		{-2.5, -3},
		{16777215, 16777215},
	}
	for _, c := range cases {
		got, ok := Number(c.in).AsInt()
		require.True(t, ok)
		assert.Equal(t, c.want, got, "input %v", c.in)
	}

	_, ok := Number(math.NaN()).AsInt()
	assert.False(t, ok)
	_, ok = Number(math.Inf(1)).AsInt()
	assert.False(t, ok)
}

func TestIndexAndKey(t *testing.T) {
	arr := Array(Int(1), String("two"))
	v, ok := arr.Index(1)
	require.True(t, ok)
	assert.True(t, v.Equal(String("two")))
	_, ok = arr.Index(2)
	assert.False(t, ok)
	_, ok = arr.Index(-1)
	assert.False(t, ok)
	assert.Equal(t, 2, arr.Len())

	obj := Object(map[string]*Value{"a": Bool(true)})
	v, ok = obj.Key("a")
	require.True(t, ok)
	assert.True(t, v.Equal(Bool(true)))
	_, ok = obj.Key("b")
	assert.False(t, ok)
}

func TestConstructorsCopyInput(t *testing.T) {
	items := []*Value{Int(1), Int(2)}
	arr := Array(items...)
	items[0] = Int(99)
	first, _ := arr.Index(0)
	assert.True(t, first.Equal(Int(1)))

	fields := map[string]*Value{"a": Int(1)}
	obj := Object(fields)
	fields["a"] = Int(2)
	fields["b"] = Int(3)
	a, _ := obj.Key("a")
	assert.True(t, a.Equal(Int(1)))
	assert.Equal(t, 1, obj.Len())

	got, _ := arr.AsArray()
	got[1] = Null()
	second, _ := arr.Index(1)
	assert.True(t, second.Equal(Int(2)))
}

func TestStructuralEquality(t *testing.T) {
	a := Object(map[string]*Value{
		"list": Array(Int(1), Number(2.5), Null()),
		"flag": Bool(true),
	})
	b := Object(map[string]*Value{
		"flag": Bool(true),
		"list": Array(Number(1), Number(2.5), Null()),
	})
	c := Object(map[string]*Value{
		"flag": Bool(true),
		"list": Array(Number(1), Number(2.5)),
	})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(Array()))
}

func TestDebugString(t *testing.T) {
	v := Array(
		Null(),
		Int(42),
		Number(1.5),
		Bool(false),
		String("raw text"),
		Object(map[string]*Value{"x": Int(1)}),
	)
	assert.Equal(t, `[null, 42.000000, 1.500000, false, raw text, {"x" : 1.000000}]`, v.DebugString())
	assert.Equal(t, "[]", Array().DebugString())
	assert.Equal(t, "{}", Object(nil).DebugString())
}

func TestDebugStringSortsKeys(t *testing.T) {
	want := `{"a" : 1.000000, "b" : {"c" : true, "d" : null}, "c" : x}`

	for i := 0; i < 20; i++ {
		fields := map[string]*Value{}
		fields["c"] = String("x")
		fields["b"] = Object(map[string]*Value{"d": Null(), "c": Bool(true)})
		fields["a"] = Int(1)
		assert.Equal(t, want, Object(fields).DebugString())
	}
}

func TestFingerprint(t *testing.T) {
	a := Object(map[string]*Value{"n": Int(5), "s": String("x")})
	b := Object(map[string]*Value{"s": String("x"), "n": Number(5.0)})
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	assert.NotEqual(t, String("1").Fingerprint(), Int(1).Fingerprint())
	assert.NotEqual(t, Array(String("ab")).Fingerprint(), Array(String("a"), String("b")).Fingerprint())
	assert.Equal(t, Number(0).Fingerprint(), Number(math.Copysign(0, -1)).Fingerprint())

	assert.NotEqual(t, CombineFingerprints(1, 2), CombineFingerprints(2, 1))
}

func TestFromGoAndBack(t *testing.T) {
	var decoded any
	require.NoError(t, json.Unmarshal([]byte(`{"a":[1,2.5,"x",null,true],"b":{}}`), &decoded))

	v, err := FromGo(decoded)
	require.NoError(t, err)

	want := Object(map[string]*Value{
		"a": Array(Int(1), Number(2.5), String("x"), Null(), Bool(true)),
		"b": Object(nil),
	})
	assert.True(t, want.Equal(v), v.DebugString())

	back, err := FromGo(v.ToGo())
	require.NoError(t, err)
	assert.True(t, v.Equal(back))

	_, err = FromGo(map[any]any{1: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedType)
	_, err = FromGo(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestMarshalJSON(t *testing.T) {
	out, err := json.Marshal(map[string]*Value{"v": Array(Int(1), String("a"))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":[1,"a"]}`, string(out))
}
