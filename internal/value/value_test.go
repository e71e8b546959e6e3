package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnvelope string

func (f fakeEnvelope) ExecutionID() string { return string(f) }

func TestFrom_Shapes(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want Kind
	}{
		{"string", "audio.mp3", KindScalar},
		{"int", 42, KindScalar},
		{"nil", nil, KindScalar},
		{"bytes", []byte("raw"), KindScalar},
		{"empty map", map[string]any{}, KindMap},
		{"typed map", map[string]int{"a": 1}, KindMap},
		{"empty list", []any{}, KindList},
		{"string list", []string{"a", "b"}, KindList},
		{"int slice", []int{1, 2}, KindList},
		{"ordered map", NewMap(), KindMap},
		{"envelope", fakeEnvelope("exec-1"), KindEnvelope},
		{"non-string keys", map[int]string{1: "a"}, KindScalar},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.in))
		})
	}
}

func TestFrom_SortsPlainMapKeys(t *testing.T) {
	v := From(map[string]any{"b": 2, "a": 1, "c": map[string]any{"z": true, "y": false}})
	require.True(t, v.IsMap())
	assert.Equal(t, []string{"a", "b", "c"}, v.Map().Keys())

	nested, ok := v.Map().Get("c")
	require.True(t, ok)
	assert.Equal(t, []string{"y", "z"}, nested.Map().Keys())
}

func TestZeroValueIsAbsent(t *testing.T) {
	var v Value
	assert.True(t, v.IsAbsent())
	assert.True(t, Absent.IsAbsent())
	assert.False(t, Scalar(nil).IsAbsent())
	assert.False(t, Scalar("").IsAbsent())
	assert.Nil(t, v.Interface())
}

func TestMap_PreservesInsertionOrder(t *testing.T) {
	m := NewMap()
	assert.False(t, m.Set("second", Scalar(2)))
	assert.False(t, m.Set("first", Scalar(1)))
	assert.True(t, m.Set("second", Scalar(22)))

	assert.Equal(t, []string{"second", "first"}, m.Keys())
	v, ok := m.Get("second")
	require.True(t, ok)
	assert.Equal(t, 22, v.Raw())

	assert.True(t, m.Delete("second"))
	assert.False(t, m.Delete("second"))
	assert.Equal(t, []string{"first"}, m.Keys())
}

func TestList_SetAt(t *testing.T) {
	l := List(Scalar("a"))
	assert.True(t, l.SetAt(0, Scalar("b")))
	assert.True(t, l.SetAt(1, Scalar("c")))
	assert.False(t, l.SetAt(5, Scalar("x")))
	assert.False(t, Scalar("x").SetAt(0, Scalar("y")))

	assert.Equal(t, []any{"b", "c"}, l.Interface())

	got, ok := l.At(1)
	require.True(t, ok)
	assert.Equal(t, "c", got.Raw())
	_, ok = l.At(2)
	assert.False(t, ok)
}

func TestList_SharedAcrossCopies(t *testing.T) {
	l := List()
	alias := l
	require.True(t, alias.SetAt(0, Scalar("x")))
	assert.Equal(t, 1, l.Len())
}

func TestClone_IsDeep(t *testing.T) {
	orig := From(map[string]any{"a": map[string]any{"b": "c"}, "l": []any{"x"}})
	clone := orig.Clone()

	inner, _ := clone.Map().Get("a")
	inner.Map().Set("b", Scalar("changed"))
	list, _ := clone.Map().Get("l")
	list.SetAt(0, Scalar("y"))

	origInner, _ := orig.Map().Get("a")
	got, _ := origInner.Map().Get("b")
	assert.Equal(t, "c", got.Raw())
	origList, _ := orig.Map().Get("l")
	first, _ := origList.At(0)
	assert.Equal(t, "x", first.Raw())
	assert.False(t, orig.Equal(clone))
}

func TestEqual(t *testing.T) {
	a := From(map[string]any{"k": []any{1, "two"}})
	b := From(map[string]any{"k": []any{1, "two"}})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Scalar("k")))
	assert.True(t, Absent.Equal(Value{}))

	env := fakeEnvelope("e")
	assert.True(t, EnvelopeOf(env).Equal(EnvelopeOf(env)))
}

func TestMarshalJSON_KeepsOrder(t *testing.T) {
	m := NewMap()
	m.Set("zeta", Scalar("last-declared-first"))
	m.Set("alpha", List(Scalar(1), Scalar(true)))
	m.Set("nested", MapOf(nil))

	data, err := json.Marshal(MapOf(m))
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"last-declared-first","alpha":[1,true],"nested":{}}`, string(data))

	data, err = json.Marshal(Absent)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	data, err = json.Marshal(EnvelopeOf(fakeEnvelope("exec-9")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"execution_id":"exec-9"}`, string(data))
}

func TestAsString(t *testing.T) {
	s, ok := Scalar("hello").AsString()
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	_, ok = Scalar(3).AsString()
	assert.False(t, ok)
	_, ok = MapOf(nil).AsString()
	assert.False(t, ok)
}
