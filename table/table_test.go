package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoshi/value"
)

func strKey(s string) *value.ObjectString {
	return &value.ObjectString{Chars: []byte(s), Hash: fnv1a(s)}
}

// fnv1a is a tiny self-contained hash used only to give test keys a
// stable, content-derived Hash field; production hashing lives in vm.
func fnv1a(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func TestTableSetGetRoundTrip(t *testing.T) {
	tbl := New()
	k := strKey("x")

	isNew := tbl.Set(k, value.Number(42))
	assert.True(t, isNew)

	v, ok := tbl.Get(k)
	require.True(t, ok)
	assert.Equal(t, 42.0, v.AsNumber())
}

func TestTableOverwrite(t *testing.T) {
	tbl := New()
	k := strKey("x")
	tbl.Set(k, value.Number(1))
	isNew := tbl.Set(k, value.Number(2))
	assert.False(t, isNew)

	v, ok := tbl.Get(k)
	require.True(t, ok)
	assert.Equal(t, 2.0, v.AsNumber())
}

func TestTableGetMissing(t *testing.T) {
	tbl := New()
	_, ok := tbl.Get(strKey("nope"))
	assert.False(t, ok)
}

func TestTableDelete(t *testing.T) {
	tbl := New()
	k := strKey("x")
	tbl.Set(k, value.Number(1))

	require.True(t, tbl.Delete(k))
	_, ok := tbl.Get(k)
	assert.False(t, ok)

	assert.False(t, tbl.Delete(k), "deleting twice reports not-found the second time")
}

func TestTableGrowsAndRetainsEntries(t *testing.T) {
	tbl := New()
	keys := make([]*value.ObjectString, 0, 200)
	for i := 0; i < 200; i++ {
		k := strKey(string(rune('a')) + string(rune(i)))
		keys = append(keys, k)
		tbl.Set(k, value.Number(float64(i)))
	}

	assert.Equal(t, 200, tbl.Count())
	for i, k := range keys {
		v, ok := tbl.Get(k)
		require.True(t, ok)
		assert.Equal(t, float64(i), v.AsNumber())
	}
}

func TestTableFindStringContentEquality(t *testing.T) {
	tbl := New()
	a := strKey("hello")
	tbl.Set(a, value.Nil)

	found := tbl.FindString([]byte("hello"), fnv1a("hello"))
	require.NotNil(t, found)
	assert.Same(t, a, found)

	assert.Nil(t, tbl.FindString([]byte("missing"), fnv1a("missing")))
}

func TestTableFindStringEmptyTable(t *testing.T) {
	tbl := New()
	assert.Nil(t, tbl.FindString([]byte("x"), fnv1a("x")))
}

func TestTableTombstoneDoesNotBreakProbeChain(t *testing.T) {
	tbl := New()
	a, b := strKey("a"), strKey("b")
	tbl.Set(a, value.Number(1))
	tbl.Set(b, value.Number(2))
	tbl.Delete(a)

	v, ok := tbl.Get(b)
	require.True(t, ok)
	assert.Equal(t, 2.0, v.AsNumber())
}
