package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoshi/config"
)

func newTestVM(t *testing.T) *VM {
	t.Helper()
	cfg := config.Default()
	cfg.StackSize = 64
	cfg.LocalsSize = 64
	cfg.MaxScopeDepth = 8
	machine, err := New(cfg, nil)
	require.NoError(t, err)
	return machine
}

func TestMakeStringInternsByContent(t *testing.T) {
	vm := newTestVM(t)
	a := vm.MakeString(true, []byte("hello"))
	b := vm.MakeString(true, []byte("hello"))
	assert.Same(t, a, b, "identical content must intern to the same object")
}

func TestMakeStringDistinctContent(t *testing.T) {
	vm := newTestVM(t)
	a := vm.MakeString(true, []byte("hello"))
	b := vm.MakeString(true, []byte("world"))
	assert.NotSame(t, a, b)
}

func TestMakeStringEmptyStringSharedInstance(t *testing.T) {
	vm := newTestVM(t)
	a := vm.MakeString(true, []byte(""))
	b := vm.MakeString(true, []byte(""))
	assert.Same(t, a, b)
}

func TestFormatStringEscapes(t *testing.T) {
	out, err := FormatString([]byte(`hel\nlo\tworld\\`))
	require.NoError(t, err)
	assert.Equal(t, "hel\nlo\tworld\\", string(out))
}

func TestFormatStringAllRecognizedEscapes(t *testing.T) {
	out, err := FormatString([]byte(`\a\b\e\f\n\r\t\v\\\'\"\?`))
	require.NoError(t, err)
	assert.Equal(t, "\a\b\x1b\f\n\r\t\v\\'\"?", string(out))
}

func TestFormatStringUnrecognizedEscape(t *testing.T) {
	_, err := FormatString([]byte(`bad\qescape`))
	require.Error(t, err)
}

func TestFormatStringTrailingBackslash(t *testing.T) {
	_, err := FormatString([]byte(`trailing\`))
	require.Error(t, err)
}

func TestFormatStringNoEscapes(t *testing.T) {
	out, err := FormatString([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", string(out))
}

func TestSipHasherRejectsBadKey(t *testing.T) {
	_, err := sipHasher("not-hex")
	assert.Error(t, err)

	_, err = sipHasher("aabb") // decodes to 2 bytes, not 16
	assert.Error(t, err)
}

func TestSipHasherAcceptsValidKey(t *testing.T) {
	h, err := sipHasher("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	assert.NotZero(t, h([]byte("hello")))
}

func TestFNV1aHasherDeterministic(t *testing.T) {
	h := fnv1aHasher()
	assert.Equal(t, h([]byte("hello")), h([]byte("hello")))
	assert.NotEqual(t, h([]byte("hello")), h([]byte("world")))
}
