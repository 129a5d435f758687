package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoshi/value"
)

func TestWriteAppendsAndTracksLines(t *testing.T) {
	c := New()
	c.Write(byte(OpPop), 1)
	c.Write(byte(OpPop), 1)
	c.Write(byte(OpPop), 2)

	assert.Equal(t, []byte{byte(OpPop), byte(OpPop), byte(OpPop)}, c.Code)
	require.Len(t, c.Lines, 2, "a new LineStart is only recorded when the line changes")
	assert.Equal(t, LineStart{Offset: 0, Line: 1}, c.Lines[0])
	assert.Equal(t, LineStart{Offset: 2, Line: 2}, c.Lines[1])
}

func TestGetLineMonotonic(t *testing.T) {
	c := New()
	for i := 0; i < 3; i++ {
		c.Write(byte(OpPop), 1)
	}
	for i := 0; i < 3; i++ {
		c.Write(byte(OpPop), 2)
	}
	for i := 0; i < 3; i++ {
		c.Write(byte(OpPop), 5)
	}

	assert.Equal(t, 1, c.GetLine(0))
	assert.Equal(t, 1, c.GetLine(2))
	assert.Equal(t, 2, c.GetLine(3))
	assert.Equal(t, 2, c.GetLine(5))
	assert.Equal(t, 5, c.GetLine(6))
	assert.Equal(t, 5, c.GetLine(8))
}

func TestGetLineEmptyChunk(t *testing.T) {
	c := New()
	assert.Equal(t, 0, c.GetLine(0))
}

func TestAddConstant(t *testing.T) {
	c := New()
	i0 := c.AddConstant(value.Number(1))
	i1 := c.AddConstant(value.Number(2))
	assert.Equal(t, 0, i0)
	assert.Equal(t, 1, i1)
	assert.Equal(t, 2, len(c.Constants))
}

func TestWriteConstantUsesShortFormUnder256(t *testing.T) {
	c := New()
	c.WriteConstant(value.Number(1), 1)

	require.Len(t, c.Code, 2)
	assert.Equal(t, OpConstant, OpCode(c.Code[0]))
	assert.Equal(t, byte(0), c.Code[1])
}

// TestWriteConstantBoundary255And256 matches original_source's
// hoshi_writeConstant exactly: index < 256 uses CONSTANT, so the 256th
// constant (index 255) still fits the short form; the 257th (index
// 256) is the first to require CONSTANT_LONG.
func TestWriteConstantBoundary255And256(t *testing.T) {
	c := New()
	for i := 0; i < 255; i++ {
		c.WriteConstant(value.Number(float64(i)), 1)
	}
	// 256th constant: index 255, still CONSTANT.
	before := len(c.Code)
	c.WriteConstant(value.Number(255), 1)
	assert.Equal(t, OpConstant, OpCode(c.Code[before]))
	assert.Equal(t, byte(255), c.Code[before+1])
	assert.Equal(t, before+2, len(c.Code))

	// 257th constant: index 256, first to need CONSTANT_LONG.
	before = len(c.Code)
	c.WriteConstant(value.Number(256), 1)
	assert.Equal(t, OpConstantLong, OpCode(c.Code[before]))
	assert.Equal(t, byte(0), c.Code[before+1])
	assert.Equal(t, byte(1), c.Code[before+2])
	assert.Equal(t, byte(0), c.Code[before+3])
}

func TestOpCodeStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "ADD", OpAdd.String())
	assert.Equal(t, "OP(255)", OpCode(255).String())
}
