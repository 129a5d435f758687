package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoshi/chunk"
	"hoshi/value"
)

// Scenario 1: `1 2 add print return` — pushes 1, pushes 2, ADD yields
// 3, PRINT outputs 3, RETURN halts with exit 0.
func TestRunScenarioAddPrintReturn(t *testing.T) {
	c := chunk.New()
	c.WriteConstant(value.Number(1), 1)
	c.WriteConstant(value.Number(2), 1)
	c.Write(byte(chunk.OpAdd), 1)
	c.Write(byte(chunk.OpPrint), 1)
	c.Write(byte(chunk.OpReturn), 1)

	vmInst := newTestVM(t)
	code, err := vmInst.Run(c)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, 0, vmInst.stackTop, "stack ends balanced after a normal RETURN")
}

// Scenario 2: `defglobal $x 7 setglobal $x 9 getglobal $x exit` — the
// value on top of stack at EXIT is 9.
func TestRunScenarioGlobals(t *testing.T) {
	vmInst := newTestVM(t)
	idx := vmInst.AddGlobal("x")
	require.Equal(t, 0, idx)

	c := chunk.New()
	c.WriteConstant(value.Number(7), 1)
	c.Write(byte(chunk.OpDefGlobal), 1)
	c.Write(byte(idx), 1)
	c.WriteConstant(value.Number(9), 1)
	c.Write(byte(chunk.OpSetGlobal), 1)
	c.Write(byte(idx), 1)
	c.Write(byte(chunk.OpGetGlobal), 1)
	c.Write(byte(idx), 1)
	c.Write(byte(chunk.OpExit), 1)

	code, err := vmInst.Run(c)
	require.NoError(t, err)
	assert.Equal(t, 9, code)
}

// Scenario 3: string concatenation and interning across two constants
// with identical content.
func TestRunScenarioConcatAndInterning(t *testing.T) {
	vmInst := newTestVM(t)
	hel1 := vmInst.MakeString(true, []byte("hel"))
	hel2 := vmInst.MakeString(true, []byte("hel"))
	assert.Same(t, hel1, hel2)

	lo := vmInst.MakeString(true, []byte("lo"))

	c := chunk.New()
	c.WriteConstant(value.Obj(hel1), 1)
	c.WriteConstant(value.Obj(lo), 1)
	c.Write(byte(chunk.OpConcat), 1)
	c.Write(byte(chunk.OpPrint), 1)
	c.Write(byte(chunk.OpReturn), 1)

	code, err := vmInst.Run(c)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

// Scenario 4: `newscope 5 deflocal $n getlocal $n print endscope
// return` — prints 5, ENDSCOPE clears the slot.
func TestRunScenarioScopedLocal(t *testing.T) {
	c := chunk.New()
	c.Write(byte(chunk.OpNewScope), 1)
	c.WriteConstant(value.Number(5), 1)
	c.Write(byte(chunk.OpDefLocal), 1)
	c.Write(0, 1)
	c.Write(byte(chunk.OpGetLocal), 1)
	c.Write(0, 1)
	c.Write(byte(chunk.OpPrint), 1)
	c.Write(byte(chunk.OpEndScope), 1)
	c.Write(byte(chunk.OpReturn), 1)

	vmInst := newTestVM(t)
	code, err := vmInst.Run(c)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.True(t, vmInst.locals[0].value.IsNil(), "ENDSCOPE must clear the slot")
}

// Scenario 5: `true jump_if 3 1 print 2 print return` — prints 2,
// skipping the `1 print` pair.
func TestRunScenarioConditionalJump(t *testing.T) {
	c := chunk.New()
	c.Write(byte(chunk.OpTrue), 1)
	c.Write(byte(chunk.OpJumpIf), 1)
	c.Write(3, 1)
	c.Write(0, 1)
	c.WriteConstant(value.Number(1), 1)
	c.Write(byte(chunk.OpPrint), 1)
	c.WriteConstant(value.Number(2), 1)
	c.Write(byte(chunk.OpPrint), 1)
	c.Write(byte(chunk.OpReturn), 1)

	vmInst := newTestVM(t)
	code, err := vmInst.Run(c)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

// newTestVM configures MaxScopeDepth: 8, so a 9th nested NEWSCOPE must
// fail instead of indexing past the scopes slice.
func TestRunScopeOverflowIsRuntimeError(t *testing.T) {
	c := chunk.New()
	for i := 0; i < 9; i++ {
		c.Write(byte(chunk.OpNewScope), 1)
	}

	vmInst := newTestVM(t)
	_, err := vmInst.Run(c)
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, rerr.Message, "scope overflow")
}

func TestRunPushIsReservedAndAlwaysErrors(t *testing.T) {
	c := chunk.New()
	c.Write(byte(chunk.OpPush), 1)

	vmInst := newTestVM(t)
	_, err := vmInst.Run(c)
	require.Error(t, err)
}

func TestRunPopFromEmptyStackIsRuntimeError(t *testing.T) {
	c := chunk.New()
	c.Write(byte(chunk.OpPop), 1)

	vmInst := newTestVM(t)
	_, err := vmInst.Run(c)
	require.Error(t, err)
	var rerr *RuntimeError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, rerr.Line)
}

func TestRunArithmeticTypeMismatch(t *testing.T) {
	c := chunk.New()
	c.Write(byte(chunk.OpTrue), 1)
	c.WriteConstant(value.Number(1), 1)
	c.Write(byte(chunk.OpAdd), 1)

	vmInst := newTestVM(t)
	_, err := vmInst.Run(c)
	require.Error(t, err)
}

func TestRunGetUndefinedGlobalIsRuntimeError(t *testing.T) {
	vmInst := newTestVM(t)
	idx := vmInst.AddGlobal("never_set")

	c := chunk.New()
	c.Write(byte(chunk.OpGetGlobal), 1)
	c.Write(byte(idx), 1)

	_, err := vmInst.Run(c)
	require.Error(t, err)
}

func TestRunExitRequiresNumber(t *testing.T) {
	c := chunk.New()
	c.Write(byte(chunk.OpTrue), 1)
	c.Write(byte(chunk.OpExit), 1)

	vmInst := newTestVM(t)
	_, err := vmInst.Run(c)
	require.Error(t, err)
}

func TestRunEmptyChunkReturnsZero(t *testing.T) {
	c := chunk.New()
	vmInst := newTestVM(t)
	code, err := vmInst.Run(c)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestLocalsSizeReflectsConfig(t *testing.T) {
	vmInst := newTestVM(t)
	assert.Equal(t, 64, vmInst.LocalsSize())
}

func TestAddGlobalIdempotent(t *testing.T) {
	vmInst := newTestVM(t)
	i1 := vmInst.AddGlobal("x")
	i2 := vmInst.AddGlobal("x")
	assert.Equal(t, i1, i2)

	i3 := vmInst.AddGlobal("y")
	assert.NotEqual(t, i1, i3)
	assert.Equal(t, len(vmInst.globalValues), 2)
}

func TestErrorHandlerInvokedOnRuntimePanic(t *testing.T) {
	c := chunk.New()
	c.Write(byte(chunk.OpPop), 1)

	vmInst := newTestVM(t)
	var captured *RuntimeError
	vmInst.SetErrorHandler(func(re *RuntimeError) { captured = re })

	_, err := vmInst.Run(c)
	require.Error(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, err, captured)
}

func TestTrackerStatsCountAllocations(t *testing.T) {
	tr := NewTracker(true)
	s := &value.ObjectString{Chars: []byte("abcd")}
	tr.Track(s)

	stats := tr.Stats()
	assert.Equal(t, 1, stats.AllocCount)
	assert.Equal(t, 4, stats.LiveBytes)

	tr.FreeAll()
	stats = tr.Stats()
	assert.Equal(t, 1, stats.FreeCount)
	assert.Empty(t, tr.Objects())
}
