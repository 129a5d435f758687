// Package vm implements hoshi's stack machine: a fetch-decode-execute
// loop over a chunk.Chunk, with scoped locals, indexed globals,
// interned strings, and an object tracker.
package vm

import (
	"fmt"

	"go.uber.org/zap"

	"hoshi/chunk"
	"hoshi/config"
	"hoshi/table"
	"hoshi/value"
)

// RuntimeError is the error type Run returns on any bytecode panic.
// Line is recovered from the chunk's line index at the offending
// instruction's offset.
type RuntimeError struct {
	Line    int
	Message string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("[line %d] runtime error: %s", e.Line, e.Message)
}

type localSlot struct {
	depth int
	value value.Value
}

type scopeFrame struct {
	localCount int
}

// ErrorHandler is invoked on every RuntimeError, in addition to Run
// returning it. It exists so a host can log or translate panics
// without inspecting Run's return value (mirrors hoshi's optional
// error_handler callback).
type ErrorHandler func(*RuntimeError)

// VM is hoshi's execution engine. Zero value is not usable; construct
// with New.
type VM struct {
	cfg    config.Config
	logger *zap.Logger
	hashFn hasher

	stack    []value.Value
	stackTop int

	c  *chunk.Chunk
	ip int

	strings      *table.Table
	globalNames  *table.Table
	globalValues []value.Value

	locals     []localSlot
	localsTop  int
	scopes     []scopeFrame
	topScope   int

	tracker      *Tracker
	errorHandler ErrorHandler
}

// New constructs a VM sized per cfg. An invalid SipHashKey is the only
// construction-time error.
func New(cfg config.Config, logger *zap.Logger) (*VM, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := fnv1aHasher()
	if cfg.SipHashKey != "" {
		sip, err := sipHasher(cfg.SipHashKey)
		if err != nil {
			return nil, err
		}
		h = sip
	}

	vm := &VM{
		cfg:         cfg,
		logger:      logger,
		hashFn:      h,
		stack:       make([]value.Value, cfg.StackSize),
		strings:     table.New(),
		globalNames: table.New(),
		locals:      make([]localSlot, cfg.LocalsSize),
		scopes:      make([]scopeFrame, cfg.MaxScopeDepth),
		tracker:     NewTracker(cfg.CountAllocations),
	}
	return vm, nil
}

// SetErrorHandler installs h to be called (in addition to Run
// returning the error) on every runtime panic.
func (vm *VM) SetErrorHandler(h ErrorHandler) { vm.errorHandler = h }

// Tracker exposes the VM's object tracker, e.g. for Stats after Run.
func (vm *VM) Tracker() *Tracker { return vm.tracker }

// LocalsSize returns the configured capacity of the locals slot array,
// so the assembler can bound DEFLOCAL/SETLOCAL/GETLOCAL slot indices
// against the VM it is actually compiling for rather than a literal.
func (vm *VM) LocalsSize() int { return len(vm.locals) }

// AddGlobal implements add_global: it returns name's existing index if
// already known, otherwise appends Nil to global_values and maps name
// to the new index. Exported so the assembler can resolve global
// identifiers to slot indices at compile time.
func (vm *VM) AddGlobal(name string) int {
	key := vm.MakeString(false, []byte(name))
	if idx, ok := vm.globalNames.Get(key); ok {
		return int(idx.AsNumber())
	}
	idx := len(vm.globalValues)
	vm.globalValues = append(vm.globalValues, value.Nil)
	vm.globalNames.Set(key, value.Number(float64(idx)))
	return idx
}

func (vm *VM) push(v value.Value) error {
	if vm.stackTop >= len(vm.stack) {
		return vm.runtimeErrorf("stack overflow")
	}
	vm.stack[vm.stackTop] = v
	vm.stackTop++
	return nil
}

func (vm *VM) pop() (value.Value, error) {
	if vm.stackTop == 0 {
		return value.Nil, vm.runtimeErrorf("pop from empty stack")
	}
	vm.stackTop--
	v := vm.stack[vm.stackTop]
	vm.stack[vm.stackTop] = value.Nil
	return v, nil
}

func (vm *VM) peek() (value.Value, error) {
	if vm.stackTop == 0 {
		return value.Nil, vm.runtimeErrorf("peek on empty stack")
	}
	return vm.stack[vm.stackTop-1], nil
}

func (vm *VM) runtimeErrorf(format string, args ...interface{}) *RuntimeError {
	line := 0
	if vm.c != nil {
		line = vm.c.GetLine(vm.ip - 1)
	}
	return &RuntimeError{Line: line, Message: fmt.Sprintf(format, args...)}
}

func (vm *VM) readByte() byte {
	b := vm.c.Code[vm.ip]
	vm.ip++
	return b
}

func (vm *VM) readU16() uint16 {
	lo := uint16(vm.readByte())
	hi := uint16(vm.readByte())
	return lo | hi<<8
}

func (vm *VM) readU24() int {
	b0 := int(vm.readByte())
	b1 := int(vm.readByte())
	b2 := int(vm.readByte())
	return b0 | b1<<8 | b2<<16
}

func (vm *VM) readU32() uint32 {
	b0 := uint32(vm.readByte())
	b1 := uint32(vm.readByte())
	b2 := uint32(vm.readByte())
	b3 := uint32(vm.readByte())
	return b0 | b1<<8 | b2<<16 | b3<<24
}

func currentDepth(topScope int) int { return topScope }

// Run executes c to completion: RETURN (exitCode 0, err nil), EXIT
// (exitCode from the popped number, err nil), or a runtime panic
// (err is a *RuntimeError; exitCode is meaningless).
func (vm *VM) Run(c *chunk.Chunk) (exitCode int, err error) {
	vm.c = c
	vm.ip = 0
	vm.stackTop = 0
	vm.localsTop = 0
	vm.topScope = 0

	for {
		if vm.cfg.TraceExecution {
			vm.traceInstruction()
		}

		if vm.ip >= len(vm.c.Code) {
			return 0, nil
		}

		op := chunk.OpCode(vm.readByte())
		switch op {
		case chunk.OpPush:
			return 0, vm.fail(vm.runtimeErrorf("PUSH is reserved and cannot be executed"))

		case chunk.OpPop:
			if _, err := vm.pop(); err != nil {
				return 0, vm.fail(err.(*RuntimeError))
			}

		case chunk.OpConstant:
			idx := vm.readByte()
			if err := vm.push(vm.c.Constants[idx]); err != nil {
				return 0, vm.fail(err.(*RuntimeError))
			}

		case chunk.OpConstantLong:
			idx := vm.readU24()
			if err := vm.push(vm.c.Constants[idx]); err != nil {
				return 0, vm.fail(err.(*RuntimeError))
			}

		case chunk.OpTrue:
			if err := vm.push(value.Bool(true)); err != nil {
				return 0, vm.fail(err.(*RuntimeError))
			}
		case chunk.OpFalse:
			if err := vm.push(value.Bool(false)); err != nil {
				return 0, vm.fail(err.(*RuntimeError))
			}
		case chunk.OpNil:
			if err := vm.push(value.Nil); err != nil {
				return 0, vm.fail(err.(*RuntimeError))
			}

		case chunk.OpDefGlobal:
			idx := vm.readByte()
			v, perr := vm.pop()
			if perr != nil {
				return 0, vm.fail(perr.(*RuntimeError))
			}
			vm.globalValues[idx] = v

		case chunk.OpSetGlobal:
			idx := vm.readByte()
			if vm.globalValues[idx].IsNil() {
				return 0, vm.fail(vm.runtimeErrorf("undefined variable"))
			}
			v, perr := vm.peek()
			if perr != nil {
				return 0, vm.fail(perr.(*RuntimeError))
			}
			vm.globalValues[idx] = v

		case chunk.OpGetGlobal:
			idx := vm.readByte()
			if vm.globalValues[idx].IsNil() {
				return 0, vm.fail(vm.runtimeErrorf("undefined variable"))
			}
			if err := vm.push(vm.globalValues[idx]); err != nil {
				return 0, vm.fail(err.(*RuntimeError))
			}

		case chunk.OpDefLocal:
			idx := vm.readByte()
			v, perr := vm.pop()
			if perr != nil {
				return 0, vm.fail(perr.(*RuntimeError))
			}
			vm.locals[idx] = localSlot{depth: currentDepth(vm.topScope), value: v}
			vm.localsTop++
			if vm.topScope > 0 {
				vm.scopes[vm.topScope-1].localCount++
			}

		case chunk.OpSetLocal:
			idx := vm.readByte()
			v, perr := vm.peek()
			if perr != nil {
				return 0, vm.fail(perr.(*RuntimeError))
			}
			vm.locals[idx].value = v

		case chunk.OpGetLocal:
			idx := vm.readByte()
			if err := vm.push(vm.locals[idx].value); err != nil {
				return 0, vm.fail(err.(*RuntimeError))
			}

		case chunk.OpNewScope:
			if vm.topScope >= len(vm.scopes) {
				return 0, vm.fail(vm.runtimeErrorf("scope overflow"))
			}
			vm.scopes[vm.topScope] = scopeFrame{}
			vm.topScope++

		case chunk.OpEndScope:
			depth := vm.topScope
			for i := range vm.locals {
				if vm.locals[i].depth >= depth {
					vm.locals[i] = localSlot{value: value.Nil}
				}
			}
			vm.localsTop -= vm.scopes[vm.topScope-1].localCount
			vm.topScope--

		case chunk.OpAdd, chunk.OpSub, chunk.OpMul, chunk.OpDiv:
			if err := vm.binaryArith(op); err != nil {
				return 0, vm.fail(err)
			}

		case chunk.OpNegate:
			v, perr := vm.pop()
			if perr != nil {
				return 0, vm.fail(perr.(*RuntimeError))
			}
			if !v.IsNumber() {
				return 0, vm.fail(vm.runtimeErrorf("operand to NEGATE must be a number"))
			}
			vm.push(value.Number(-v.AsNumber()))

		case chunk.OpNot:
			v, perr := vm.pop()
			if perr != nil {
				return 0, vm.fail(perr.(*RuntimeError))
			}
			if !v.IsBool() {
				return 0, vm.fail(vm.runtimeErrorf("operand to NOT must be a boolean"))
			}
			vm.push(value.Bool(!v.AsBool()))

		case chunk.OpAnd, chunk.OpOr, chunk.OpXor:
			if err := vm.binaryBool(op); err != nil {
				return 0, vm.fail(err)
			}

		case chunk.OpEq, chunk.OpNeq:
			b, berr := vm.pop()
			a, aerr := vm.pop()
			if aerr != nil {
				return 0, vm.fail(aerr.(*RuntimeError))
			}
			if berr != nil {
				return 0, vm.fail(berr.(*RuntimeError))
			}
			eq := value.Equal(a, b)
			if op == chunk.OpNeq {
				eq = !eq
			}
			vm.push(value.Bool(eq))

		case chunk.OpGt, chunk.OpLt, chunk.OpGtEq, chunk.OpLtEq:
			if err := vm.compare(op); err != nil {
				return 0, vm.fail(err)
			}

		case chunk.OpConcat:
			if err := vm.concat(); err != nil {
				return 0, vm.fail(err)
			}

		case chunk.OpJump:
			offset := int16(vm.readU16())
			vm.ip += int(offset)

		case chunk.OpJumpIf:
			offset := int16(vm.readU16())
			cond, perr := vm.pop()
			if perr != nil {
				return 0, vm.fail(perr.(*RuntimeError))
			}
			if !cond.IsBool() {
				return 0, vm.fail(vm.runtimeErrorf("JUMP_IF condition must be a boolean"))
			}
			if cond.AsBool() {
				vm.ip += int(offset)
			}

		case chunk.OpGoto:
			target := vm.readU32()
			vm.ip = int(target)

		case chunk.OpGotoIf:
			target := vm.readU32()
			cond, perr := vm.pop()
			if perr != nil {
				return 0, vm.fail(perr.(*RuntimeError))
			}
			if !cond.IsBool() {
				return 0, vm.fail(vm.runtimeErrorf("GOTO_IF condition must be a boolean"))
			}
			if cond.AsBool() {
				vm.ip = int(target)
			}

		case chunk.OpPrint:
			v, perr := vm.pop()
			if perr != nil {
				return 0, vm.fail(perr.(*RuntimeError))
			}
			fmt.Println(value.Print(v))

		case chunk.OpReturn:
			return 0, nil

		case chunk.OpExit:
			v, perr := vm.pop()
			if perr != nil {
				return 0, vm.fail(perr.(*RuntimeError))
			}
			if !v.IsNumber() {
				return 0, vm.fail(vm.runtimeErrorf("EXIT operand must be a number"))
			}
			return int(v.AsNumber()), nil

		default:
			return 0, vm.fail(vm.runtimeErrorf("unknown opcode %d", byte(op)))
		}
	}
}

func (vm *VM) fail(err *RuntimeError) error {
	vm.logger.Warn("runtime panic", zap.Int("line", err.Line), zap.String("message", err.Message))
	if vm.errorHandler != nil {
		vm.errorHandler(err)
	} else {
		fmt.Printf("[line %d] warning: %s\n", err.Line, err.Message)
	}
	return err
}

func (vm *VM) binaryArith(op chunk.OpCode) *RuntimeError {
	b, berr := vm.pop()
	a, aerr := vm.pop()
	if aerr != nil {
		return aerr.(*RuntimeError)
	}
	if berr != nil {
		return berr.(*RuntimeError)
	}
	if !a.IsNumber() || !b.IsNumber() {
		return vm.runtimeErrorf("operands to %s must be numbers", op)
	}
	var r float64
	switch op {
	case chunk.OpAdd:
		r = a.AsNumber() + b.AsNumber()
	case chunk.OpSub:
		r = a.AsNumber() - b.AsNumber()
	case chunk.OpMul:
		r = a.AsNumber() * b.AsNumber()
	case chunk.OpDiv:
		r = a.AsNumber() / b.AsNumber()
	}
	vm.push(value.Number(r))
	return nil
}

func (vm *VM) binaryBool(op chunk.OpCode) *RuntimeError {
	b, berr := vm.pop()
	a, aerr := vm.pop()
	if aerr != nil {
		return aerr.(*RuntimeError)
	}
	if berr != nil {
		return berr.(*RuntimeError)
	}
	if !a.IsBool() || !b.IsBool() {
		return vm.runtimeErrorf("operands to %s must be booleans", op)
	}
	var r bool
	switch op {
	case chunk.OpAnd:
		r = a.AsBool() && b.AsBool()
	case chunk.OpOr:
		r = a.AsBool() || b.AsBool()
	case chunk.OpXor:
		r = a.AsBool() != b.AsBool()
	}
	vm.push(value.Bool(r))
	return nil
}

func (vm *VM) compare(op chunk.OpCode) *RuntimeError {
	b, berr := vm.pop()
	a, aerr := vm.pop()
	if aerr != nil {
		return aerr.(*RuntimeError)
	}
	if berr != nil {
		return berr.(*RuntimeError)
	}
	if !a.IsNumber() || !b.IsNumber() {
		return vm.runtimeErrorf("operands to %s must be numbers", op)
	}
	var r bool
	switch op {
	case chunk.OpGt:
		r = a.AsNumber() > b.AsNumber()
	case chunk.OpLt:
		r = a.AsNumber() < b.AsNumber()
	case chunk.OpGtEq:
		r = a.AsNumber() >= b.AsNumber()
	case chunk.OpLtEq:
		r = a.AsNumber() <= b.AsNumber()
	}
	vm.push(value.Bool(r))
	return nil
}

func (vm *VM) concat() *RuntimeError {
	b, berr := vm.pop()
	a, aerr := vm.pop()
	if aerr != nil {
		return aerr.(*RuntimeError)
	}
	if berr != nil {
		return berr.(*RuntimeError)
	}
	if !a.IsString() || !b.IsString() {
		return vm.runtimeErrorf("operands to CONCAT must be strings")
	}
	combined := make([]byte, 0, a.AsString().Length()+b.AsString().Length())
	combined = append(combined, a.AsString().Chars...)
	combined = append(combined, b.AsString().Chars...)
	vm.push(value.Obj(vm.MakeString(true, combined)))
	return nil
}
