// Package assembler compiles HIR source into a chunk.Chunk: a
// single-pass parser over the lexer's token stream, with local and
// label symbol tables and panic-mode error recovery.
package assembler

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"hoshi/chunk"
	"hoshi/lexer"
	"hoshi/value"
	"hoshi/vm"
)

// CompileError is one reported diagnostic: "[line N] Error at
// '<lexeme>': <message>".
type CompileError struct {
	Line    int
	Lexeme  string
	AtEnd   bool
	Message string
}

func (e *CompileError) Error() string {
	if e.AtEnd {
		return fmt.Sprintf("[line %d] Error at end: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("[line %d] Error at '%s': %s", e.Line, e.Lexeme, e.Message)
}

type localVar struct {
	name  string
	depth int
	slot  int
}

type labelPatch struct {
	offset int
	label  string
	line   int
}

// Assembler is a single-use compiler: construct with New, call
// Compile once.
type Assembler struct {
	lex *lexer.Lexer
	vm  *vm.VM

	current, previous lexer.Token
	hadError          bool
	panicMode         bool

	chunk *chunk.Chunk

	locals           []localVar
	scopeDepth       int
	scopeLocalCounts []int
	nextSlot         int

	labels  map[string]int
	patches []labelPatch

	errors []*CompileError
}

// New returns an assembler that will compile src against vm (used to
// resolve global names to indices and to intern string constants).
func New(src []byte, machine *vm.VM) *Assembler {
	return &Assembler{
		lex:    lexer.New(src),
		vm:     machine,
		chunk:  chunk.New(),
		labels: make(map[string]int),
	}
}

// Compile runs the assembler to completion, returning the resulting
// chunk and every compile error encountered. A non-empty error slice
// means the chunk should be discarded (exit code 65).
func (a *Assembler) Compile() (*chunk.Chunk, []*CompileError) {
	a.advance()
	for !a.check(lexer.TokenEOF) {
		a.statement()
	}
	a.resolvePatches()
	return a.chunk, a.errors
}

func (a *Assembler) advance() {
	a.previous = a.current
	for {
		a.current = a.lex.Scan()
		if a.current.Type != lexer.TokenError {
			break
		}
		a.errorAtCurrent(a.current.Message)
	}
}

func (a *Assembler) check(t lexer.TokenType) bool { return a.current.Type == t }

func (a *Assembler) consume(t lexer.TokenType, message string) {
	if a.current.Type == t {
		a.advance()
		return
	}
	a.errorAtCurrent(message)
}

func (a *Assembler) errorAt(tok lexer.Token, message string) {
	if a.panicMode {
		return
	}
	a.panicMode = true
	a.hadError = true
	ce := &CompileError{Line: tok.Line, Message: message}
	if tok.Type == lexer.TokenEOF {
		ce.AtEnd = true
	} else {
		ce.Lexeme = tok.Lexeme
	}
	a.errors = append(a.errors, ce)
}

func (a *Assembler) errorAtCurrent(message string) { a.errorAt(a.current, message) }
func (a *Assembler) error(message string)          { a.errorAt(a.previous, message) }

func (a *Assembler) emitByte(b byte) {
	a.chunk.Write(b, a.previous.Line)
}

func (a *Assembler) emitOp(op chunk.OpCode) { a.emitByte(byte(op)) }

func (a *Assembler) emitOpByte(op chunk.OpCode, operand byte) {
	a.emitOp(op)
	a.emitByte(operand)
}

// emitGotoPlaceholder emits op plus a 4-byte absolute-target
// placeholder, recording a patch resolved once every label is known.
func (a *Assembler) emitGotoPlaceholder(op chunk.OpCode, label string) {
	a.emitOp(op)
	offset := len(a.chunk.Code)
	a.emitByte(0)
	a.emitByte(0)
	a.emitByte(0)
	a.emitByte(0)
	a.patches = append(a.patches, labelPatch{offset: offset, label: label, line: a.previous.Line})
}

func (a *Assembler) resolvePatches() {
	for _, p := range a.patches {
		target, ok := a.labels[p.label]
		if !ok {
			a.hadError = true
			a.errors = append(a.errors, &CompileError{Line: p.line, Lexeme: p.label, Message: "unknown label"})
			continue
		}
		binary.LittleEndian.PutUint32(a.chunk.Code[p.offset:p.offset+4], uint32(target))
	}
}

func (a *Assembler) resolveLocal(name string) (int, bool) {
	for i := len(a.locals) - 1; i >= 0; i-- {
		if a.locals[i].name == name {
			return a.locals[i].slot, true
		}
	}
	return 0, false
}

func (a *Assembler) declareLocal(name string) (int, bool) {
	for i := len(a.locals) - 1; i >= 0; i-- {
		l := a.locals[i]
		if l.depth < a.scopeDepth {
			break
		}
		if l.name == name {
			return 0, false
		}
	}
	slot := a.nextSlot
	a.nextSlot++
	a.locals = append(a.locals, localVar{name: name, depth: a.scopeDepth, slot: slot})
	if len(a.scopeLocalCounts) > 0 {
		a.scopeLocalCounts[len(a.scopeLocalCounts)-1]++
	}
	return slot, true
}

// statement compiles one top-level token: a literal, a mnemonic, or a
// label definition.
func (a *Assembler) statement() {
	a.advance()
	line := a.previous.Line

	switch a.previous.Type {
	case lexer.TokenNumber:
		n, err := strconv.ParseFloat(a.previous.Lexeme, 64)
		if err != nil {
			a.error("malformed number literal")
			return
		}
		if len(a.chunk.Constants) >= 1<<24 {
			a.error("constant pool overflow")
			return
		}
		a.chunk.WriteConstant(value.Number(n), line)

	case lexer.TokenString:
		formatted, err := vm.FormatString([]byte(a.previous.Lexeme))
		if err != nil {
			a.error("invalid escape sequence")
			return
		}
		if len(a.chunk.Constants) >= 1<<24 {
			a.error("constant pool overflow")
			return
		}
		obj := a.vm.MakeString(true, formatted)
		a.chunk.WriteConstant(value.Obj(obj), line)

	case lexer.TokenLabel:
		a.labels[a.previous.Lexeme] = len(a.chunk.Code)

	case lexer.TokenTrue:
		a.emitOp(chunk.OpTrue)
	case lexer.TokenFalse:
		a.emitOp(chunk.OpFalse)
	case lexer.TokenNil:
		a.emitOp(chunk.OpNil)
	case lexer.TokenPush:
		a.error("PUSH is reserved and cannot be assembled")

	case lexer.TokenPop:
		a.emitOp(chunk.OpPop)
	case lexer.TokenAdd:
		a.emitOp(chunk.OpAdd)
	case lexer.TokenSub:
		a.emitOp(chunk.OpSub)
	case lexer.TokenMul:
		a.emitOp(chunk.OpMul)
	case lexer.TokenDiv:
		a.emitOp(chunk.OpDiv)
	case lexer.TokenNegate:
		a.emitOp(chunk.OpNegate)
	case lexer.TokenNot:
		a.emitOp(chunk.OpNot)
	case lexer.TokenAnd:
		a.emitOp(chunk.OpAnd)
	case lexer.TokenOr:
		a.emitOp(chunk.OpOr)
	case lexer.TokenXor:
		a.emitOp(chunk.OpXor)
	case lexer.TokenEq:
		a.emitOp(chunk.OpEq)
	case lexer.TokenNeq:
		a.emitOp(chunk.OpNeq)
	case lexer.TokenGt:
		a.emitOp(chunk.OpGt)
	case lexer.TokenLt:
		a.emitOp(chunk.OpLt)
	case lexer.TokenGtEq:
		a.emitOp(chunk.OpGtEq)
	case lexer.TokenLtEq:
		a.emitOp(chunk.OpLtEq)
	case lexer.TokenConcat:
		a.emitOp(chunk.OpConcat)
	case lexer.TokenPrint:
		a.emitOp(chunk.OpPrint)
	case lexer.TokenReturn:
		a.emitOp(chunk.OpReturn)
	case lexer.TokenExit:
		a.emitOp(chunk.OpExit)

	case lexer.TokenNewScope:
		a.emitOp(chunk.OpNewScope)
		a.scopeDepth++
		a.scopeLocalCounts = append(a.scopeLocalCounts, 0)

	case lexer.TokenEndScope:
		if len(a.scopeLocalCounts) == 0 {
			a.error("ENDSCOPE without matching NEWSCOPE")
			return
		}
		a.emitOp(chunk.OpEndScope)
		count := a.scopeLocalCounts[len(a.scopeLocalCounts)-1]
		a.scopeLocalCounts = a.scopeLocalCounts[:len(a.scopeLocalCounts)-1]
		a.locals = a.locals[:len(a.locals)-count]
		a.nextSlot -= count
		a.scopeDepth--

	case lexer.TokenDefGlobal:
		name := a.expectIdent()
		idx := a.vm.AddGlobal(name)
		if idx > 255 {
			a.error("global pool overflow")
			return
		}
		// The value to store is written immediately after the
		// identifier, so its bytecode has to precede DEFGLOBAL's own
		// (DEFGLOBAL pops it off the stack at run time).
		a.statement()
		a.emitOpByte(chunk.OpDefGlobal, byte(idx))

	case lexer.TokenSetGlobal:
		name := a.expectIdent()
		idx := a.vm.AddGlobal(name)
		a.statement()
		a.emitOpByte(chunk.OpSetGlobal, byte(idx))

	case lexer.TokenGetGlobal:
		name := a.expectIdent()
		idx := a.vm.AddGlobal(name)
		a.emitOpByte(chunk.OpGetGlobal, byte(idx))

	case lexer.TokenDefLocal:
		name := a.expectIdent()
		slot, ok := a.declareLocal(name)
		if !ok {
			a.error("duplicate local in this scope")
			return
		}
		if slot > 255 || slot >= a.vm.LocalsSize() {
			a.error("local pool overflow")
			return
		}
		a.emitOpByte(chunk.OpDefLocal, byte(slot))

	case lexer.TokenSetLocal:
		name := a.expectIdent()
		slot, ok := a.resolveLocal(name)
		if !ok {
			a.error("unknown local")
			return
		}
		a.emitOpByte(chunk.OpSetLocal, byte(slot))

	case lexer.TokenGetLocal:
		name := a.expectIdent()
		slot, ok := a.resolveLocal(name)
		if !ok {
			a.error("unknown local")
			return
		}
		a.emitOpByte(chunk.OpGetLocal, byte(slot))

	case lexer.TokenJump:
		offset := a.expectJumpMagnitude()
		a.emitOp(chunk.OpJump)
		a.emitShortOffset(offset)

	case lexer.TokenJumpIf:
		offset := a.expectJumpMagnitude()
		a.emitOp(chunk.OpJumpIf)
		a.emitShortOffset(offset)

	case lexer.TokenBackJump:
		offset := a.expectJumpMagnitude()
		a.emitOp(chunk.OpJump)
		a.emitShortOffset(-offset)

	case lexer.TokenBackJumpIf:
		offset := a.expectJumpMagnitude()
		a.emitOp(chunk.OpJumpIf)
		a.emitShortOffset(-offset)

	case lexer.TokenGoto:
		label := a.expectLabelRef()
		a.emitGotoPlaceholder(chunk.OpGoto, label)

	case lexer.TokenGotoIf:
		label := a.expectLabelRef()
		a.emitGotoPlaceholder(chunk.OpGotoIf, label)

	case lexer.TokenEOF:
		// handled by the Compile loop

	default:
		a.error(fmt.Sprintf("unexpected token '%s'", a.previous.Lexeme))
	}

	a.panicMode = false
}

// expectJumpMagnitude consumes the literal NUMBER operand to a
// JUMP/JUMP_IF/BACK_JUMP/BACK_JUMP_IF and validates it against
// UINT16_MAX before any sign is applied, matching how the reference
// assembler bounds-checks the user-typed magnitude.
func (a *Assembler) expectJumpMagnitude() int {
	n := a.expectNumber()
	magnitude := int(n)
	if magnitude == math.MaxUint16 {
		a.error("jump offset exceeds UINT16_MAX")
		return 0
	}
	if magnitude > math.MaxUint16 || magnitude < 0 {
		a.error("jump offset exceeds UINT16_MAX")
		return 0
	}
	return magnitude
}

func (a *Assembler) emitShortOffset(offset int) {
	u := uint16(int16(offset))
	a.emitByte(byte(u & 0xFF))
	a.emitByte(byte(u >> 8))
}

// expectIdent consumes a following $identifier token, used as the
// operand to DEFGLOBAL/SETGLOBAL/GETGLOBAL/DEFLOCAL/SETLOCAL/GETLOCAL.
func (a *Assembler) expectIdent() string {
	a.consume(lexer.TokenIdent, "expected identifier")
	return a.previous.Lexeme
}

// expectLabelRef consumes a following $identifier token standing in
// for a label name, used by GOTO/GOTO_IF.
func (a *Assembler) expectLabelRef() string {
	a.consume(lexer.TokenIdent, "expected label name")
	return a.previous.Lexeme
}

// expectNumber consumes a following NUMBER token, used as the operand
// to JUMP/JUMP_IF/BACK_JUMP/BACK_JUMP_IF.
func (a *Assembler) expectNumber() float64 {
	a.consume(lexer.TokenNumber, "expected numeric offset")
	n, err := strconv.ParseFloat(a.previous.Lexeme, 64)
	if err != nil {
		a.error("malformed number literal")
		return 0
	}
	return n
}

// HadError reports whether any compile error was recorded.
func (a *Assembler) HadError() bool { return a.hadError }
