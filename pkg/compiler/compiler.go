// Package compiler implements the single-pass Pratt-style compiler that
// turns a token stream directly into bytecode, without ever building an
// intermediate AST. Expressions are parsed and emitted in the same walk;
// statements drive scope tracking and jump patching as they go.
package compiler

import (
	"fmt"

	"loxvm/pkg/bytecode"
	"loxvm/pkg/diag"
	"loxvm/pkg/lexer"
	"loxvm/pkg/module"
	"loxvm/pkg/span"
)

const (
	// maxLocals bounds fnCompiler.locals, which includes the reserved slot
	// 0 entry every function gets (see newFnCompiler) — so in practice 511
	// user-declared locals fit per function, not 512.
	maxLocals  = 512
	maxParams  = 255
	maxArgs    = 255
	maxJumpMag = bytecode.MaxJump
)

type funcType int

const (
	funcTypeScript funcType = iota
	funcTypeFunction
)

// local is a compile-time record of a declared local variable: its name,
// the scope depth it belongs to (-1 while its initializer is still being
// compiled, which is what makes `var a = a;` a compile error), and whether
// any nested function captured it as an upvalue.
type local struct {
	name       string
	depth      int
	isCaptured bool
}

// upvalueRef is a compile-time record of one upvalue a function captures:
// either a slot on the immediately enclosing function's stack frame
// (isLocal), or an upvalue slot already captured by that enclosing
// function, to be forwarded as-is.
type upvalueRef struct {
	isLocal bool
	index   int
}

// fnCompiler tracks the locals, scope depth, and upvalues of one function
// body being compiled. Nested function declarations push a new fnCompiler
// on top of the enclosing one and pop back off when the body is done,
// mirroring the stack of call frames the VM will later build at runtime.
type fnCompiler struct {
	enclosing *fnCompiler
	function  *module.Function
	funcIndex int
	kind      funcType

	locals     []local
	scopeDepth int
	upvalues   []upvalueRef
}

// newFnCompiler starts a fresh fnCompiler with its stack-slot accounting
// already reflecting the runtime's call convention: slot 0 of every frame
// is occupied by the callee itself (CallFrame.Start points at it), so
// locals must start numbering from slot 1. Reserving it here as a nameless,
// already-initialized local — exactly as the grounding clox/rblox compiler
// does — means the first real declaration naturally lands at index 1.
func newFnCompiler(enclosing *fnCompiler, fn *module.Function, idx int, kind funcType) *fnCompiler {
	fc := &fnCompiler{enclosing: enclosing, function: fn, funcIndex: idx, kind: kind}
	fc.locals = append(fc.locals, local{name: "", depth: 0})
	return fc
}

// Parser drives the single-pass compile: it owns the token stream, the
// current function compiler, and the module functions and interned
// strings are registered into.
type Parser struct {
	scanner *lexer.Scanner

	previous lexer.Token
	current  lexer.Token

	panicMode bool
	diags     []diag.Diagnostic

	fc     *fnCompiler
	module *module.Module
}

// Compile compiles src as a top-level script, registering it and any
// nested function declarations into mod. It returns the index of the
// script's own function in mod.Functions (ready to pass to the VM) and any
// diagnostics collected along the way. Compilation proceeds through parse
// errors via panic-mode recovery, so diags may be non-empty even when an
// index is returned; callers should refuse to run if any diagnostic has
// Level() == diag.LevelError.
func Compile(src string, mod *module.Module) (int, []diag.Diagnostic) {
	fn := &module.Function{Name: "<script>", Chunk: bytecode.NewChunk("<script>")}
	idx := mod.PushFunction(fn)

	p := &Parser{
		scanner: lexer.New(src),
		fc:      newFnCompiler(nil, fn, idx, funcTypeScript),
		module:  mod,
	}
	p.advance()
	for !p.check(lexer.KindEOF) {
		p.declaration()
	}
	p.consume(lexer.KindEOF, "Expect end of expression.")
	p.endFunctionCompiler()

	return idx, p.diags
}

// --- token stream -----------------------------------------------------

func (p *Parser) advance() {
	p.previous = p.current
	for {
		p.current = p.scanner.NextToken()
		switch p.current.Kind {
		case lexer.KindWhitespace, lexer.KindComment, lexer.KindBlockComment:
			continue
		case lexer.KindError:
			p.errorAtCurrentScan()
			continue
		}
		return
	}
}

func (p *Parser) check(k lexer.Kind) bool {
	return p.current.Kind == k
}

func (p *Parser) match(k lexer.Kind) bool {
	if !p.check(k) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) consume(k lexer.Kind, message string) {
	if p.check(k) {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

// consumeIdent consumes an identifier token, reporting message if the
// current token isn't one, and returns its lexeme and span.
func (p *Parser) consumeIdent(message string) (string, span.Span) {
	if !p.check(lexer.KindIdentifier) {
		p.errorAtCurrent(message)
		return "", p.current.Span
	}
	tok := p.current
	p.advance()
	return tok.Lexeme, tok.Span
}

// --- diagnostics --------------------------------------------------------

func (p *Parser) errorAtCurrentScan() {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.diags = append(p.diags, diag.NewScanError(p.current.Message, p.current.Unterminated, p.current.Span))
}

func (p *Parser) errorAtCurrent(message string) {
	p.errorAt(p.current, message)
}

func (p *Parser) errorAtPrevious(message string) {
	p.errorAt(p.previous, message)
}

func (p *Parser) errorAt(tok lexer.Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	offending := tok.Kind.String()
	if tok.Kind == lexer.KindIdentifier || tok.Kind == lexer.KindString {
		offending = tok.Lexeme
	}
	p.diags = append(p.diags, diag.NewUnexpectedToken(message, offending, tok.Kind == lexer.KindEOF, tok.Span))
}

func (p *Parser) warnAt(message string, sp span.Span) {
	p.diags = append(p.diags, diag.NewGeneral(diag.LevelWarning, message, sp))
}

func (p *Parser) errorGeneral(message string, sp span.Span) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.diags = append(p.diags, diag.NewGeneral(diag.LevelError, message, sp))
}

// errorStackOverflow reports exceeding a compile-time capacity limit
// (locals, in the current grammar) as the dedicated ParseStackOverflow
// variant rather than a general diagnostic.
func (p *Parser) errorStackOverflow(message string, sp span.Span) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.diags = append(p.diags, diag.NewStackOverflow(message, sp))
}

// errorInvalidJump reports a jump offset or loop body too large to encode
// as the dedicated ParseInvalidJump variant rather than a general
// diagnostic.
func (p *Parser) errorInvalidJump(message string, sp span.Span) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.diags = append(p.diags, diag.NewInvalidJump(message, sp))
}

// synchronize skips tokens until a likely statement boundary, so a single
// parse error doesn't cascade into a wall of spurious ones.
func (p *Parser) synchronize() {
	p.panicMode = false
	for !p.check(lexer.KindEOF) {
		if p.previous.Kind == lexer.KindSemicolon {
			return
		}
		switch p.current.Kind {
		case lexer.KindClass, lexer.KindFor, lexer.KindFun, lexer.KindIf,
			lexer.KindPrint, lexer.KindReturn, lexer.KindVar, lexer.KindWhile:
			return
		}
		p.advance()
	}
}

// --- emission -----------------------------------------------------------

func (p *Parser) currentChunk() *bytecode.Chunk {
	return p.fc.function.Chunk
}

func (p *Parser) emit(ins bytecode.Ins, sp span.Span) int {
	return p.currentChunk().Write(ins, sp)
}

func (p *Parser) emitReturn(sp span.Span) {
	p.emit(bytecode.Ins{Op: bytecode.OpNil}, sp)
	p.emit(bytecode.Ins{Op: bytecode.OpReturn}, sp)
}

// emitJump writes a placeholder jump instruction and returns its offset,
// to be back-filled once the jump target is known via patchJump.
func (p *Parser) emitJump(op bytecode.Op, sp span.Span) int {
	return p.emit(bytecode.Ins{Op: op, Slot: 0}, sp)
}

func (p *Parser) patchJump(offset int, sp span.Span) {
	jump := p.currentChunk().Len() - offset - 1
	if jump > maxJumpMag {
		p.errorInvalidJump(fmt.Sprintf("too much code to jump over (%d instructions)", jump), sp)
		return
	}
	ins, _, _ := p.currentChunk().Get(offset)
	ins.Slot = jump
	p.currentChunk().Patch(offset, ins)
}

// emitLoop emits a backward jump to loopStart, encoded as a negative
// offset so the VM's single OpJump handler covers both directions.
func (p *Parser) emitLoop(loopStart int, sp span.Span) {
	offset := p.currentChunk().Len() + 1 - loopStart
	if offset > maxJumpMag {
		p.errorInvalidJump("loop body too large", sp)
		return
	}
	p.emit(bytecode.Ins{Op: bytecode.OpJump, Slot: -offset}, sp)
}

func (p *Parser) endFunctionCompiler() {
	p.emitReturn(p.previous.Span)
}

// --- scopes and locals ---------------------------------------------------

func (p *Parser) beginScope() {
	p.fc.scopeDepth++
}

// endScope pops every local declared in the scope just left. Locals that
// were captured by a nested closure are closed one at a time (OpCloseUpval);
// runs of uncaptured locals are popped in a single OpPopN, cheapest when —
// as is typical — nothing in the block was captured at all.
func (p *Parser) endScope(sp span.Span) {
	p.fc.scopeDepth--

	pending := 0
	flush := func() {
		if pending > 0 {
			p.emit(bytecode.Ins{Op: bytecode.OpPopN, Slot: pending}, sp)
			pending = 0
		}
	}
	for len(p.fc.locals) > 0 && p.fc.locals[len(p.fc.locals)-1].depth > p.fc.scopeDepth {
		last := p.fc.locals[len(p.fc.locals)-1]
		if last.isCaptured {
			flush()
			p.emit(bytecode.Ins{Op: bytecode.OpCloseUpval}, sp)
		} else {
			pending++
		}
		p.fc.locals = p.fc.locals[:len(p.fc.locals)-1]
	}
	flush()
}

// declareVariable registers name as a new local in the current scope. At
// global scope (depth 0) it does nothing — globals are resolved by name at
// runtime and need no compile-time slot.
func (p *Parser) declareVariable(name string, sp span.Span) {
	if p.fc.scopeDepth == 0 {
		return
	}
	for i := len(p.fc.locals) - 1; i >= 0; i-- {
		l := p.fc.locals[i]
		if l.depth != -1 && l.depth < p.fc.scopeDepth {
			break
		}
		if l.name == name {
			p.warnAt(fmt.Sprintf("variable `%s` is already declared in this scope", name), sp)
			break
		}
	}
	p.addLocal(name, sp)
}

func (p *Parser) addLocal(name string, sp span.Span) {
	if len(p.fc.locals) >= maxLocals {
		p.errorStackOverflow("too many local variables in function", sp)
		return
	}
	p.fc.locals = append(p.fc.locals, local{name: name, depth: -1})
}

// markInitialized makes the most recently declared local visible to name
// resolution. At global scope there is no local to mark.
func (p *Parser) markInitialized() {
	if p.fc.scopeDepth == 0 {
		return
	}
	p.fc.locals[len(p.fc.locals)-1].depth = p.fc.scopeDepth
}

// defineVariable finishes declaring name: at global scope it emits
// OpDefGlobal; for a local, the variable was already made visible by
// markInitialized and nothing further needs to run.
func (p *Parser) defineVariable(name string, sp span.Span) {
	if p.fc.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emit(bytecode.Ins{Op: bytecode.OpDefGlobal, Name: name}, sp)
}

// resolveLocal looks up name among the current function's own locals, most
// recently declared first. It reports a compile error (rather than
// returning "not found") if name resolves to a local still mid-initializer,
// which is what makes `var a = a;` fail instead of silently reading nil.
func (p *Parser) resolveLocal(fc *fnCompiler, name string, sp span.Span) (int, bool) {
	for i := len(fc.locals) - 1; i >= 0; i-- {
		if fc.locals[i].name == name {
			if fc.locals[i].depth == -1 {
				p.errorGeneral(fmt.Sprintf("can't read local variable `%s` in its own initializer", name), sp)
				return 0, true
			}
			return i, true
		}
	}
	return 0, false
}

// resolveUpvalue searches enclosing functions for name, capturing it as an
// upvalue chain down to fc if found on some ancestor's locals. Each
// fnCompiler along the way gets its own upvalue slot recorded, deduplicated
// by addUpvalue, so capturing the same variable twice reuses one slot.
func (p *Parser) resolveUpvalue(fc *fnCompiler, name string, sp span.Span) (int, bool) {
	if fc.enclosing == nil {
		return 0, false
	}
	if slot, ok := p.resolveLocal(fc.enclosing, name, sp); ok {
		fc.enclosing.locals[slot].isCaptured = true
		return p.addUpvalue(fc, upvalueRef{isLocal: true, index: slot}), true
	}
	if idx, ok := p.resolveUpvalue(fc.enclosing, name, sp); ok {
		return p.addUpvalue(fc, upvalueRef{isLocal: false, index: idx}), true
	}
	return 0, false
}

func (p *Parser) addUpvalue(fc *fnCompiler, ref upvalueRef) int {
	for i, existing := range fc.upvalues {
		if existing == ref {
			return i
		}
	}
	fc.upvalues = append(fc.upvalues, ref)
	return len(fc.upvalues) - 1
}

// --- declarations and statements -----------------------------------------

func (p *Parser) declaration() {
	switch {
	case p.match(lexer.KindFun):
		p.funDeclaration()
	case p.match(lexer.KindVar):
		p.varDeclaration()
	default:
		p.statement()
	}
	if p.panicMode {
		p.synchronize()
	}
}

func (p *Parser) funDeclaration() {
	start := p.previous.Span
	name, nameSpan := p.consumeIdent("Expect function name.")
	p.declareVariable(name, nameSpan)
	if p.fc.scopeDepth > 0 {
		p.markInitialized()
	}
	p.function(name, funcTypeFunction, start.To(nameSpan))
	p.defineVariable(name, nameSpan)
}

func (p *Parser) function(name string, kind funcType, declSpan span.Span) {
	fn := &module.Function{Name: name, Chunk: bytecode.NewChunk(name)}
	idx := p.module.PushFunction(fn)

	enclosing := p.fc
	p.fc = newFnCompiler(enclosing, fn, idx, kind)
	p.beginScope()

	p.consume(lexer.KindLeftParen, "Expect '(' after function name.")
	if !p.check(lexer.KindRightParen) {
		for {
			fn.Arity++
			if fn.Arity > maxParams {
				p.errorAtCurrent("can't have more than 255 parameters")
			}
			paramName, paramSpan := p.consumeIdent("Expect parameter name.")
			p.declareVariable(paramName, paramSpan)
			p.markInitialized()
			if !p.match(lexer.KindComma) {
				break
			}
		}
	}
	p.consume(lexer.KindRightParen, "Expect ')' after parameters.")
	p.consume(lexer.KindLeftBrace, "Expect '{' before function body.")
	p.block()

	captures := make([]bytecode.CaptureDescriptor, len(p.fc.upvalues))
	for i, uv := range p.fc.upvalues {
		captures[i] = bytecode.CaptureDescriptor{IsLocal: uv.isLocal, Index: uv.index}
	}
	p.endFunctionCompiler()
	fn.UpvalueCount = len(captures)

	p.fc = enclosing
	p.emit(bytecode.Ins{Op: bytecode.OpClosure, FunctionIndex: idx, Captures: captures}, declSpan)
}

func (p *Parser) varDeclaration() {
	start := p.previous.Span
	name, nameSpan := p.consumeIdent("Expect variable name.")
	p.declareVariable(name, nameSpan)

	if p.match(lexer.KindEqual) {
		p.expression()
	} else {
		p.emit(bytecode.Ins{Op: bytecode.OpNil}, nameSpan)
	}
	semiSpan := p.current.Span
	p.consume(lexer.KindSemicolon, "Expect ';' after variable declaration.")
	p.defineVariable(name, start.To(semiSpan))
}

func (p *Parser) statement() {
	switch {
	case p.match(lexer.KindPrint):
		p.printStatement()
	case p.match(lexer.KindIf):
		p.ifStatement()
	case p.match(lexer.KindWhile):
		p.whileStatement()
	case p.match(lexer.KindFor):
		p.forStatement()
	case p.match(lexer.KindReturn):
		p.returnStatement()
	case p.match(lexer.KindLeftBrace):
		p.beginScope()
		p.block()
		p.endScope(p.previous.Span)
	default:
		p.expressionStatement()
	}
}

// block parses statements until a closing '}'. Callers are responsible for
// any enclosing begin/endScope — function bodies intentionally skip it,
// since their whole frame is discarded on return rather than popped.
func (p *Parser) block() {
	for !p.check(lexer.KindRightBrace) && !p.check(lexer.KindEOF) {
		p.declaration()
	}
	p.consume(lexer.KindRightBrace, "Expect '}' after block.")
}

func (p *Parser) printStatement() {
	start := p.previous.Span
	p.expression()
	semiSpan := p.current.Span
	p.consume(lexer.KindSemicolon, "Expect ';' after value.")
	p.emit(bytecode.Ins{Op: bytecode.OpPrint}, start.To(semiSpan))
}

func (p *Parser) returnStatement() {
	start := p.previous.Span
	if p.fc.kind == funcTypeScript {
		p.warnAt("can't return from top-level code", start)
	}
	if p.match(lexer.KindSemicolon) {
		p.emitReturn(start)
		return
	}
	p.expression()
	semiSpan := p.current.Span
	p.consume(lexer.KindSemicolon, "Expect ';' after return value.")
	p.emit(bytecode.Ins{Op: bytecode.OpReturn}, start.To(semiSpan))
}

func (p *Parser) expressionStatement() {
	start := p.current.Span
	p.expression()
	semiSpan := p.current.Span
	p.consume(lexer.KindSemicolon, "Expect ';' after expression.")
	p.emit(bytecode.Ins{Op: bytecode.OpPop}, start.To(semiSpan))
}

func (p *Parser) ifStatement() {
	ifSpan := p.previous.Span
	p.consume(lexer.KindLeftParen, "Expect '(' after 'if'.")
	p.expression()
	condSpan := p.previous.Span
	p.consume(lexer.KindRightParen, "Expect ')' after condition.")

	thenJump := p.emitJump(bytecode.OpJumpIfFalse, ifSpan.To(condSpan))
	p.emit(bytecode.Ins{Op: bytecode.OpPop}, condSpan)
	p.statement()

	elseJump := p.emitJump(bytecode.OpJump, p.previous.Span)
	p.patchJump(thenJump, p.previous.Span)
	p.emit(bytecode.Ins{Op: bytecode.OpPop}, p.previous.Span)

	if p.match(lexer.KindElse) {
		p.statement()
	}
	p.patchJump(elseJump, p.previous.Span)
}

func (p *Parser) whileStatement() {
	loopStart := p.currentChunk().Len()
	whileSpan := p.previous.Span
	p.consume(lexer.KindLeftParen, "Expect '(' after 'while'.")
	p.expression()
	condSpan := p.previous.Span
	p.consume(lexer.KindRightParen, "Expect ')' after condition.")

	exitJump := p.emitJump(bytecode.OpJumpIfFalse, whileSpan.To(condSpan))
	p.emit(bytecode.Ins{Op: bytecode.OpPop}, condSpan)
	p.statement()
	p.emitLoop(loopStart, p.previous.Span)

	p.patchJump(exitJump, p.previous.Span)
	p.emit(bytecode.Ins{Op: bytecode.OpPop}, p.previous.Span)
}

func (p *Parser) forStatement() {
	p.beginScope()
	defer func() {
		p.endScope(p.previous.Span)
	}()

	p.consume(lexer.KindLeftParen, "Expect '(' after 'for'.")
	switch {
	case p.match(lexer.KindSemicolon):
		// no initializer
	case p.match(lexer.KindVar):
		p.varDeclaration()
	default:
		p.expressionStatement()
	}

	loopStart := p.currentChunk().Len()
	exitJump := -1
	if !p.check(lexer.KindSemicolon) {
		p.expression()
		condSpan := p.previous.Span
		exitJump = p.emitJump(bytecode.OpJumpIfFalse, condSpan)
		p.emit(bytecode.Ins{Op: bytecode.OpPop}, condSpan)
	}
	p.consume(lexer.KindSemicolon, "Expect ';' after loop condition.")

	if !p.check(lexer.KindRightParen) {
		bodyJump := p.emitJump(bytecode.OpJump, p.current.Span)
		incStart := p.currentChunk().Len()
		p.expression()
		incSpan := p.previous.Span
		p.emit(bytecode.Ins{Op: bytecode.OpPop}, incSpan)
		p.consume(lexer.KindRightParen, "Expect ')' after for clauses.")

		p.emitLoop(loopStart, incSpan)
		loopStart = incStart
		p.patchJump(bodyJump, incSpan)
	} else {
		p.consume(lexer.KindRightParen, "Expect ')' after for clauses.")
	}

	p.statement()
	p.emitLoop(loopStart, p.previous.Span)

	if exitJump != -1 {
		p.patchJump(exitJump, p.previous.Span)
		p.emit(bytecode.Ins{Op: bytecode.OpPop}, p.previous.Span)
	}
}
