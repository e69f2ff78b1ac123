package compiler

import (
	"math"

	"loxvm/pkg/bytecode"
	"loxvm/pkg/lexer"
	"loxvm/pkg/span"
	"loxvm/pkg/value"
)

// expression parses a full expression, including the comma sequence
// operator — the loosest-binding form used by statement bodies (print,
// var initializers, conditions, return values).
func (p *Parser) expression() {
	p.parsePrecedence(PrecSequence)
}

// assignmentExpression parses one expression at Assignment precedence,
// stopping before a top-level comma — used for call arguments, where a `,`
// separates arguments rather than chaining the sequence operator.
func (p *Parser) assignmentExpression() {
	p.parsePrecedence(PrecAssignment)
}

// sequence implements the comma operator: discard the already-parsed left
// operand and evaluate the right, which becomes the expression's value.
func (p *Parser) sequence(canAssign bool) {
	sp := p.previous.Span
	p.emit(bytecode.Ins{Op: bytecode.OpPop}, sp)
	p.parsePrecedence(PrecAssignment)
}

// parsePrecedence is the core Pratt loop: parse one prefix expression, then
// keep folding in infix operators whose precedence is at least prec.
func (p *Parser) parsePrecedence(prec Precedence) {
	p.advance()
	prefix := getRule(p.previous.Kind).prefix
	if prefix == nil {
		p.errorAtPrevious("Expect expression.")
		return
	}
	canAssign := prec <= PrecAssignment
	prefix(p, canAssign)

	for prec <= getRule(p.current.Kind).prec {
		p.advance()
		infix := getRule(p.previous.Kind).infix
		infix(p, canAssign)
	}

	if canAssign && p.match(lexer.KindEqual) {
		p.errorAtPrevious("Invalid assignment target.")
	}
}

func (p *Parser) grouping(canAssign bool) {
	p.expression()
	p.consume(lexer.KindRightParen, "Expect ')' after expression.")
}

func (p *Parser) number(canAssign bool) {
	p.emit(bytecode.Ins{Op: bytecode.OpConstant, Const: value.Number(p.previous.Number)}, p.previous.Span)
}

func (p *Parser) string(canAssign bool) {
	obj := p.module.Intern(p.previous.String)
	p.emit(bytecode.Ins{Op: bytecode.OpConstant, Const: value.FromObject(obj)}, p.previous.Span)
}

func (p *Parser) literal(canAssign bool) {
	sp := p.previous.Span
	switch p.previous.Kind {
	case lexer.KindTrue:
		p.emit(bytecode.Ins{Op: bytecode.OpTrue}, sp)
	case lexer.KindFalse:
		p.emit(bytecode.Ins{Op: bytecode.OpFalse}, sp)
	case lexer.KindNil:
		p.emit(bytecode.Ins{Op: bytecode.OpNil}, sp)
	}
}

func (p *Parser) unary(canAssign bool) {
	opKind := p.previous.Kind
	opSpan := p.previous.Span
	p.parsePrecedence(PrecUnary)
	switch opKind {
	case lexer.KindMinus:
		p.emit(bytecode.Ins{Op: bytecode.OpNegate}, opSpan)
	case lexer.KindBang:
		p.emit(bytecode.Ins{Op: bytecode.OpNot}, opSpan)
	}
}

func (p *Parser) binary(canAssign bool) {
	opKind := p.previous.Kind
	opSpan := p.previous.Span
	r := getRule(opKind)
	p.parsePrecedence(r.prec + 1)

	switch opKind {
	case lexer.KindPlus:
		p.emit(bytecode.Ins{Op: bytecode.OpAdd}, opSpan)
	case lexer.KindMinus:
		p.emit(bytecode.Ins{Op: bytecode.OpSubtract}, opSpan)
	case lexer.KindStar:
		p.emit(bytecode.Ins{Op: bytecode.OpMultiply}, opSpan)
	case lexer.KindSlash:
		p.emit(bytecode.Ins{Op: bytecode.OpDivide}, opSpan)
	case lexer.KindEqualEqual:
		p.emit(bytecode.Ins{Op: bytecode.OpEqual}, opSpan)
	case lexer.KindBangEqual:
		p.emit(bytecode.Ins{Op: bytecode.OpEqual}, opSpan)
		p.emit(bytecode.Ins{Op: bytecode.OpNot}, opSpan)
	case lexer.KindGreater:
		p.emit(bytecode.Ins{Op: bytecode.OpGreater}, opSpan)
	case lexer.KindGreaterEqual:
		p.emit(bytecode.Ins{Op: bytecode.OpLess}, opSpan)
		p.emit(bytecode.Ins{Op: bytecode.OpNot}, opSpan)
	case lexer.KindLess:
		p.emit(bytecode.Ins{Op: bytecode.OpLess}, opSpan)
	case lexer.KindLessEqual:
		p.emit(bytecode.Ins{Op: bytecode.OpGreater}, opSpan)
		p.emit(bytecode.Ins{Op: bytecode.OpNot}, opSpan)
	}
}

// and_ short-circuits: if the left operand (already on the stack) is
// false, skip the right operand entirely and leave the false value as the
// result.
func (p *Parser) and_(canAssign bool) {
	sp := p.previous.Span
	endJump := p.emitJump(bytecode.OpJumpIfFalse, sp)
	p.emit(bytecode.Ins{Op: bytecode.OpPop}, sp)
	p.parsePrecedence(PrecAnd)
	p.patchJump(endJump, p.previous.Span)
}

// or_ short-circuits the other way: if the left operand is truthy, skip
// the right operand.
func (p *Parser) or_(canAssign bool) {
	sp := p.previous.Span
	elseJump := p.emitJump(bytecode.OpJumpIfFalse, sp)
	endJump := p.emitJump(bytecode.OpJump, sp)
	p.patchJump(elseJump, sp)
	p.emit(bytecode.Ins{Op: bytecode.OpPop}, sp)
	p.parsePrecedence(PrecOr)
	p.patchJump(endJump, p.previous.Span)
}

func (p *Parser) variable(canAssign bool) {
	p.namedVariable(p.previous.Lexeme, p.previous.Span, canAssign)
}

func (p *Parser) namedVariable(name string, sp span.Span, canAssign bool) {
	slot, isLocal := p.resolveLocal(p.fc, name, sp)
	var upvalIdx int
	var isUpvalue bool
	if !isLocal {
		upvalIdx, isUpvalue = p.resolveUpvalue(p.fc, name, sp)
	}

	if canAssign && p.match(lexer.KindEqual) {
		p.expression()
		switch {
		case isLocal:
			p.emit(bytecode.Ins{Op: bytecode.OpSetLocal, Slot: slot}, sp)
		case isUpvalue:
			p.emit(bytecode.Ins{Op: bytecode.OpSetUpval, Slot: upvalIdx}, sp)
		default:
			p.emit(bytecode.Ins{Op: bytecode.OpSetGlobal, Name: name}, sp)
		}
		return
	}

	switch {
	case isLocal:
		p.emit(bytecode.Ins{Op: bytecode.OpGetLocal, Slot: slot}, sp)
	case isUpvalue:
		p.emit(bytecode.Ins{Op: bytecode.OpGetUpval, Slot: upvalIdx}, sp)
	case name == "NaN":
		// Bare `NaN` reads as the float constant rather than an undefined
		// global, unless some enclosing scope shadows it with a real local
		// or upvalue binding (handled by the cases above).
		p.emit(bytecode.Ins{Op: bytecode.OpConstant, Const: value.Number(math.NaN())}, sp)
	default:
		p.emit(bytecode.Ins{Op: bytecode.OpGetGlobal, Name: name}, sp)
	}
}

func (p *Parser) call(canAssign bool) {
	sp := p.previous.Span
	argCount := p.argumentList()
	p.emit(bytecode.Ins{Op: bytecode.OpCall, Slot: argCount}, sp)
}

func (p *Parser) argumentList() int {
	count := 0
	if !p.check(lexer.KindRightParen) {
		for {
			p.assignmentExpression()
			count++
			if count > maxArgs {
				p.errorAtPrevious("can't have more than 255 arguments")
			}
			if !p.match(lexer.KindComma) {
				break
			}
		}
	}
	p.consume(lexer.KindRightParen, "Expect ')' after arguments.")
	return count
}
