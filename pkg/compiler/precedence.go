package compiler

import "loxvm/pkg/lexer"

// Precedence orders binding power from loosest to tightest. Binary infix
// parsers recurse at prec+1 so that operators of the same precedence
// associate left.
type Precedence int

const (
	PrecNone Precedence = iota
	PrecSequence
	PrecAssignment
	PrecOr
	PrecAnd
	PrecEquality
	PrecComparison
	PrecTerm
	PrecFactor
	PrecUnary
	PrecCall
	PrecPrimary
)

// parseFn is a prefix or infix parser for one token kind. canAssign is true
// only when the expression is parsed at Assignment precedence or looser,
// so `=` is rejected after e.g. a binary operand (`a + b = c`).
type parseFn func(p *Parser, canAssign bool)

type rule struct {
	prefix parseFn
	infix  parseFn
	prec   Precedence
}

// rules is the Pratt table: for each token kind, how to parse it as the
// start of an expression (prefix), how to parse it as a continuation of one
// (infix), and at what precedence the infix form binds.
var rules map[lexer.Kind]rule

func init() {
	rules = map[lexer.Kind]rule{
		lexer.KindLeftParen:    {prefix: (*Parser).grouping, infix: (*Parser).call, prec: PrecCall},
		lexer.KindMinus:        {prefix: (*Parser).unary, infix: (*Parser).binary, prec: PrecTerm},
		lexer.KindPlus:         {infix: (*Parser).binary, prec: PrecTerm},
		lexer.KindSlash:        {infix: (*Parser).binary, prec: PrecFactor},
		lexer.KindStar:         {infix: (*Parser).binary, prec: PrecFactor},
		lexer.KindBang:         {prefix: (*Parser).unary},
		lexer.KindBangEqual:    {infix: (*Parser).binary, prec: PrecEquality},
		lexer.KindEqualEqual:   {infix: (*Parser).binary, prec: PrecEquality},
		lexer.KindGreater:      {infix: (*Parser).binary, prec: PrecComparison},
		lexer.KindGreaterEqual: {infix: (*Parser).binary, prec: PrecComparison},
		lexer.KindLess:         {infix: (*Parser).binary, prec: PrecComparison},
		lexer.KindLessEqual:    {infix: (*Parser).binary, prec: PrecComparison},
		lexer.KindNumber:       {prefix: (*Parser).number},
		lexer.KindString:       {prefix: (*Parser).string},
		lexer.KindIdentifier:   {prefix: (*Parser).variable},
		lexer.KindTrue:         {prefix: (*Parser).literal},
		lexer.KindFalse:        {prefix: (*Parser).literal},
		lexer.KindNil:          {prefix: (*Parser).literal},
		lexer.KindAnd:          {infix: (*Parser).and_, prec: PrecAnd},
		lexer.KindOr:           {infix: (*Parser).or_, prec: PrecOr},
		lexer.KindComma:        {infix: (*Parser).sequence, prec: PrecSequence},
	}
}

func getRule(k lexer.Kind) rule {
	return rules[k]
}
