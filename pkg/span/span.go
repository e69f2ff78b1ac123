// Package span defines the source-range value type shared by every other
// package: tokens, instructions, and diagnostics all carry one.
package span

import "fmt"

// Span identifies a byte range [Lo, Hi) in a source string together with
// the 1-based line on which the range begins.
type Span struct {
	Lo, Hi int
	Line   int
}

// New builds a Span, normalizing Lo <= Hi.
func New(lo, hi, line int) Span {
	if lo > hi {
		lo, hi = hi, lo
	}
	return Span{Lo: lo, Hi: hi, Line: line}
}

// To returns a span encompassing both s and other: the min of their lower
// bounds, the max of their upper bounds, and the min of their lines.
func (s Span) To(other Span) Span {
	lo, hi := s.Lo, s.Hi
	if other.Lo < lo {
		lo = other.Lo
	}
	if other.Hi > hi {
		hi = other.Hi
	}
	line := s.Line
	if other.Line < line {
		line = other.Line
	}
	return Span{Lo: lo, Hi: hi, Line: line}
}

// Contains reports whether position falls within [Lo, Hi).
func (s Span) Contains(position int) bool {
	return s.Lo <= position && position < s.Hi
}

// String renders the span the way diagnostics report a position: a single
// offset when the range covers at most one byte, otherwise "lo..hi".
func (s Span) String() string {
	if s.Hi-s.Lo <= 1 {
		return fmt.Sprintf("%d", s.Lo)
	}
	return fmt.Sprintf("%d..%d", s.Lo, s.Hi)
}
