// Package value implements the runtime Value and Object model: the tagged
// union every bytecode instruction pushes, pops, and compares.
package value

import (
	"math"
	"strconv"
)

// Kind tags which field of a Value is meaningful.
type Kind int

const (
	KindNumber Kind = iota
	KindBoolean
	KindNil
	KindObject
)

// Value is the tagged union every stack slot, local, upvalue, and global
// holds. Only one of Num/Bool/Obj is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	Num  float64
	Bool bool
	Obj  *Object
}

// Nil is the singleton nil value.
var Nil = Value{Kind: KindNil}

// Number wraps a float64 as a Value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Boolean wraps a bool as a Value.
func Boolean(b bool) Value { return Value{Kind: KindBoolean, Bool: b} }

// FromObject wraps an *Object as a Value.
func FromObject(o *Object) Value { return Value{Kind: KindObject, Obj: o} }

// TypeName returns the canonical type name used in diagnostics.
func (v Value) TypeName() string {
	switch v.Kind {
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindNil:
		return "nil"
	case KindObject:
		return v.Obj.TypeName()
	default:
		return "unknown"
	}
}

// Truth implements falsiness: only Nil and Boolean(false) are false; every
// other value, including 0 and the empty string, is true.
func (v Value) Truth() bool {
	switch v.Kind {
	case KindNil:
		return false
	case KindBoolean:
		return v.Bool
	default:
		return true
	}
}

// Equals implements equality with no implicit coercion: values of
// different kinds are never equal. Object equality is pointer identity,
// which is sound for strings because the module interns them by content.
func (v Value) Equals(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == other.Num
	case KindBoolean:
		return v.Bool == other.Bool
	case KindNil:
		return true
	case KindObject:
		return v.Obj == other.Obj
	default:
		return false
	}
}

// String implements the language's display formatting: numbers whose
// floor equals themselves print without a decimal point, nil/booleans
// print as their words, strings print their contents, and callables print
// "<fn NAME>" forms (delegated to Object).
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return formatNumber(v.Num)
	case KindBoolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindNil:
		return "nil"
	case KindObject:
		return v.Obj.String()
	default:
		return "?"
	}
}

func formatNumber(n float64) string {
	if math.IsNaN(n) {
		return "NaN"
	}
	if math.IsInf(n, 1) {
		return "inf"
	}
	if math.IsInf(n, -1) {
		return "-inf"
	}
	// 'f'/-1 prints the shortest round-tripping decimal, which already
	// omits the fractional part for values whose floor equals themselves.
	return strconv.FormatFloat(n, 'f', -1, 64)
}
