// Package module owns every heap-ish registry the compiler and VM share:
// compiled functions, native bindings, closures, open/closed upvalues, and
// the interned string pool. Go's garbage collector reclaims the Object and
// registry-entry allocations themselves; Module's job is only to hand out
// stable indices and to make sure equal string contents always resolve to
// the same *value.Object handle, which is what makes Value.Equals's bare
// pointer comparison correct for strings.
package module

import (
	"loxvm/pkg/bytecode"
	"loxvm/pkg/value"
)

// Function is a compiled, top-level or nested function body: a name (for
// stack traces), its parameter count, the number of upvalues its closures
// must capture, and the chunk of instructions that is its body.
type Function struct {
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        *bytecode.Chunk
}

// NativeFn is the Go-side implementation of a native function. It receives
// already-evaluated arguments and returns either a value or a runtime
// error.
type NativeFn func(args []value.Value) (value.Value, error)

// Native is a native function binding registered by pkg/natives.
type Native struct {
	Name  string
	Arity int
	Fn    NativeFn
}

// Upvalue is a reference cell a Closure captures. While Open it aliases a
// slot on some live call frame's stack (StackSlot); once that frame
// returns or the block that declared the local ends, the value is copied
// into Closed and the upvalue stops referencing the stack at all.
type Upvalue struct {
	Open      bool
	StackSlot int
	Closed    value.Value
}

// Get returns the upvalue's current value, reading through to the stack
// slot while Open.
func (u *Upvalue) Get(stack []value.Value) value.Value {
	if u.Open {
		return stack[u.StackSlot]
	}
	return u.Closed
}

// Set writes through to the stack slot while Open, or to Closed once
// closed.
func (u *Upvalue) Set(stack []value.Value, v value.Value) {
	if u.Open {
		stack[u.StackSlot] = v
		return
	}
	u.Closed = v
}

// Close copies the current stack value into Closed and marks the upvalue
// no longer Open. Called when the stack slot it references is about to go
// out of scope.
func (u *Upvalue) Close(stack []value.Value) {
	u.Closed = stack[u.StackSlot]
	u.Open = false
}

// Closure pairs a Function with the upvalues its body captured at the
// point the OpClosure instruction ran. Upvalues holds indices into
// Module.Upvalues, one per capture descriptor on the OpClosure
// instruction, in order.
type Closure struct {
	FunctionIndex int
	Upvalues      []int
}

// Module is the set of registries a running program's functions, natives,
// closures, and upvalues are allocated into, plus the interned string
// table. A Module outlives any single VM run: the REPL keeps reusing one
// across statements, the way globals persist across REPL lines.
type Module struct {
	Functions []*Function
	Natives   []*Native
	Closures  []*Closure
	Upvalues  []*Upvalue

	strings map[string]*value.Object
}

// New returns an empty Module ready to have functions, natives, and
// strings registered into it.
func New() *Module {
	return &Module{
		strings: make(map[string]*value.Object),
	}
}

// PushFunction registers fn and returns its index.
func (m *Module) PushFunction(fn *Function) int {
	m.Functions = append(m.Functions, fn)
	return len(m.Functions) - 1
}

// PushNative registers n and returns its index.
func (m *Module) PushNative(n *Native) int {
	m.Natives = append(m.Natives, n)
	return len(m.Natives) - 1
}

// PushClosure registers c and returns its index.
func (m *Module) PushClosure(c *Closure) int {
	m.Closures = append(m.Closures, c)
	return len(m.Closures) - 1
}

// PushUpvalue registers u and returns its index.
func (m *Module) PushUpvalue(u *Upvalue) int {
	m.Upvalues = append(m.Upvalues, u)
	return len(m.Upvalues) - 1
}

// Intern returns the canonical *value.Object for a string's contents,
// creating and registering one the first time that content is seen. Every
// later call with equal contents returns the identical pointer, which is
// what lets Value.Equals compare strings by pointer identity.
func (m *Module) Intern(s string) *value.Object {
	if obj, ok := m.strings[s]; ok {
		return obj
	}
	obj := value.NewString(s)
	m.strings[s] = obj
	return obj
}
