// Package vm implements the stack-based virtual machine that executes
// compiled bytecode: call frames, the value stack, globals, upvalue
// capture/closing, and the dispatch loop itself.
package vm

import (
	"fmt"

	"loxvm/pkg/bytecode"
	"loxvm/pkg/diag"
	"loxvm/pkg/module"
	"loxvm/pkg/span"
	"loxvm/pkg/value"
)

// FramesMax is the deepest the call stack may go before a Lox-level call
// raises a stack-overflow runtime error.
const FramesMax = 64

// StackMax bounds the value stack; sized generously relative to FramesMax
// so ordinary recursion hits the frame limit first.
const StackMax = FramesMax * 255

// CallFrame is one active function invocation: the closure it's running,
// the instruction pointer into that closure's function's chunk, and the
// stack slot its locals begin at.
type CallFrame struct {
	Closure  *module.Closure
	Function *module.Function
	Ip       int
	Start    int
}

// VM executes bytecode against a Module's registries. Globals persist
// across multiple Run calls on the same VM, the way a REPL session's
// variables stay live between lines.
type VM struct {
	frames  []CallFrame
	stack   []value.Value
	globals map[string]value.Value

	module       *module.Module
	openUpvalues []int // indices into module.Upvalues, all currently Open

	trace     bool
	lastSpan  span.Span
	lastTrace []string

	// OnWarning receives non-fatal diagnostics (e.g. division by zero) as
	// they occur. If nil, warnings are silently dropped. The VM itself
	// never writes to stdout/stderr directly.
	OnWarning func(diag.Diagnostic)
}

// New creates a VM over mod. Natives should be registered into mod (see
// pkg/natives) and also bound as globals before the first Run.
func New(mod *module.Module) *VM {
	return &VM{
		module:  mod,
		globals: make(map[string]value.Value),
		stack:   make([]value.Value, 0, 256),
	}
}

// SetTrace enables or disables per-instruction trace output collection;
// callers read it back via DrainTrace. Mirrors the LOX_TRACE ambient
// toggle cmd/lox exposes.
func (vm *VM) SetTrace(enabled bool) {
	vm.trace = enabled
}

// DrainTrace returns and clears any trace lines accumulated since the last
// call.
func (vm *VM) DrainTrace() []string {
	t := vm.lastTrace
	vm.lastTrace = nil
	return t
}

// DefineGlobal binds name directly, bypassing OpDefGlobal — used by
// pkg/natives to install native functions before any user code runs.
func (vm *VM) DefineGlobal(name string, v value.Value) {
	vm.globals[name] = v
}

// Global returns the current value of a global variable, which is how
// tests and the REPL observe the outcome of a script that assigns to
// top-level variables rather than leaving a result on the stack.
func (vm *VM) Global(name string) (value.Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// Run executes the function at fnIndex (normally the script's own
// function, returned by compiler.Compile) as the program's entry point.
// Globals and the module's registries persist across calls — a REPL reuses
// one VM across inputs — but the value stack and call frames are reset at
// the start of each Run, since a prior run's script frame returns without
// leaving anything live on the stack to resolve against.
func (vm *VM) Run(fnIndex int) error {
	vm.stack = vm.stack[:0]
	vm.frames = vm.frames[:0]
	vm.openUpvalues = nil

	closure := &module.Closure{FunctionIndex: fnIndex}
	idx := vm.module.PushClosure(closure)
	closure = vm.module.Closures[idx]

	fn := vm.module.Functions[fnIndex]
	vm.frames = append(vm.frames, CallFrame{Closure: closure, Function: fn, Ip: 0, Start: 0})
	// Slot 0 of every frame is reserved for the callee itself (see
	// pkg/compiler's reserved local at index 0); for the implicit
	// top-level frame that's the script's own Function object.
	if err := vm.push(value.FromObject(value.NewFunction(fn.Name, fnIndex))); err != nil {
		return err
	}

	err := vm.interpret()
	if err != nil {
		vm.lastTrace = vm.captureStackTrace()
	}
	return err
}

// captureStackTrace renders the currently active call frames, innermost
// first, the way a failing run reports where it was. The outermost
// frame — the implicit top-level script body — is left out, since it
// names no function a reader would recognize.
func (vm *VM) captureStackTrace() []string {
	lines := make([]string, 0, len(vm.frames))
	for i := len(vm.frames) - 1; i >= 1; i-- {
		f := vm.frames[i]
		ip := f.Ip - 1
		if ip < 0 {
			ip = 0
		}
		_, sp, ok := f.Function.Chunk.Get(ip)
		if !ok {
			sp = vm.lastSpan
		}
		lines = append(lines, fmt.Sprintf("[line %d] in %s; at position %s", sp.Line, f.Function.Name, sp))
	}
	return lines
}

// LastTrace returns the call-stack trace captured by the most recent
// failing Run, top frame first.
func (vm *VM) LastTrace() []string {
	return vm.lastTrace
}

func (vm *VM) interpret() error {
	for {
		if len(vm.frames) == 0 {
			return nil
		}
		frame := &vm.frames[len(vm.frames)-1]

		ins, sp, ok := frame.Function.Chunk.Get(frame.Ip)
		if !ok {
			return nil
		}
		frame.Ip++
		vm.lastSpan = sp

		if vm.trace {
			vm.lastTrace = append(vm.lastTrace, fmt.Sprintf("%v %s", vm.stackSnapshot(), frame.Function.Chunk.FormatAt(frame.Ip-1)))
		}

		switch ins.Op {
		case bytecode.OpConstant:
			if err := vm.push(ins.Const); err != nil {
				return err
			}
		case bytecode.OpTrue:
			if err := vm.push(value.Boolean(true)); err != nil {
				return err
			}
		case bytecode.OpFalse:
			if err := vm.push(value.Boolean(false)); err != nil {
				return err
			}
		case bytecode.OpNil:
			if err := vm.push(value.Nil); err != nil {
				return err
			}

		case bytecode.OpNegate:
			v := vm.pop()
			if v.Kind != value.KindNumber {
				return diag.NewUnsupportedType(fmt.Sprintf("bad type for unary `-` operator: `%s`", v.TypeName()), sp)
			}
			if err := vm.push(value.Number(-v.Num)); err != nil {
				return err
			}
		case bytecode.OpNot:
			v := vm.pop()
			if err := vm.push(value.Boolean(!v.Truth())); err != nil {
				return err
			}

		case bytecode.OpAdd:
			if err := vm.add(sp); err != nil {
				return err
			}
		case bytecode.OpSubtract:
			if err := vm.numBinOp(sp, "-", func(a, b float64) float64 { return a - b }); err != nil {
				return err
			}
		case bytecode.OpMultiply:
			if err := vm.numBinOp(sp, "*", func(a, b float64) float64 { return a * b }); err != nil {
				return err
			}
		case bytecode.OpDivide:
			if err := vm.divide(sp); err != nil {
				return err
			}

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			if err := vm.push(value.Boolean(a.Equals(b))); err != nil {
				return err
			}
		case bytecode.OpGreater:
			if err := vm.cmpBinOp(sp, ">", func(a, b float64) bool { return a > b }); err != nil {
				return err
			}
		case bytecode.OpLess:
			if err := vm.cmpBinOp(sp, "<", func(a, b float64) bool { return a < b }); err != nil {
				return err
			}

		case bytecode.OpDefGlobal:
			vm.globals[ins.Name] = vm.peek(0)
			vm.pop()
		case bytecode.OpGetGlobal:
			v, ok := vm.globals[ins.Name]
			if !ok {
				return diag.NewUndefinedVariable(ins.Name, sp)
			}
			if err := vm.push(v); err != nil {
				return err
			}
		case bytecode.OpSetGlobal:
			if _, ok := vm.globals[ins.Name]; !ok {
				return diag.NewUndefinedVariable(ins.Name, sp)
			}
			vm.globals[ins.Name] = vm.peek(0)

		case bytecode.OpGetLocal:
			if err := vm.push(vm.stack[frame.Start+ins.Slot]); err != nil {
				return err
			}
		case bytecode.OpSetLocal:
			vm.stack[frame.Start+ins.Slot] = vm.peek(0)

		case bytecode.OpGetUpval:
			uvIdx := frame.Closure.Upvalues[ins.Slot]
			if err := vm.push(vm.module.Upvalues[uvIdx].Get(vm.stack)); err != nil {
				return err
			}
		case bytecode.OpSetUpval:
			uvIdx := frame.Closure.Upvalues[ins.Slot]
			vm.module.Upvalues[uvIdx].Set(vm.stack, vm.peek(0))

		case bytecode.OpJump:
			frame.Ip += ins.Slot
		case bytecode.OpJumpIfFalse:
			if !vm.peek(0).Truth() {
				frame.Ip += ins.Slot
			}

		case bytecode.OpCall:
			if err := vm.callValue(ins.Slot, sp); err != nil {
				return err
			}

		case bytecode.OpClosure:
			if err := vm.makeClosure(frame, ins); err != nil {
				return err
			}

		case bytecode.OpPop:
			vm.pop()
		case bytecode.OpPopN:
			vm.popN(ins.Slot)
		case bytecode.OpCloseUpval:
			vm.closeUpvalues(len(vm.stack) - 1)
			vm.pop()

		case bytecode.OpPrint:
			fmt.Println(vm.pop().String())

		case bytecode.OpReturn:
			result := vm.pop()
			start := frame.Start
			vm.closeUpvalues(start)
			vm.frames = vm.frames[:len(vm.frames)-1]
			if len(vm.frames) == 0 {
				return nil
			}
			vm.popTo(start)
			if err := vm.push(result); err != nil {
				return err
			}
		}
	}
}

func (vm *VM) stackSnapshot() []string {
	out := make([]string, len(vm.stack))
	for i, v := range vm.stack {
		out[i] = v.String()
	}
	return out
}

func (vm *VM) makeClosure(frame *CallFrame, ins bytecode.Ins) error {
	fn := vm.module.Functions[ins.FunctionIndex]
	closure := &module.Closure{FunctionIndex: ins.FunctionIndex}
	for _, capture := range ins.Captures {
		if capture.IsLocal {
			closure.Upvalues = append(closure.Upvalues, vm.captureUpvalue(frame.Start+capture.Index))
		} else {
			closure.Upvalues = append(closure.Upvalues, frame.Closure.Upvalues[capture.Index])
		}
	}
	idx := vm.module.PushClosure(closure)
	return vm.push(value.FromObject(value.NewClosure(fn.Name, idx)))
}

// captureUpvalue returns the index of the open upvalue for slot, reusing
// one already open for that slot rather than creating a second — the
// invariant that at most one open upvalue exists per stack slot.
func (vm *VM) captureUpvalue(slot int) int {
	for _, idx := range vm.openUpvalues {
		if vm.module.Upvalues[idx].StackSlot == slot {
			return idx
		}
	}
	uv := &module.Upvalue{Open: true, StackSlot: slot}
	idx := vm.module.PushUpvalue(uv)
	vm.openUpvalues = append(vm.openUpvalues, idx)
	return idx
}

// closeUpvalues closes every open upvalue referencing a slot at or above
// fromSlot, snapshotting its value off the stack before that slot goes out
// of scope.
func (vm *VM) closeUpvalues(fromSlot int) {
	kept := vm.openUpvalues[:0]
	for _, idx := range vm.openUpvalues {
		uv := vm.module.Upvalues[idx]
		if uv.StackSlot >= fromSlot {
			uv.Close(vm.stack)
		} else {
			kept = append(kept, idx)
		}
	}
	vm.openUpvalues = kept
}

func (vm *VM) callValue(argCount int, sp span.Span) error {
	callee := vm.peek(argCount)
	if callee.Kind != value.KindObject || !callee.Obj.IsCallable() {
		return diag.NewUnsupportedType(fmt.Sprintf("can only call functions and classes; got `%s`", callee.TypeName()), sp)
	}

	switch callee.Obj.Kind {
	case value.ObjClosure:
		closure := vm.module.Closures[callee.Obj.Index]
		return vm.call(closure, argCount, sp)
	case value.ObjNative:
		native := vm.module.Natives[callee.Obj.Index]
		if argCount != native.Arity {
			return diag.NewUnsupportedType(fmt.Sprintf("Expected %d arguments, but got %d", native.Arity, argCount), sp)
		}
		start := len(vm.stack) - argCount
		args := append([]value.Value(nil), vm.stack[start:]...)
		result, err := native.Fn(args)
		if err != nil {
			return err
		}
		vm.popTo(start - 1)
		return vm.push(result)
	default:
		return diag.NewUnsupportedType(fmt.Sprintf("can only call functions and classes; got `%s`", callee.TypeName()), sp)
	}
}

func (vm *VM) call(closure *module.Closure, argCount int, sp span.Span) error {
	fn := vm.module.Functions[closure.FunctionIndex]
	if argCount != fn.Arity {
		return diag.NewUnsupportedType(fmt.Sprintf("Expected %d arguments, but got %d", fn.Arity, argCount), sp)
	}
	if len(vm.frames) == FramesMax {
		return diag.NewStackOverflowRT(sp)
	}
	start := len(vm.stack) - argCount - 1
	vm.frames = append(vm.frames, CallFrame{Closure: closure, Function: fn, Ip: 0, Start: start})
	return nil
}

// --- arithmetic -----------------------------------------------------------

func (vm *VM) add(sp span.Span) error {
	b := vm.pop()
	a := vm.pop()
	switch {
	case a.Kind == value.KindNumber && b.Kind == value.KindNumber:
		return vm.push(value.Number(a.Num + b.Num))
	case a.Kind == value.KindObject && a.Obj.Kind == value.ObjString:
		concatenated := a.Obj.Str + b.String()
		obj := vm.module.Intern(concatenated)
		return vm.push(value.FromObject(obj))
	default:
		return diag.NewUnsupportedType(fmt.Sprintf(
			"binary `+` operator can only operate over two numbers or strings; got `%s` and `%s`",
			a.TypeName(), b.TypeName(),
		), sp)
	}
}

func (vm *VM) divide(sp span.Span) error {
	b := vm.pop()
	a := vm.pop()
	if a.Kind != value.KindNumber || b.Kind != value.KindNumber {
		return diag.NewUnsupportedType(fmt.Sprintf(
			"binary `/` operator can only operate over two numbers; got `%s` and `%s`",
			a.TypeName(), b.TypeName(),
		), sp)
	}
	if b.Num == 0 {
		vm.warn(diag.NewZeroDivision(sp))
	}
	return vm.push(value.Number(a.Num / b.Num))
}

func (vm *VM) numBinOp(sp span.Span, symbol string, op func(a, b float64) float64) error {
	b := vm.pop()
	a := vm.pop()
	if a.Kind != value.KindNumber || b.Kind != value.KindNumber {
		return diag.NewUnsupportedType(fmt.Sprintf(
			"binary `%s` operator can only operate over two numbers; got `%s` and `%s`",
			symbol, a.TypeName(), b.TypeName(),
		), sp)
	}
	return vm.push(value.Number(op(a.Num, b.Num)))
}

func (vm *VM) cmpBinOp(sp span.Span, symbol string, op func(a, b float64) bool) error {
	b := vm.pop()
	a := vm.pop()
	if a.Kind != value.KindNumber || b.Kind != value.KindNumber {
		return diag.NewUnsupportedType(fmt.Sprintf(
			"binary `%s` operator can only compare two numbers; got `%s` and `%s`",
			symbol, a.TypeName(), b.TypeName(),
		), sp)
	}
	return vm.push(value.Boolean(op(a.Num, b.Num)))
}

func (vm *VM) warn(d diag.Diagnostic) {
	if vm.OnWarning != nil {
		vm.OnWarning(d)
	}
}

// --- stack primitives -------------------------------------------------------

func (vm *VM) push(v value.Value) error {
	if len(vm.stack) >= StackMax {
		return diag.NewStackOverflowRT(vm.lastSpan)
	}
	vm.stack = append(vm.stack, v)
	return nil
}

func (vm *VM) pop() value.Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) popN(n int) {
	vm.stack = vm.stack[:len(vm.stack)-n]
}

func (vm *VM) popTo(n int) {
	vm.stack = vm.stack[:n]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[len(vm.stack)-1-distance]
}
