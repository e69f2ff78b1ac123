// Package natives registers the host functions every Module starts with:
// clock, type, and str. These are ordinary module.Native entries, bound as
// globals the same way the compiler's OpDefGlobal would bind a user
// function — Attach just does it ahead of time, before any user code runs.
package natives

import (
	"time"

	"loxvm/pkg/module"
	"loxvm/pkg/value"
)

// vmGlobal is the minimal surface Attach needs from a *vm.VM, avoiding an
// import cycle between pkg/vm and pkg/natives.
type vmGlobal interface {
	DefineGlobal(name string, v value.Value)
}

// Attach registers every host native into mod and binds it as a global in
// vm, so user code can call clock(), type(v), and str(v) without any
// declaration of its own.
func Attach(vm vmGlobal, mod *module.Module) {
	register(vm, mod, "clock", 0, clock)
	register(vm, mod, "type", 1, typeOf(mod))
	register(vm, mod, "str", 1, str(mod))
}

func register(vm vmGlobal, mod *module.Module, name string, arity int, fn module.NativeFn) {
	n := &module.Native{Name: name, Arity: arity, Fn: fn}
	idx := mod.PushNative(n)
	vm.DefineGlobal(name, value.FromObject(value.NewNative(name, idx)))
}

// clock returns the number of seconds since the Unix epoch, as a float —
// useful for crude timing in scripts since Lox has no other clock access.
func clock(args []value.Value) (value.Value, error) {
	return value.Number(float64(time.Now().UnixNano()) / 1e9), nil
}

// typeOf returns a native that reports its argument's type name as an
// interned string.
func typeOf(mod *module.Module) module.NativeFn {
	return func(args []value.Value) (value.Value, error) {
		return value.FromObject(mod.Intern(args[0].TypeName())), nil
	}
}

// str returns a native that reports its argument's display form as an
// interned string, the same text `print` would write.
func str(mod *module.Module) module.NativeFn {
	return func(args []value.Value) (value.Value, error) {
		return value.FromObject(mod.Intern(args[0].String())), nil
	}
}
