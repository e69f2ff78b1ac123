package value

import "fmt"

// ObjKind tags which variant of Object is populated.
type ObjKind int

const (
	ObjString ObjKind = iota
	ObjFunction
	ObjNative
	ObjClosure
)

// Object is the heap-allocated half of the Value tagged union: interned
// strings and the three callable handles (Function/Native/Closure), each
// of which is just a name plus an index into the owning Module's
// corresponding registry.
type Object struct {
	Kind ObjKind

	Str string // meaningful for ObjString

	Name  string // meaningful for Function/Native/Closure
	Index int    // index into module.Functions / module.Natives / module.Closures
}

// NewString builds a string object. Callers should route through
// Module.Intern rather than constructing these directly, so that equal
// contents share one handle.
func NewString(s string) *Object { return &Object{Kind: ObjString, Str: s} }

// NewFunction builds a handle referencing module.Functions[index].
func NewFunction(name string, index int) *Object {
	return &Object{Kind: ObjFunction, Name: name, Index: index}
}

// NewNative builds a handle referencing module.Natives[index].
func NewNative(name string, index int) *Object {
	return &Object{Kind: ObjNative, Name: name, Index: index}
}

// NewClosure builds a handle referencing module.Closures[index].
func NewClosure(name string, index int) *Object {
	return &Object{Kind: ObjClosure, Name: name, Index: index}
}

// IsCallable is true for Function, Native, and Closure objects.
func (o *Object) IsCallable() bool {
	switch o.Kind {
	case ObjFunction, ObjNative, ObjClosure:
		return true
	default:
		return false
	}
}

// TypeName returns the canonical type name used in diagnostics.
func (o *Object) TypeName() string {
	switch o.Kind {
	case ObjString:
		return "string"
	case ObjFunction:
		return "function"
	case ObjNative:
		return "native function"
	case ObjClosure:
		return "function"
	default:
		return "object"
	}
}

// String implements the language's display formatting for objects: string
// contents print verbatim, functions and closures print "<fn NAME>", and
// natives print "<native fn NAME>".
func (o *Object) String() string {
	switch o.Kind {
	case ObjString:
		return o.Str
	case ObjFunction, ObjClosure:
		return fmt.Sprintf("<fn %s>", o.Name)
	case ObjNative:
		return fmt.Sprintf("<native fn %s>", o.Name)
	default:
		return "<object>"
	}
}
