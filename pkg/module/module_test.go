package module

import (
	"testing"

	"loxvm/pkg/bytecode"
	"loxvm/pkg/value"
)

func TestInternReturnsSameHandle(t *testing.T) {
	m := New()
	a := m.Intern("hello")
	b := m.Intern("hello")
	if a != b {
		t.Fatal("Intern must return the identical handle for equal contents")
	}
	c := m.Intern("world")
	if a == c {
		t.Fatal("Intern must return distinct handles for distinct contents")
	}
}

func TestInternedStringsCompareEqualAsValues(t *testing.T) {
	m := New()
	a := value.FromObject(m.Intern("x"))
	b := value.FromObject(m.Intern("x"))
	if !a.Equals(b) {
		t.Fatal("two Values wrapping an interned handle must be equal")
	}
}

func TestPushFunctionReturnsSequentialIndices(t *testing.T) {
	m := New()
	i0 := m.PushFunction(&Function{Name: "a", Chunk: bytecode.NewChunk("a")})
	i1 := m.PushFunction(&Function{Name: "b", Chunk: bytecode.NewChunk("b")})
	if i0 != 0 || i1 != 1 {
		t.Fatalf("expected sequential indices 0,1; got %d,%d", i0, i1)
	}
	if m.Functions[i1].Name != "b" {
		t.Fatalf("unexpected function at index %d: %+v", i1, m.Functions[i1])
	}
}

func TestPushNativeClosureUpvalue(t *testing.T) {
	m := New()
	ni := m.PushNative(&Native{Name: "clock", Arity: 0, Fn: func([]value.Value) (value.Value, error) {
		return value.Number(0), nil
	}})
	ci := m.PushClosure(&Closure{FunctionIndex: 0, Upvalues: []int{0, 1}})
	ui := m.PushUpvalue(&Upvalue{Open: true, StackSlot: 3})
	if ni != 0 || ci != 0 || ui != 0 {
		t.Fatalf("expected first pushes at index 0, got %d %d %d", ni, ci, ui)
	}
	if len(m.Closures[ci].Upvalues) != 2 {
		t.Fatalf("unexpected closure upvalues: %+v", m.Closures[ci])
	}
}

func TestUpvalueOpenReadsThroughStack(t *testing.T) {
	stack := []value.Value{value.Number(1), value.Number(2), value.Number(3)}
	u := &Upvalue{Open: true, StackSlot: 1}
	if got := u.Get(stack); got.Num != 2 {
		t.Fatalf("expected open upvalue to read stack slot, got %v", got)
	}
	u.Set(stack, value.Number(42))
	if stack[1].Num != 42 {
		t.Fatalf("expected open upvalue Set to write through to stack, got %v", stack[1])
	}
}

func TestUpvalueCloseSnapshotsAndDetaches(t *testing.T) {
	stack := []value.Value{value.Number(1), value.Number(2)}
	u := &Upvalue{Open: true, StackSlot: 1}
	u.Close(stack)
	if u.Open {
		t.Fatal("Close must mark the upvalue as no longer open")
	}
	if u.Closed.Num != 2 {
		t.Fatalf("expected Closed snapshot of 2, got %v", u.Closed)
	}
	stack[1] = value.Number(99)
	if got := u.Get(stack); got.Num != 2 {
		t.Fatalf("closed upvalue must not read through to stack anymore, got %v", got)
	}
	u.Set(stack, value.Number(7))
	if u.Closed.Num != 7 {
		t.Fatalf("closed upvalue Set must write to Closed, got %v", u.Closed)
	}
	if stack[1].Num != 99 {
		t.Fatal("closed upvalue Set must not touch the stack")
	}
}
