package vm

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"loxvm/pkg/compiler"
	"loxvm/pkg/diag"
	"loxvm/pkg/module"
	"loxvm/pkg/value"
)

// runSource compiles and runs src on a fresh VM, capturing everything
// written to stdout by `print` statements. It fails the test outright on
// any compile error, since these tests exercise runtime behavior.
func runSource(t *testing.T, src string) (*VM, string, error) {
	t.Helper()
	mod := module.New()
	fnIndex, diags := compiler.Compile(src, mod)
	for _, d := range diags {
		if d.Level() == diag.LevelError {
			t.Fatalf("unexpected compile error: %s", diag.Report(d))
		}
	}

	machine := New(mod)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	old := os.Stdout
	os.Stdout = w
	runErr := machine.Run(fnIndex)
	os.Stdout = old
	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)

	return machine, buf.String(), runErr
}

func TestPrintArithmetic(t *testing.T) {
	_, out, err := runSource(t, `print 1 + 2;`)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if strings.TrimSpace(out) != "3" {
		t.Errorf("expected %q, got %q", "3", out)
	}
}

func TestPrintStringConcat(t *testing.T) {
	_, out, err := runSource(t, `var a = "foo"; var b = "bar"; print a + b;`)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if strings.TrimSpace(out) != "foobar" {
		t.Errorf("expected %q, got %q", "foobar", out)
	}
}

func TestWhileLoopPrintsEachIteration(t *testing.T) {
	_, out, err := runSource(t, `var i = 0; while (i < 3) { print i; i = i + 1; }`)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	lines := strings.Fields(out)
	want := []string{"0", "1", "2"}
	if len(lines) != len(want) {
		t.Fatalf("expected %v, got %v", want, lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestClosureCapturesOuterAfterReturn(t *testing.T) {
	src := `
fun outer() {
  var x = "outside";
  fun inner() { print x; }
  x = "changed";
  return inner;
}
var c = outer();
c();
`
	_, out, err := runSource(t, src)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if strings.TrimSpace(out) != "changed" {
		t.Errorf("expected %q, got %q", "changed", out)
	}
}

func TestMultipleClosuresShareCapturedState(t *testing.T) {
	src := `
var globalSet; var globalGet;
fun main() {
  var a = "initial";
  fun set() { a = "updated"; }
  fun get() { print a; }
  globalSet = set; globalGet = get;
}
main(); globalSet(); globalGet();
`
	_, out, err := runSource(t, src)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if strings.TrimSpace(out) != "updated" {
		t.Errorf("expected %q, got %q", "updated", out)
	}
}

func TestArityMismatchProducesStackTrace(t *testing.T) {
	src := `fun a(){ b(); } fun b(){ c(); } fun c(){ c("too","many"); } a();`
	machine, _, err := runSource(t, src)
	if err == nil {
		t.Fatal("expected a runtime error")
	}
	trace := machine.LastTrace()
	if len(trace) != 3 {
		t.Fatalf("expected a three-line stack trace, got %v", trace)
	}
	names := []string{"c", "b", "a"}
	for i, name := range names {
		if !strings.Contains(trace[i], name) {
			t.Errorf("trace line %d = %q, want it to mention %q", i, trace[i], name)
		}
	}
}

func TestDivisionByZeroWarnsAndContinues(t *testing.T) {
	mod := module.New()
	fnIndex, diags := compiler.Compile(`var x = 1 / 0;`, mod)
	for _, d := range diags {
		if d.Level() == diag.LevelError {
			t.Fatalf("unexpected compile error: %s", diag.Report(d))
		}
	}

	machine := New(mod)
	var warnings []diag.Diagnostic
	machine.OnWarning = func(d diag.Diagnostic) { warnings = append(warnings, d) }

	if err := machine.Run(fnIndex); err != nil {
		t.Fatalf("run error: %v", err)
	}
	if len(warnings) != 1 || warnings[0].Level() != diag.LevelWarning {
		t.Fatalf("expected exactly one warning, got %v", warnings)
	}

	got, ok := machine.Global("x")
	if !ok {
		t.Fatal("expected global x to be defined")
	}
	if !strings.Contains(got.String(), "inf") {
		t.Errorf("expected IEEE infinity, got %v", got)
	}
}

// A recursive f(n) pushes one frame per call on top of the script's own
// frame, so f(N) reaches a depth of N+2 live frames (script + N+1 calls
// down to the base case). With FramesMax == 64, f(62) peaks at exactly 64
// frames and succeeds; f(63) would need a 65th, and overflows instead.
func TestDeepRecursionWithinFrameLimitSucceeds(t *testing.T) {
	_, out, err := runSource(t, "fun f(n) { if (n == 0) return 0; return f(n - 1); } print f(62);")
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if strings.TrimSpace(out) != "0" {
		t.Errorf("expected %q, got %q", "0", out)
	}
}

func TestDeeperRecursionOverflowsFrameLimit(t *testing.T) {
	_, _, err := runSource(t, "fun f(n) { if (n == 0) return 0; return f(n - 1); } print f(63);")
	if err == nil {
		t.Fatal("expected a stack overflow")
	}
	rt, ok := err.(*diag.RuntimeError)
	if !ok {
		t.Fatalf("expected a *diag.RuntimeError, got %T", err)
	}
	if !strings.Contains(rt.Error(), "overflow") {
		t.Errorf("expected a stack overflow error, got %v", rt)
	}
}

func TestSequenceOperatorEvaluatesBothKeepsRight(t *testing.T) {
	_, out, err := runSource(t, `print (1, 2, 3);`)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if strings.TrimSpace(out) != "3" {
		t.Errorf("expected %q, got %q", "3", out)
	}
}

func TestBareNaNIdentifierIsRuntimeNumberNaN(t *testing.T) {
	_, out, err := runSource(t, `print NaN;`)
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	if strings.TrimSpace(out) != "NaN" {
		t.Errorf("expected %q, got %q", "NaN", out)
	}
}

func TestDefineGlobalAndGlobalHelper(t *testing.T) {
	mod := module.New()
	machine := New(mod)
	machine.DefineGlobal("answer", value.Number(42))
	got, ok := machine.Global("answer")
	if !ok || got.Num != 42 {
		t.Fatalf("expected answer=42, got %v %v", got, ok)
	}
}
