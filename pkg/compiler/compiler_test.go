package compiler

import (
	"math"
	"strings"
	"testing"

	"loxvm/pkg/bytecode"
	"loxvm/pkg/diag"
	"loxvm/pkg/module"
	"loxvm/pkg/span"
	"loxvm/pkg/value"
)

func compileOK(t *testing.T, src string) *module.Module {
	t.Helper()
	mod := module.New()
	_, diags := Compile(src, mod)
	for _, d := range diags {
		if d.Level() == diag.LevelError {
			t.Fatalf("unexpected compile error for %q: %s", src, diag.Report(d))
		}
	}
	return mod
}

func compileErrors(t *testing.T, src string) []diag.Diagnostic {
	t.Helper()
	mod := module.New()
	_, diags := Compile(src, mod)
	var errs []diag.Diagnostic
	for _, d := range diags {
		if d.Level() == diag.LevelError {
			errs = append(errs, d)
		}
	}
	return errs
}

func TestCompileArithmeticEmitsConstantsAndOperators(t *testing.T) {
	mod := compileOK(t, "print 1 + 2;")
	fn := mod.Functions[0]
	if fn.Chunk.Len() == 0 {
		t.Fatal("expected a non-empty chunk")
	}
}

func TestTwoHundredFiftyFiveParametersOK(t *testing.T) {
	var params strings.Builder
	for i := 0; i < 255; i++ {
		if i > 0 {
			params.WriteString(", ")
		}
		params.WriteString("p")
		params.WriteString(strings.Repeat("x", 0))
		params.WriteString(itoa(i))
	}
	src := "fun f(" + params.String() + ") { return 0; }"
	compileOK(t, src)
}

func TestTwoHundredFiftySixParametersIsCompileError(t *testing.T) {
	var params strings.Builder
	for i := 0; i < 256; i++ {
		if i > 0 {
			params.WriteString(", ")
		}
		params.WriteString("p")
		params.WriteString(itoa(i))
	}
	src := "fun f(" + params.String() + ") { return 0; }"
	errs := compileErrors(t, src)
	if len(errs) == 0 {
		t.Fatal("expected a compile error for 256 parameters")
	}
}

func TestTwoHundredFiftyFiveArgumentsOK(t *testing.T) {
	var args strings.Builder
	for i := 0; i < 255; i++ {
		if i > 0 {
			args.WriteString(", ")
		}
		args.WriteString(itoa(i))
	}
	src := "fun f() { return 0; } f(" + args.String() + ");"
	compileOK(t, src)
}

func TestTwoHundredFiftySixArgumentsIsCompileError(t *testing.T) {
	var args strings.Builder
	for i := 0; i < 256; i++ {
		if i > 0 {
			args.WriteString(", ")
		}
		args.WriteString(itoa(i))
	}
	src := "fun f() { return 0; } f(" + args.String() + ");"
	errs := compileErrors(t, src)
	if len(errs) == 0 {
		t.Fatal("expected a compile error for 256 arguments")
	}
}

// A function's own locals slice always carries one reserved entry for its
// callee slot (slot 0), so maxLocals (512) admits 511 user-declared locals
// per function, not 512 — see newFnCompiler.
func TestFiveHundredElevenLocalsOK(t *testing.T) {
	var b strings.Builder
	b.WriteString("fun f() {\n")
	for i := 0; i < 511; i++ {
		b.WriteString("var v")
		b.WriteString(itoa(i))
		b.WriteString(" = 0;\n")
	}
	b.WriteString("}")
	compileOK(t, b.String())
}

func TestFiveHundredTwelveLocalsIsCompileError(t *testing.T) {
	var b strings.Builder
	b.WriteString("fun f() {\n")
	for i := 0; i < 512; i++ {
		b.WriteString("var v")
		b.WriteString(itoa(i))
		b.WriteString(" = 0;\n")
	}
	b.WriteString("}")
	errs := compileErrors(t, b.String())
	if len(errs) == 0 {
		t.Fatal("expected a compile error for 512 locals")
	}
}

func TestForwardJumpAtMaxIsOK(t *testing.T) {
	var b strings.Builder
	b.WriteString("fun f() { if (true) {\n")
	for i := 0; i < 16383; i++ {
		b.WriteString("1 + 1;\n")
	}
	b.WriteString("} }")
	// Each `1 + 1;` compiles to four instructions, so the `if`'s forward
	// jump spans the leading Pop, 65532 body instructions, and the else
	// Jump: 65534, one under maxJumpMag. The oversized side of the
	// boundary is covered directly by TestPatchJumpRejectsOversizedJump
	// below.
	compileOK(t, b.String())
}

func TestPatchJumpRejectsOversizedJump(t *testing.T) {
	mod := module.New()
	fn := &module.Function{Name: "<script>", Chunk: bytecode.NewChunk("<script>")}
	idx := mod.PushFunction(fn)
	p := &Parser{fc: newFnCompiler(nil, fn, idx, funcTypeScript), module: mod}

	offset := p.emitJump(bytecode.OpJump, span.Span{})
	// Fabricate an oversized gap by writing maxJumpMag+1 filler instructions.
	for i := 0; i < maxJumpMag+1; i++ {
		p.emit(bytecode.Ins{Op: bytecode.OpNil}, span.Span{})
	}
	p.patchJump(offset, span.Span{})

	foundError := false
	for _, d := range p.diags {
		if d.Level() == diag.LevelError {
			foundError = true
		}
	}
	if !foundError {
		t.Fatal("expected patchJump to report a compile error for an oversized jump")
	}
}

func TestSelfReferentialInitializerIsCompileError(t *testing.T) {
	errs := compileErrors(t, "{ var a = a; }")
	if len(errs) == 0 {
		t.Fatal("expected a compile error for `var a = a;`")
	}
}

func TestTopLevelReturnIsWarningNotError(t *testing.T) {
	mod := module.New()
	_, diags := Compile("return 1;", mod)
	for _, d := range diags {
		if d.Level() == diag.LevelError {
			t.Fatalf("top-level return should warn, not error: %s", diag.Report(d))
		}
	}
	found := false
	for _, d := range diags {
		if d.Level() == diag.LevelWarning {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a warning diagnostic for top-level return")
	}
}

func TestSequenceOperatorCompilesBothOperands(t *testing.T) {
	mod := compileOK(t, "1, 2;")
	fn := mod.Functions[0]
	foundPop := 0
	for _, ins := range fn.Chunk.Code {
		if ins.Op == bytecode.OpPop {
			foundPop++
		}
	}
	// One Pop discards the sequence's left operand, a second discards the
	// whole expression statement's result.
	if foundPop != 2 {
		t.Fatalf("expected 2 Pop instructions for `1, 2;`, got %d", foundPop)
	}
}

func TestSequenceOperatorDoesNotConsumeCallArguments(t *testing.T) {
	compileOK(t, "fun f(a, b) { return a + b; } f(1, 2);")
}

func TestBareNaNIdentifierReadsAsNumberConstant(t *testing.T) {
	mod := compileOK(t, "print NaN;")
	fn := mod.Functions[0]
	foundConstant := false
	for _, ins := range fn.Chunk.Code {
		if ins.Op == bytecode.OpConstant && ins.Const.Kind == value.KindNumber && math.IsNaN(ins.Const.Num) {
			foundConstant = true
		}
		if ins.Op == bytecode.OpGetGlobal && ins.Name == "NaN" {
			t.Fatal("bare `NaN` should not compile to a global lookup")
		}
	}
	if !foundConstant {
		t.Fatal("expected `NaN` to compile to a Number(NaN) constant")
	}
}

func TestPanicModeRecoversAtNextStatement(t *testing.T) {
	// A missing semicolon triggers one error; the parser should then
	// recover at the next statement boundary (the second `var`) rather
	// than cascading into a wall of further errors.
	errs := compileErrors(t, "var a = 1 var b = 2;")
	if len(errs) == 0 {
		t.Fatal("expected at least one compile error")
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
