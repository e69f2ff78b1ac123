package bytecode

import (
	"fmt"
	"io"
	"strings"
)

// Disassemble writes a human-readable listing of every instruction in the
// chunk to w, one line per instruction, in the form:
//
//	   0000 CONSTANT       1 (line 1)
//
// The optional marker instruction offset is highlighted with a "->"
// prefix instead of two spaces, matching the style of an interactive trace.
func (c *Chunk) Disassemble(w io.Writer, marker int) {
	fmt.Fprintf(w, "== %s ==\n", c.Name)
	for i := range c.Code {
		prefix := "  "
		if i == marker {
			prefix = "->"
		}
		fmt.Fprintf(w, "%s %04d %s\n", prefix, i, c.formatInstruction(i))
	}
}

// FormatAt renders a single instruction the same way Disassemble does,
// without the "== name ==" header or offset prefix — used by the VM's
// optional trace mode to print one line per instruction as it executes.
func (c *Chunk) FormatAt(offset int) string {
	return c.formatInstruction(offset)
}

// formatInstruction renders one instruction and its operand in disassembly
// form, without the offset prefix — shared by Disassemble and FormatAt.
func (c *Chunk) formatInstruction(offset int) string {
	ins, sp, ok := c.Get(offset)
	if !ok {
		return "???"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s", ins.Op.String())
	switch ins.Op {
	case OpConstant:
		fmt.Fprintf(&b, " %s", ins.Const.String())
	case OpDefGlobal, OpGetGlobal, OpSetGlobal:
		fmt.Fprintf(&b, " %s", ins.Name)
	case OpGetLocal, OpSetLocal, OpGetUpval, OpSetUpval, OpCall, OpPopN:
		fmt.Fprintf(&b, " %d", ins.Slot)
	case OpJump, OpJumpIfFalse:
		fmt.Fprintf(&b, " %d -> %d", ins.Slot, offset+1+ins.Slot)
	case OpClosure:
		fmt.Fprintf(&b, " fn#%d (%d captures)", ins.FunctionIndex, len(ins.Captures))
		for _, cap := range ins.Captures {
			if cap.IsLocal {
				fmt.Fprintf(&b, " local:%d", cap.Index)
			} else {
				fmt.Fprintf(&b, " upval:%d", cap.Index)
			}
		}
	}
	fmt.Fprintf(&b, " (line %d)", sp.Line)
	return b.String()
}
