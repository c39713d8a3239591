// Package gadget discovers return-terminated instruction sequences in
// decoded x86-64 code.
//
// A Gadget stores its instructions from the terminating return (index 0)
// backward to the earliest compatible instruction. Jumping to the address of
// the instruction at index i executes instructions i, i-1, ..., 0, so one
// maximal gadget per return site also describes every shorter suffix of it.
// Searches index into those suffixes through Suffix instead of storing each
// one separately.
package gadget

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"ropgen/internal/disasm"
)

// MinLen is the smallest usable gadget: one effect followed by a return.
const MinLen = 2

// Gadget is an immutable return-terminated instruction sequence.
type Gadget struct {
	Insts []disasm.Inst
}

// Len returns the number of instructions in g.
func (g Gadget) Len() int {
	return len(g.Insts)
}

// Addr returns the entry address of g.
func (g Gadget) Addr() uint64 {
	if len(g.Insts) == 0 {
		return 0
	}
	return g.Insts[len(g.Insts)-1].VA
}

// Suffix returns a copy of g entered at instruction i, holding
// instructions 0..i.
func (g Gadget) Suffix(i int) Gadget {
	insts := make([]disasm.Inst, i+1)
	copy(insts, g.Insts[:i+1])
	return Gadget{Insts: insts}
}

// Instructions returns the disassembly of g in execution order.
func (g Gadget) Instructions() []string {
	out := make([]string, 0, len(g.Insts))
	for i := len(g.Insts) - 1; i >= 0; i-- {
		out = append(out, g.Insts[i].Text)
	}
	return out
}

// String renders g as "0x<entry>: inst ; inst ;" in execution order.
func (g Gadget) String() string {
	if len(g.Insts) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "0x%x:", g.Addr())
	for _, text := range g.Instructions() {
		b.WriteString(" ")
		b.WriteString(text)
		b.WriteString(" ;")
	}
	return b.String()
}

// Find returns every gadget in stream. Each return instruction yields at most
// one maximal gadget plus any pop r15 alias gadgets found while walking back
// from it. Return sites that produce nothing are skipped.
func Find(stream disasm.Stream) []Gadget {
	var gadgets []Gadget
	for i, inst := range stream {
		if !inst.IsRet() {
			continue
		}
		gadgets = append(gadgets, build(stream, i)...)
	}
	return gadgets
}

// build walks backward from the return at position and collects the maximal
// run of allowed instructions preceding it.
func build(stream disasm.Stream, position int) []Gadget {
	var res []Gadget
	var insts []disasm.Inst

	for i := position; i >= 0; i-- {
		inst := stream[i]
		if !disasm.Allowed(inst.Class) {
			break
		}

		if inst.IsPopOf(x86asm.R15) {
			if alias, ok := aliasPopRDI(inst); ok {
				aliased := make([]disasm.Inst, len(insts), len(insts)+1)
				copy(aliased, insts)
				res = append(res, Gadget{Insts: append(aliased, alias)})
			}
		}

		insts = append(insts, inst)
	}

	if len(insts) >= MinLen {
		res = append(res, Gadget{Insts: insts})
	}
	return res
}

// aliasPopRDI returns the pop rdi hidden inside a pop r15 encoding. pop r15
// is a REX.B prefix followed by the pop rdi opcode, so decoding from the end
// of the prefix bytes yields an independent instruction that a linear sweep
// never sees.
func aliasPopRDI(inst disasm.Inst) (disasm.Inst, bool) {
	off := prefixLen(inst.Raw)
	if off == 0 || off >= len(inst.Raw) {
		return disasm.Inst{}, false
	}

	alias, err := disasm.DecodeOne(inst.Raw[off:], inst.VA+uint64(off))
	if err != nil || !alias.IsPopOf(x86asm.RDI) {
		return disasm.Inst{}, false
	}
	return alias, true
}

// prefixLen counts the legacy and REX prefix bytes at the start of raw.
func prefixLen(raw []byte) int {
	n := 0
	for n < len(raw) {
		b := raw[n]
		switch {
		case b >= 0x40 && b <= 0x4f:
		case b == 0x66, b == 0x67, b == 0xf0, b == 0xf2, b == 0xf3,
			b == 0x2e, b == 0x36, b == 0x3e, b == 0x26, b == 0x64, b == 0x65:
		default:
			return n
		}
		n++
	}
	return n
}
