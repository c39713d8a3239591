package rop

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"ropgen/internal/disasm"
	"ropgen/internal/gadget"
)

// Pop returns the shortest slot sequence that leaves value in reg once the
// chain reaches the next return: the gadget entered at a pop of reg, the
// value that pop consumes, and one zero slot for every further pop executed
// before the return.
//
// Gadgets are tried in pool order and the first match wins.
func Pop(pool gadget.Pool, reg x86asm.Reg, value uint64) (Chain, error) {
	if len(pool) == 0 {
		return nil, ErrInsufficientPool
	}
	return pop(pool, reg, value, nil)
}

// pop is Pop restricted to gadgets whose discarded pops leave every
// register in preserve untouched.
func pop(pool gadget.Pool, reg x86asm.Reg, value uint64, preserve []x86asm.Reg) (Chain, error) {
	for _, g := range pool {
		i, ok := popIndex(g, reg, preserve)
		if !ok {
			continue
		}

		chain := make(Chain, 0, i+1)
		chain = append(chain, FromGadget(g.Suffix(i)), Immediate(value))
		for range i - 1 {
			chain = append(chain, Immediate(0))
		}
		return chain, nil
	}

	return nil, fmt.Errorf("cannot find pop %s: %w", regName(reg), ErrRegisterUnavailable)
}

// popIndex finds the entry index of a pop of reg in g. Only pops of other
// 64-bit registers may sit between that pop and the return; anything else
// ends the search for this gadget. A discarded pop of rsp would move the
// stack off the chain.
func popIndex(g gadget.Gadget, reg x86asm.Reg, preserve []x86asm.Reg) (int, bool) {
	if !chainable(g) {
		return 0, false
	}
	for i := 1; i < len(g.Insts); i++ {
		inst := g.Insts[i]
		if inst.Class != disasm.ClassPop || !disasm.Is64(inst.Reg()) {
			return 0, false
		}
		if inst.Reg() == reg {
			return i, true
		}
		if inst.Reg() == x86asm.RSP {
			return 0, false
		}
		for _, p := range preserve {
			if inst.Reg() == p {
				return 0, false
			}
		}
	}
	return 0, false
}

// chainable reports whether g can be chained: it ends in a plain near ret,
// so the stack holds exactly the slots the chain lays out for it.
func chainable(g gadget.Gadget) bool {
	return g.Len() >= gadget.MinLen && g.Insts[0].IsNearRet()
}

func regName(reg x86asm.Reg) string {
	return strings.ToLower(reg.String())
}
