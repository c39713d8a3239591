package rop

import (
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"ropgen/internal/disasm"
	"ropgen/internal/gadget"
)

// WordSize is the width of one stack slot and one written data word.
const WordSize = 8

// WriteWhatWhere describes a mov qword [Base], Src ; ret gadget.
type WriteWhatWhere struct {
	Gadget gadget.Gadget // suffix entered at the mov
	Src    x86asm.Reg
	Base   x86asm.Reg
}

// FindWriteWhatWhere returns, in pool order, every gadget whose instruction
// at index 1 stores a 64-bit register through a plain base register and
// then returns with a plain ret. Neither register may be rsp.
func FindWriteWhatWhere(pool gadget.Pool) []WriteWhatWhere {
	var found []WriteWhatWhere
	for _, g := range pool {
		if !chainable(g) {
			continue
		}
		inst := g.Insts[1]
		if inst.Class != disasm.ClassMov {
			continue
		}

		dst, src := inst.Args[0], inst.Args[1]
		if dst.Kind != disasm.OperandMem || src.Kind != disasm.OperandReg {
			continue
		}
		if !disasm.Is64(dst.Base) || dst.Index != 0 || dst.Segment != 0 || dst.Disp != 0 {
			continue
		}
		if !disasm.Is64(src.Reg) || src.Reg == dst.Base {
			continue
		}
		if src.Reg == x86asm.RSP || dst.Base == x86asm.RSP {
			continue
		}

		found = append(found, WriteWhatWhere{
			Gadget: g.Suffix(1),
			Src:    src.Reg,
			Base:   dst.Base,
		})
	}
	return found
}

// WriteData returns a chain storing words consecutively from addr. Each word
// costs a load of the source register, a load of the base register and one
// pass through the write-what-where gadget.
//
// A candidate gadget is only used if every word can be written with it.
func WriteData(pool gadget.Pool, words []uint64, addr uint64) (Chain, error) {
	if len(pool) == 0 {
		return nil, ErrInsufficientPool
	}

	candidates := FindWriteWhatWhere(pool)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("impossible to find the gadgets needed to write bytes: %w", ErrPrimitiveUnavailable)
	}

	var lastErr error
	for _, www := range candidates {
		chain, err := writeWith(pool, www, words, addr)
		if err != nil {
			lastErr = err
			continue
		}
		return chain, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrUnresolvedWord, lastErr)
}

func writeWith(pool gadget.Pool, www WriteWhatWhere, words []uint64, addr uint64) (Chain, error) {
	var chain Chain
	for i, word := range words {
		target := addr + uint64(i)*WordSize

		loadSrc, err := pop(pool, www.Src, word, nil)
		if err != nil {
			return nil, fmt.Errorf("word %d via %s: %w", i, www.Gadget, err)
		}
		loadBase, err := pop(pool, www.Base, target, []x86asm.Reg{www.Src})
		if err != nil {
			return nil, fmt.Errorf("word %d via %s: %w", i, www.Gadget, err)
		}

		chain = append(chain, loadSrc...)
		chain = append(chain, loadBase...)
		chain = append(chain, FromGadget(www.Gadget))
	}
	if len(chain) == 0 {
		return nil, errors.New("nothing to write")
	}
	return chain, nil
}
