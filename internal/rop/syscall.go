package rop

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"ropgen/internal/disasm"
	"ropgen/internal/gadget"
)

// x86-64 Linux syscall convention.
//
// ARCH  NR   ARG0  ARG1  ARG2  ARG3  ARG4  ARG5
// x64   rax  rdi   rsi   rdx   r10   r8    r9
var (
	SyscallNumber = x86asm.RAX
	SyscallArgs   = [...]x86asm.Reg{x86asm.RDI, x86asm.RSI, x86asm.RDX, x86asm.R10, x86asm.R8, x86asm.R9}
)

// FindSyscall returns the first chainable gadget whose instruction at index
// 1 is syscall, entered at that instruction.
func FindSyscall(pool gadget.Pool) (gadget.Gadget, bool) {
	i := pool.FindFunc(func(g gadget.Gadget) bool {
		return chainable(g) && g.Insts[1].Class == disasm.ClassSyscall
	})
	if i < 0 {
		return gadget.Gadget{}, false
	}
	return pool[i].Suffix(1), true
}

// Syscall returns a chain loading rax with number and the argument registers
// with args, in convention order, followed by a syscall gadget. Any register
// that cannot be loaded fails the whole call.
func Syscall(pool gadget.Pool, number uint64, args ...uint64) (Chain, error) {
	if len(pool) == 0 {
		return nil, ErrInsufficientPool
	}
	if len(args) > len(SyscallArgs) {
		return nil, fmt.Errorf("%d arguments: %w", len(args), ErrTooManyArgs)
	}

	regs := append([]x86asm.Reg{SyscallNumber}, SyscallArgs[:len(args)]...)
	values := append([]uint64{number}, args...)

	var chain Chain
	for i, reg := range regs {
		load, err := pop(pool, reg, values[i], regs[:i])
		if err != nil {
			return nil, err
		}
		chain = append(chain, load...)
	}

	sc, ok := FindSyscall(pool)
	if !ok {
		return nil, fmt.Errorf("cannot find syscall gadget: %w", ErrPrimitiveUnavailable)
	}
	return append(chain, FromGadget(sc)), nil
}
