// Package disasm defines the x86-64 instruction view consumed by gadget
// discovery and chain synthesis, and decodes raw code into it.
package disasm

import (
	"golang.org/x/arch/x86/x86asm"
)

// Mode is the only pointer width supported.
const Mode = 64

// Class is the closed set of instruction kinds gadget discovery cares about.
type Class int

const (
	ClassOther Class = iota
	ClassPop
	ClassLeave
	ClassRet
	ClassFarRet
	ClassMov
	ClassAdd
	ClassSub
	ClassInt
	ClassSyscall
)

func (c Class) String() string {
	switch c {
	case ClassPop:
		return "pop"
	case ClassLeave:
		return "leave"
	case ClassRet:
		return "ret"
	case ClassFarRet:
		return "retf"
	case ClassMov:
		return "mov"
	case ClassAdd:
		return "add"
	case ClassSub:
		return "sub"
	case ClassInt:
		return "int"
	case ClassSyscall:
		return "syscall"
	default:
		return "other"
	}
}

// OperandKind describes what an operand refers to.
type OperandKind int

const (
	OperandNone OperandKind = iota
	OperandReg
	OperandMem
	OperandImm
)

// Operand is a simplified x86asm argument.
type Operand struct {
	Kind OperandKind
	Reg  x86asm.Reg // register operand

	// Memory operand fields.
	Base    x86asm.Reg
	Index   x86asm.Reg
	Scale   uint8
	Segment x86asm.Reg
	Disp    int64

	Imm int64
}

// Inst is a simplified decoded instruction.
type Inst struct {
	VA    uint64     // virtual address of instruction
	Len   int        // encoded length in bytes
	Raw   []byte     // raw encoding
	Text  string     // Intel syntax disassembly
	Op    x86asm.Op  // decoder opcode
	Class Class      // gadget class
	Args  [2]Operand // first two operands in Intel order
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Reg returns the destination register of a register Pop, or 0.
func (i Inst) Reg() x86asm.Reg {
	if i.Args[0].Kind != OperandReg {
		return 0
	}
	return i.Args[0].Reg
}

// IsPopOf reports whether i pops a full 64-bit stack slot into reg.
func (i Inst) IsPopOf(reg x86asm.Reg) bool {
	return i.Class == ClassPop && i.Args[0].Kind == OperandReg && i.Args[0].Reg == reg
}

// IsRet reports whether i is a near or far return.
func (i Inst) IsRet() bool {
	return i.Class == ClassRet || i.Class == ClassFarRet
}

// IsNearRet reports whether i is a near ret without an immediate, which
// pops the return address and nothing else.
func (i Inst) IsNearRet() bool {
	return i.Class == ClassRet && i.Args[0].Kind == OperandNone
}

// Is64 reports whether reg is one of the sixteen 64-bit general purpose registers.
func Is64(reg x86asm.Reg) bool {
	return reg >= x86asm.RAX && reg <= x86asm.R15
}

// Allowed reports whether c may appear inside a gadget.
func Allowed(c Class) bool {
	switch c {
	case ClassPop, ClassLeave, ClassRet, ClassFarRet, ClassMov,
		ClassAdd, ClassSub, ClassInt, ClassSyscall:
		return true
	case ClassOther:
		return false
	}
	return false
}

func classify(op x86asm.Op) Class {
	switch op {
	case x86asm.POP:
		return ClassPop
	case x86asm.LEAVE:
		return ClassLeave
	case x86asm.RET:
		return ClassRet
	case x86asm.LRET:
		return ClassFarRet
	case x86asm.MOV:
		return ClassMov
	case x86asm.ADD:
		return ClassAdd
	case x86asm.SUB:
		return ClassSub
	case x86asm.INT:
		return ClassInt
	case x86asm.SYSCALL:
		return ClassSyscall
	default:
		return ClassOther
	}
}

func operand(arg x86asm.Arg) Operand {
	switch a := arg.(type) {
	case x86asm.Reg:
		return Operand{Kind: OperandReg, Reg: a}
	case x86asm.Mem:
		return Operand{
			Kind:    OperandMem,
			Base:    a.Base,
			Index:   a.Index,
			Scale:   a.Scale,
			Segment: a.Segment,
			Disp:    a.Disp,
		}
	case x86asm.Imm:
		return Operand{Kind: OperandImm, Imm: int64(a)}
	default:
		return Operand{}
	}
}

// DecodeOne decodes the single instruction at the start of code, located at va.
func DecodeOne(code []byte, va uint64) (Inst, error) {
	inst, err := x86asm.Decode(code, Mode)
	if err != nil {
		return Inst{}, err
	}

	raw := make([]byte, inst.Len)
	copy(raw, code[:inst.Len])

	return Inst{
		VA:    va,
		Len:   inst.Len,
		Raw:   raw,
		Text:  x86asm.IntelSyntax(inst, va, nil),
		Op:    inst.Op,
		Class: classify(inst.Op),
		Args:  [2]Operand{operand(inst.Args[0]), operand(inst.Args[1])},
	}, nil
}

// Decode linearly disassembles code mapped at va. Bytes that do not decode
// become one-byte ClassOther instructions so they break any gadget spanning
// them without stopping the sweep.
func Decode(code []byte, va uint64) Stream {
	var stream Stream
	for off := 0; off < len(code); {
		inst, err := DecodeOne(code[off:], va+uint64(off))
		if err != nil {
			stream = append(stream, Inst{
				VA:   va + uint64(off),
				Len:  1,
				Raw:  []byte{code[off]},
				Text: "(bad)",
			})
			off++
			continue
		}
		stream = append(stream, inst)
		off += inst.Len
	}
	return stream
}
