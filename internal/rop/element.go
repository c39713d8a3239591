// Package rop composes gadgets from a discovered pool into return-oriented
// chains: register loads, memory writes and system call invocations.
//
// Every function takes the pool explicitly and never mutates it.
package rop

import (
	"fmt"

	"ropgen/internal/gadget"
)

// Kind distinguishes the two kinds of stack slot in a chain.
type Kind int

const (
	KindImmediate Kind = iota
	KindGadget
)

// Element is one 8-byte slot of a chain.
type Element struct {
	Kind   Kind
	Value  uint64        // resolved stack value
	Gadget gadget.Gadget // set for KindGadget
}

// Immediate returns a data slot holding v.
func Immediate(v uint64) Element {
	return Element{Kind: KindImmediate, Value: v}
}

// FromGadget returns a slot that returns into g at its entry address.
func FromGadget(g gadget.Gadget) Element {
	return Element{Kind: KindGadget, Value: g.Addr(), Gadget: g}
}

// Label returns the disassembly of a gadget slot or the hex value of a data slot.
func (e Element) Label() string {
	if e.Kind == KindGadget {
		return e.Gadget.String()
	}
	return fmt.Sprintf("0x%x", e.Value)
}

func (e Element) String() string {
	return e.Label()
}

// Chain is an ordered list of stack slots, in payload order.
type Chain []Element

// Values returns the raw 8-byte value of each slot.
func (c Chain) Values() []uint64 {
	values := make([]uint64, len(c))
	for i, e := range c {
		values[i] = e.Value
	}
	return values
}
