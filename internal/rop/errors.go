package rop

import (
	"errors"
)

var (
	// ErrInsufficientPool is returned when synthesis is asked to work on an empty pool.
	ErrInsufficientPool = errors.New("not enough gadgets to generate ropchain")

	// ErrRegisterUnavailable is returned when no gadget can load a register.
	ErrRegisterUnavailable = errors.New("register unavailable")

	// ErrPrimitiveUnavailable is returned when no write-what-where or
	// syscall gadget exists.
	ErrPrimitiveUnavailable = errors.New("primitive unavailable")

	// ErrUnresolvedWord is returned when write-what-where gadgets exist but
	// the registers they need cannot be loaded for every word.
	ErrUnresolvedWord = errors.New("unresolved data word")

	// ErrTooManyArgs is returned for syscalls with more than six arguments.
	ErrTooManyArgs = errors.New("too many syscall arguments")
)
