package abi

import "gopherjos/kernel"

// Errors returned by the kernel's syscall interface.
var (
	ErrBadEnv    = &kernel.Error{Module: "syscall", Message: "bad environment"}
	ErrInval     = &kernel.Error{Module: "syscall", Message: "invalid parameter"}
	ErrNoMem     = &kernel.Error{Module: "syscall", Message: "out of memory"}
	ErrNoFreeEnv = &kernel.Error{Module: "syscall", Message: "out of environments"}
)
