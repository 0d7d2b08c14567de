package abi

// Memory is the address space of the executing environment as seen through
// its page tables. Accesses that violate the current page permissions raise a
// page fault which the kernel delivers to the environment's upcall before the
// access is retried. An access the kernel cannot resolve destroys the
// environment and never returns.
type Memory interface {
	Load(va uintptr, dst []byte)
	Store(va uintptr, src []byte)
}

// CPU is the view of an executing environment that user-mode code is given.
type CPU interface {
	Memory

	// Registers returns the live register file of the environment.
	Registers() *Trapframe

	// Local returns the user-mode library state attached to this
	// environment; it plays the role of the library's data segment.
	Local() any

	// SetLocal attaches user-mode library state to this environment.
	SetLocal(v any)
}

// Upcall is a user-mode entry point the kernel invokes to deliver a page
// fault. On entry the stack pointer addresses the UTrapframe describing the
// fault; the upcall must leave the registers as they were at trap time.
type Upcall func(cpu CPU)
