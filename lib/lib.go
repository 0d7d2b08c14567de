// Package lib is the user-mode library that implements fork with
// copy-on-write sharing. It reads the calling environment's page tables
// through the read-only mapping at mm.UVPT, runs page faults on a dedicated
// exception stack through an upcall trampoline and resolves write faults on
// copy-on-write pages by copying the page into a fresh private frame.
package lib

import (
	"gopherjos/abi"
	"gopherjos/kernel"
)

var (
	// ErrNoPageTable is returned by the page table view when no page table
	// covers the requested address.
	ErrNoPageTable = &kernel.Error{Module: "lib", Message: "page table does not exist"}

	// ErrNotWriteFault is the reason a fault other than a write is refused
	// by the copy-on-write handler.
	ErrNotWriteFault = &kernel.Error{Module: "lib", Message: "faulting access was not a write"}

	// ErrNotCopyOnWrite is the reason a write fault on a page that is not
	// copy-on-write is refused by the copy-on-write handler.
	ErrNotCopyOnWrite = &kernel.Error{Module: "lib", Message: "faulting page is not copy-on-write"}

	// ErrNilHandler is the reason passing a nil handler to
	// SetFaultHandler is fatal.
	ErrNilHandler = &kernel.Error{Module: "lib", Message: "fault handler must not be nil"}

	// ErrNoHandler is the reason a fault delivered to a process without a
	// handler is fatal.
	ErrNoHandler = &kernel.Error{Module: "lib", Message: "page fault with no handler installed"}
)

// Syscalls is the kernel interface used by the library. Environment ids of 0
// name the caller.
type Syscalls interface {
	GetEnvID() abi.EnvID
	PageAlloc(env abi.EnvID, va uintptr, perm abi.PTE) error
	PageMap(srcEnv abi.EnvID, srcVA uintptr, dstEnv abi.EnvID, dstVA uintptr, perm abi.PTE) error
	PageUnmap(env abi.EnvID, va uintptr) error
	Exofork() (abi.EnvID, error)
	EnvSetPgfaultUpcall(env abi.EnvID, upcall abi.Upcall) error
	EnvSetStatus(env abi.EnvID, status abi.EnvStatus) error
	EnvDestroy(env abi.EnvID) error
	Yield()
	Cputs(s string)
}

// Machine is an executing environment together with the syscalls it may
// issue.
type Machine interface {
	abi.CPU
	Syscalls
}
