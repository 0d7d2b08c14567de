// Package kernel contains definitions shared by every layer of the simulated
// machine, from the physical memory allocator up to the user-mode library.
package kernel

// Error describes a kernel or library error. All errors must be defined as
// global variables that are pointers to the Error structure so that callers
// can compare them by identity.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
