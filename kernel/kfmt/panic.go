package kfmt

import (
	"gopherjos/kernel"
)

// Halt is the value the simulated CPU unwinds the calling goroutine with
// after a kernel panic.
type Halt struct {
	Err *kernel.Error
}

// Error implements the error interface.
func (h *Halt) Error() string {
	return "kernel panic: " + h.Err.Error()
}

// Unwrap returns the error that caused the panic.
func (h *Halt) Unwrap() error {
	return h.Err
}

var (
	// cpuHaltFn is mocked by tests.
	cpuHaltFn = func(err *kernel.Error) { panic(&Halt{Err: err}) }

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) and halts the simulated CPU.
// Calls to Panic never return unless cpuHaltFn has been replaced.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	default:
		err = errRuntimePanic
	}

	entry := ForModule(err.Module)
	entry.Error("-----------------------------------")
	entry.Errorf("[%s] unrecoverable error: %s", err.Module, err.Message)
	entry.Error("*** kernel panic: system halted ***")
	entry.Error("-----------------------------------")

	cpuHaltFn(err)
}
