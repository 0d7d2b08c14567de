package env

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopherjos/abi"
	"gopherjos/kernel"
	"gopherjos/kernel/mm"
)

var (
	// ErrNoUpcall is the reason an environment that faults without a
	// registered upcall is destroyed.
	ErrNoUpcall = &kernel.Error{Module: "trap", Message: "no page fault upcall registered"}

	// ErrExceptionStackOverflow is the reason an environment whose nested
	// faults run off the exception stack is destroyed.
	ErrExceptionStackOverflow = &kernel.Error{Module: "trap", Message: "user exception stack overflowed"}

	// ErrExceptionStackUnmapped is the reason an environment without a
	// writable exception stack is destroyed when it faults.
	ErrExceptionStackUnmapped = &kernel.Error{Module: "trap", Message: "user exception stack not mapped writable"}

	// ErrFaultLoop is the reason an environment is destroyed when its
	// upcall keeps returning without resolving the fault.
	ErrFaultLoop = &kernel.Error{Module: "trap", Message: "page fault not resolved by upcall"}

	// ErrBadUpcallReturn is the reason an environment is destroyed when its
	// upcall returns without restoring the trap-time registers.
	ErrBadUpcallReturn = &kernel.Error{Module: "trap", Message: "upcall did not restore trap-time state"}

	// ErrReplayDiverged is the reason a forked environment is destroyed
	// when its program does not repeat what its parent did.
	ErrReplayDiverged = &kernel.Error{Module: "trap", Message: "forked program diverged from its parent"}
)

// upcallEntryPoint is the instruction pointer an environment is given while
// its page fault upcall runs.
const upcallEntryPoint = uint32(mm.UTEXT) + 0x20

// FaultError is the exit status of an environment the kernel destroyed while
// handling one of its page faults.
type FaultError struct {
	Env    abi.EnvID
	VA     uintptr
	Code   uint32
	EIP    uint32
	Reason *kernel.Error
	Detail string
}

// Error implements the error interface.
func (fe *FaultError) Error() string {
	msg := fmt.Sprintf("[%s] user fault va %08x ip %08x err %x: %s", fe.Env, fe.VA, fe.EIP, fe.Code, fe.Reason.Message)
	if fe.Detail != "" {
		msg += ": " + fe.Detail
	}
	return msg
}

// Unwrap returns the reason the environment was destroyed.
func (fe *FaultError) Unwrap() error {
	return fe.Reason
}

// pageFault delivers a fault at va to the environment's upcall: the trap-time
// state is pushed onto the user exception stack as an abi.UTrapframe and the
// upcall runs with the stack pointer addressing it. A fault taken while
// already on the exception stack pushes the new frame below the current one,
// leaving one empty word in between. On return the upcall must have restored
// the trap-time registers.
func (e *Env) pageFault(va uintptr, code uint32) {
	if e.upcall == nil {
		e.destroyFault(va, code, ErrNoUpcall)
	}

	const xstackBottom = mm.UXSTACKTOP - mm.PageSize

	frame := uintptr(mm.UXSTACKTOP)
	if esp := uintptr(e.tf.ESP); esp >= xstackBottom && esp < mm.UXSTACKTOP {
		frame = esp - 4
	}
	if frame < xstackBottom+abi.UTrapframeSize {
		e.destroyFault(va, code, ErrExceptionStackOverflow)
	}
	frame -= abi.UTrapframeSize

	xstack := e.as.Effective(xstackBottom)
	if !xstack.HasFlags(abi.FlagPresent | abi.FlagRW | abi.FlagUserAccessible) {
		e.destroyFault(va, code, ErrExceptionStackUnmapped)
	}

	utf := abi.UTrapframe{
		FaultVA: uint32(va),
		Err:     code,
		Regs:    e.tf.Regs,
		EIP:     e.tf.EIP,
		EFlags:  e.tf.EFlags,
		ESP:     e.tf.ESP,
	}
	utf.MarshalBytes(e.k.mem.Page(xstack.Frame())[mm.PageOffset(frame):])

	e.log.WithFields(logrus.Fields{
		"va":    fmt.Sprintf("%08x", va),
		"err":   code,
		"frame": fmt.Sprintf("%08x", frame),
	}).Debug("delivering page fault")

	e.record(event{kind: evFault, va: va, code: code, frame: uint32(frame), upcall: e.upcall})
	e.runUpcall(e.upcall, va, code, uint32(frame))
}

// replayFault delivers a journaled fault again. The frame is not written:
// the upcall reads it back through the journal.
func (e *Env) replayFault(ev *event) {
	e.runUpcall(ev.upcall, ev.va, ev.code, ev.frame)
}

func (e *Env) runUpcall(upcall abi.Upcall, va uintptr, code uint32, frame uint32) {
	trapTime := e.tf
	e.tf.ESP = frame
	e.tf.EIP = upcallEntryPoint

	upcall(e)

	if e.tf != trapTime {
		e.tf = trapTime
		e.destroyFault(va, code, ErrBadUpcallReturn)
	}
}

// destroyFault destroys the environment because of a fault it cannot
// recover from. It never returns.
func (e *Env) destroyFault(va uintptr, code uint32, reason *kernel.Error) {
	utf := abi.UTrapframe{
		FaultVA: uint32(va),
		Err:     code,
		Regs:    e.tf.Regs,
		EIP:     e.tf.EIP,
		EFlags:  e.tf.EFlags,
		ESP:     e.tf.ESP,
	}
	var dump strings.Builder
	utf.DumpTo(&dump)
	e.log.WithFields(logrus.Fields{"reason": reason, "trapframe": dump.String()}).Warn("unhandled page fault")

	panic(&FaultError{Env: e.id, VA: va, Code: code, EIP: e.tf.EIP, Reason: reason})
}

func (e *Env) destroyDiverged(detail string) {
	panic(&FaultError{Env: e.id, EIP: e.tf.EIP, Reason: ErrReplayDiverged, Detail: detail})
}
