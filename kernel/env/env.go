package env

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gopherjos/abi"
	"gopherjos/kernel"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/vmm"
)

// ErrKilled is the exit status of an environment destroyed by another
// environment or by the shutdown of the scheduler.
var ErrKilled = &kernel.Error{Module: "env", Message: "environment destroyed"}

// envExit unwinds an environment that destroyed itself.
type envExit struct{}

// Env is an environment: an address space and the single thread of control
// executing in it. Env is the CPU user-mode code runs on and also provides
// the syscall interface.
type Env struct {
	k      *Kernel
	id     abi.EnvID
	parent abi.EnvID
	status abi.EnvStatus
	as     *vmm.AddressSpace
	tf     abi.Trapframe
	upcall abi.Upcall
	local  any
	entry  Program
	log    *logrus.Entry

	// journal records the results this environment has observed; see
	// replay.go.
	journal   []event
	cursor    int
	replaying bool
	forkTF    abi.Trapframe

	started bool
	killed  bool
	resume  chan struct{}
}

// ID returns the id of the environment.
func (e *Env) ID() abi.EnvID { return e.id }

// Parent returns the id of the environment that created this one or 0.
func (e *Env) Parent() abi.EnvID { return e.parent }

// Registers implements abi.CPU.
func (e *Env) Registers() *abi.Trapframe { return &e.tf }

// Local implements abi.CPU.
func (e *Env) Local() any { return e.local }

// SetLocal implements abi.CPU.
func (e *Env) SetLocal(v any) { e.local = v }

// Load implements abi.Memory.
func (e *Env) Load(va uintptr, dst []byte) {
	e.checkAlive()
	if e.replaying {
		e.replayAccess(evLoad, va, dst)
		return
	}

	start := va
	for done := 0; done < len(dst); {
		n := copy(dst[done:], e.access(va, false))
		done += n
		va += uintptr(n)
	}
	e.record(event{kind: evLoad, va: start, data: append([]byte(nil), dst...)})
}

// Store implements abi.Memory.
func (e *Env) Store(va uintptr, src []byte) {
	e.checkAlive()
	if e.replaying {
		e.replayAccess(evStore, va, src)
		return
	}

	start, size := va, len(src)
	for len(src) > 0 {
		n := copy(e.access(va, true), src)
		src = src[n:]
		va += uintptr(n)
	}
	e.record(event{kind: evStore, va: start, size: size})
}

// access returns the remainder of the page holding va once the current
// mappings permit the access, delivering page faults until they do.
func (e *Env) access(va uintptr, write bool) []byte {
	for delivered := 0; ; delivered++ {
		pte := e.as.Effective(va)
		if pte.HasFlags(abi.FlagPresent|abi.FlagUserAccessible) && (!write || pte.HasFlags(abi.FlagRW)) {
			if e.k.mem.RefCount(pte.Frame()) == 0 {
				kfmt.Panic(errStaleMapping)
			}
			return e.k.mem.Page(pte.Frame())[mm.PageOffset(va):]
		}

		code := abi.FaultUser
		if pte.HasFlags(abi.FlagPresent) {
			code |= abi.FaultPresent
		}
		if write {
			code |= abi.FaultWrite
		}

		if delivered == e.k.cfg.MaxFaultRetries {
			e.destroyFault(va, code, ErrFaultLoop)
		}
		e.pageFault(va, code)
	}
}

// checkAlive unwinds the environment if it has been destroyed while it was
// not running or if the scheduler is shutting down.
func (e *Env) checkAlive() {
	if e.killed || e.k.stopping.Load() {
		panic(ErrKilled)
	}
}

// main is the body of the goroutine backing the environment.
func (e *Env) main() (err error) {
	defer func() {
		status := e.exitStatus(recover())
		if halt, ok := status.(*kfmt.Halt); ok {
			// Kernel state is no longer trusted: keep the address space
			// as it is instead of releasing its frames.
			err = halt
			e.k.halt = halt
			e.k.abandon(e, status)
		} else {
			e.k.exit(e, status)
		}
		e.k.yieldc <- e
	}()

	e.entry(e)
	return nil
}

// exitStatus converts the value the environment unwound with into its exit
// status.
func (e *Env) exitStatus(r any) error {
	var status error
	switch t := r.(type) {
	case nil, envExit:
		e.log.Info("exiting gracefully")
		return nil
	case error:
		status = t
	default:
		status = fmt.Errorf("panic: %v", t)
	}

	if status == ErrKilled {
		e.log.Info("destroyed")
	} else {
		e.log.WithError(status).Error("destroyed")
	}
	return status
}
