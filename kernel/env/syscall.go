package env

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gopherjos/abi"
	"gopherjos/kernel"
	"gopherjos/kernel/mm"
)

// syscall runs a syscall on behalf of the environment and journals its
// results. While replaying, the journaled results are returned and fn is not
// called.
func (e *Env) syscall(op string, fn func() (abi.EnvID, *kernel.Error)) (abi.EnvID, error) {
	e.checkAlive()
	if e.replaying {
		return e.replaySyscall(op)
	}

	id, kerr := fn()

	var err error
	if kerr != nil {
		err = kerr
	}
	e.record(event{kind: evSyscall, op: op, id: id, err: err})

	if err != nil {
		e.log.WithFields(logrus.Fields{"syscall": op, "err": err}).Debug("syscall failed")
	}
	return id, err
}

// envid2env returns the environment named by id. The zero id names the
// caller. Only the caller and its immediate children may be named.
func (e *Env) envid2env(id abi.EnvID) (*Env, *kernel.Error) {
	if id == 0 {
		return e, nil
	}

	target := e.k.Env(id)
	if target == nil || (target != e && target.parent != e.id) {
		return nil, abi.ErrBadEnv
	}
	return target, nil
}

// checkUserPage validates a page aligned user address.
func checkUserPage(va uintptr) *kernel.Error {
	if va >= mm.UTOP || mm.PageOffset(va) != 0 {
		return abi.ErrInval
	}
	return nil
}

// checkPerm validates the permissions passed to PageAlloc and PageMap: the
// page must be present and user accessible and only the bits in
// abi.FlagsSyscall may be set.
func checkPerm(perm abi.PTE) *kernel.Error {
	if !perm.HasFlags(abi.FlagPresent|abi.FlagUserAccessible) || perm&^abi.FlagsSyscall != 0 {
		return abi.ErrInval
	}
	return nil
}

// GetEnvID returns the id of the calling environment.
func (e *Env) GetEnvID() abi.EnvID {
	id, _ := e.syscall("getenvid", func() (abi.EnvID, *kernel.Error) {
		return e.id, nil
	})
	return id
}

// Cputs writes s to the console.
func (e *Env) Cputs(s string) {
	_, _ = e.syscall("cputs", func() (abi.EnvID, *kernel.Error) {
		fmt.Fprint(e.k.console, s)
		return 0, nil
	})
}

// Yield gives up the CPU to the next runnable environment.
func (e *Env) Yield() {
	_, _ = e.syscall("yield", func() (abi.EnvID, *kernel.Error) {
		e.k.yieldc <- e
		<-e.resume
		e.checkAlive()
		return 0, nil
	})
}

// PageAlloc allocates a zeroed page and maps it at va in env with the given
// permissions, replacing any existing mapping.
func (e *Env) PageAlloc(env abi.EnvID, va uintptr, perm abi.PTE) error {
	_, err := e.syscall("page_alloc", func() (abi.EnvID, *kernel.Error) {
		target, err := e.envid2env(env)
		if err != nil {
			return 0, err
		}
		if err = checkUserPage(va); err != nil {
			return 0, err
		}
		if err = checkPerm(perm); err != nil {
			return 0, err
		}

		frame, err := e.k.mem.AllocFrame()
		if err != nil {
			return 0, abi.ErrNoMem
		}
		if err = target.as.Map(mm.PageFromAddress(va), frame, perm); err != nil {
			e.k.mem.FreeFrame(frame)
			return 0, abi.ErrNoMem
		}
		return 0, nil
	})
	return err
}

// PageMap maps the page at srcVA in srcEnv at dstVA in dstEnv with the given
// permissions. Both environments then share the same physical page. A
// writable mapping of a read-only page is refused.
func (e *Env) PageMap(srcEnv abi.EnvID, srcVA uintptr, dstEnv abi.EnvID, dstVA uintptr, perm abi.PTE) error {
	_, err := e.syscall("page_map", func() (abi.EnvID, *kernel.Error) {
		src, err := e.envid2env(srcEnv)
		if err != nil {
			return 0, err
		}
		dst, err := e.envid2env(dstEnv)
		if err != nil {
			return 0, err
		}
		if err = checkUserPage(srcVA); err != nil {
			return 0, err
		}
		if err = checkUserPage(dstVA); err != nil {
			return 0, err
		}
		if err = checkPerm(perm); err != nil {
			return 0, err
		}

		pte, _ := src.as.Lookup(srcVA)
		if !pte.HasFlags(abi.FlagPresent) {
			return 0, abi.ErrInval
		}
		if perm.HasFlags(abi.FlagRW) && !pte.HasFlags(abi.FlagRW) {
			return 0, abi.ErrInval
		}

		if err = dst.as.Map(mm.PageFromAddress(dstVA), pte.Frame(), perm); err != nil {
			return 0, abi.ErrNoMem
		}
		return 0, nil
	})
	return err
}

// PageUnmap removes the mapping at va in env. Unmapping an absent page is
// not an error.
func (e *Env) PageUnmap(env abi.EnvID, va uintptr) error {
	_, err := e.syscall("page_unmap", func() (abi.EnvID, *kernel.Error) {
		target, err := e.envid2env(env)
		if err != nil {
			return 0, err
		}
		if err = checkUserPage(va); err != nil {
			return 0, err
		}
		return 0, target.as.Unmap(mm.PageFromAddress(va))
	})
	return err
}

// Exofork creates a child environment with an empty address space that is
// not runnable. The parent receives the child's id and the child, once
// scheduled, receives 0.
func (e *Env) Exofork() (abi.EnvID, error) {
	return e.syscall("exofork", func() (abi.EnvID, *kernel.Error) {
		child, err := e.k.alloc(e.id, e.entry)
		if err != nil {
			return 0, err
		}

		child.journal = e.forkJournal()
		child.replaying = true
		child.forkTF = e.tf
		child.forkTF.Regs.EAX = 0

		e.log.WithField("child", child.id).Info("exofork")
		return child.id, nil
	})
}

// EnvSetPgfaultUpcall registers the entry point page faults in env are
// delivered to.
func (e *Env) EnvSetPgfaultUpcall(env abi.EnvID, upcall abi.Upcall) error {
	_, err := e.syscall("env_set_pgfault_upcall", func() (abi.EnvID, *kernel.Error) {
		target, err := e.envid2env(env)
		if err != nil {
			return 0, err
		}
		target.upcall = upcall
		return 0, nil
	})
	return err
}

// EnvSetStatus marks env runnable or not runnable.
func (e *Env) EnvSetStatus(env abi.EnvID, status abi.EnvStatus) error {
	_, err := e.syscall("env_set_status", func() (abi.EnvID, *kernel.Error) {
		if status != abi.EnvRunnable && status != abi.EnvNotRunnable {
			return 0, abi.ErrInval
		}
		target, err := e.envid2env(env)
		if err != nil {
			return 0, err
		}
		target.status = status
		return 0, nil
	})
	return err
}

// EnvDestroy destroys env. Destroying the caller does not return.
func (e *Env) EnvDestroy(env abi.EnvID) error {
	_, err := e.syscall("env_destroy", func() (abi.EnvID, *kernel.Error) {
		target, err := e.envid2env(env)
		if err != nil {
			return 0, err
		}

		if target == e {
			e.log.Info("exiting")
			panic(envExit{})
		}

		e.log.WithField("target", target.id).Info("destroying env")
		if !target.started {
			e.k.exit(target, ErrKilled)
			return 0, nil
		}
		target.killed = true
		target.status = abi.EnvDying
		return 0, nil
	})
	return err
}
