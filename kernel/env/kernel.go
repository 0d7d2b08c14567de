// Package env simulates the kernel side of the machine: the environment
// table, the syscalls user-mode code is given, page fault delivery onto the
// user exception stack and a cooperative round-robin scheduler.
//
// Every environment runs its Program on its own goroutine but only one
// environment executes at a time; control is handed between them at Yield,
// exit and destruction. An environment created by Exofork cannot clone the
// goroutine of its parent, so it re-executes the parent's Program against a
// copy of the parent's journal of syscall results and memory reads. While
// replaying, side effects are suppressed; the journaled Exofork returns 0 to
// the child, the registers saved at fork time are restored and execution
// continues live. Programs must therefore be deterministic functions of the
// results the kernel hands them.
package env

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gopherjos/abi"
	"gopherjos/config"
	"gopherjos/kernel"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/pmm"
	"gopherjos/kernel/mm/vmm"
	"gopherjos/kernel/sync"
)

var (
	errNoSuchEnv = &kernel.Error{Module: "env", Message: "no such environment"}
	errBadRange  = &kernel.Error{Module: "env", Message: "segment outside the user address range"}

	errStaleMapping = &kernel.Error{Module: "env", Message: "user mapping refers to a free frame"}
)

// Program is the code an environment executes.
type Program func(e *Env)

// Mapping describes one present page of an environment.
type Mapping struct {
	VA    uintptr
	Entry abi.PTE
	Refs  int
}

// ExitInfo describes an environment as it was when it exited.
type ExitInfo struct {
	ID       abi.EnvID
	Parent   abi.EnvID
	Status   error
	Mappings []Mapping
}

// Kernel is the simulated kernel.
type Kernel struct {
	cfg *config.Config
	mem *pmm.Physmem
	log *logrus.Entry

	lock sync.Spinlock

	// envs is indexed by abi.ENVX; lastID keeps the last id handed out
	// for each slot so generations keep increasing.
	envs   []*Env
	lastID []abi.EnvID

	exits  map[abi.EnvID]error
	onExit func(ExitInfo)

	console io.Writer

	// yieldc receives the running environment whenever it gives up the
	// CPU.
	yieldc   chan *Env
	lastRun  int
	stopping atomic.Bool
	halt     error
}

// New creates a kernel with cfg.PhysPages frames of physical memory.
func New(cfg *config.Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mem, kerr := pmm.New(cfg.PhysPages)
	if kerr != nil {
		return nil, kerr
	}

	return &Kernel{
		cfg:     cfg,
		mem:     mem,
		log:     kfmt.ForModule("env"),
		envs:    make([]*Env, cfg.MaxEnvs),
		lastID:  make([]abi.EnvID, cfg.MaxEnvs),
		exits:   make(map[abi.EnvID]error),
		console: os.Stdout,
		yieldc:  make(chan *Env),
		lastRun: -1,
	}, nil
}

// Close releases the simulated physical memory. The kernel must not be used
// afterwards.
func (k *Kernel) Close() error {
	return k.mem.Close()
}

// SetConsole redirects the output of the Cputs syscall.
func (k *Kernel) SetConsole(w io.Writer) {
	k.console = w
}

// OnExit registers fn to be called with a description of every environment
// right before its address space is released.
func (k *Kernel) OnExit(fn func(ExitInfo)) {
	k.onExit = fn
}

// Physmem returns the physical memory of the machine.
func (k *Kernel) Physmem() *pmm.Physmem {
	return k.mem
}

// Spawn creates a runnable environment executing prog with a single
// writable stack page below mm.USTACKTOP.
func (k *Kernel) Spawn(prog Program) (abi.EnvID, error) {
	e, err := k.alloc(0, prog)
	if err != nil {
		return 0, err
	}

	stack, err := k.mem.AllocFrame()
	if err == nil {
		err = e.as.Map(mm.PageFromAddress(mm.USTACKTOP-mm.PageSize), stack, abi.FlagPresent|abi.FlagRW|abi.FlagUserAccessible)
		if err != nil {
			k.mem.FreeFrame(stack)
		}
	}
	if err != nil {
		k.free(e)
		return 0, err
	}

	e.status = abi.EnvRunnable
	k.log.WithField("env", e.id).Info("new env")
	return e.id, nil
}

// LoadSegment copies data into the address space of env id starting at va,
// allocating any missing page with the given permissions. Pages that are
// already mapped keep their permissions.
func (k *Kernel) LoadSegment(id abi.EnvID, va uintptr, perm abi.PTE, data []byte) error {
	e := k.Env(id)
	if e == nil {
		return errNoSuchEnv
	}
	if va+uintptr(len(data)) > mm.UTOP || va+uintptr(len(data)) < va {
		return errBadRange
	}

	for len(data) > 0 {
		page := mm.PageFromAddress(va)
		pte, _ := e.as.Lookup(va)
		if !pte.HasFlags(abi.FlagPresent) {
			frame, err := k.mem.AllocFrame()
			if err != nil {
				return err
			}
			if err = e.as.Map(page, frame, perm|abi.FlagPresent); err != nil {
				k.mem.FreeFrame(frame)
				return err
			}
			pte, _ = e.as.Lookup(va)
		}

		n := copy(k.mem.Page(pte.Frame())[mm.PageOffset(va):], data)
		data = data[n:]
		va += uintptr(n)
	}
	return nil
}

// Env returns the live environment with the given id or nil.
func (k *Kernel) Env(id abi.EnvID) *Env {
	k.lock.Acquire()
	defer k.lock.Release()

	slot := abi.ENVX(id)
	if slot >= len(k.envs) {
		return nil
	}
	e := k.envs[slot]
	if e == nil || e.id != id {
		return nil
	}
	return e
}

// Lookup returns the page table entry mapping va in env id. The boolean
// result is false if the environment does not exist or no page table covers
// va.
func (k *Kernel) Lookup(id abi.EnvID, va uintptr) (abi.PTE, bool) {
	e := k.Env(id)
	if e == nil {
		return 0, false
	}
	return e.as.Lookup(va)
}

// ReadPage returns a copy of the page mapped at va in env id.
func (k *Kernel) ReadPage(id abi.EnvID, va uintptr) ([]byte, error) {
	e := k.Env(id)
	if e == nil {
		return nil, errNoSuchEnv
	}
	frame, _, err := e.as.Translate(va)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), k.mem.Page(frame)...), nil
}

// ExitStatus reports whether env id has exited and, if so, the error that
// terminated it. A nil status means the environment returned from its
// Program or destroyed itself.
func (k *Kernel) ExitStatus(id abi.EnvID) (exited bool, status error) {
	k.lock.Acquire()
	defer k.lock.Release()

	status, exited = k.exits[id]
	return exited, status
}

// alloc sets up a new environment in the first free slot. The environment is
// not runnable.
func (k *Kernel) alloc(parent abi.EnvID, prog Program) (*Env, *kernel.Error) {
	k.lock.Acquire()
	slot := -1
	for i, e := range k.envs {
		if e == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		k.lock.Release()
		return nil, abi.ErrNoFreeEnv
	}

	as, err := vmm.New(k.mem)
	if err != nil {
		k.lock.Release()
		return nil, abi.ErrNoMem
	}

	id := abi.NextEnvID(k.lastID[slot], slot)
	k.lastID[slot] = id

	e := &Env{
		k:      k,
		id:     id,
		parent: parent,
		status: abi.EnvNotRunnable,
		as:     as,
		tf:     initialTrapframe(),
		entry:  prog,
		resume: make(chan struct{}),
		log:    k.log.WithField("env", id),
	}
	k.envs[slot] = e
	k.lock.Release()

	return e, nil
}

// free releases the address space of e and its slot.
func (k *Kernel) free(e *Env) {
	e.as.Destroy()

	k.lock.Acquire()
	k.envs[abi.ENVX(e.id)] = nil
	e.status = abi.EnvFree
	k.lock.Release()
}

// abandon records the status of e after a kernel panic and drops it from the
// environment table without touching its address space.
func (k *Kernel) abandon(e *Env, status error) {
	k.lock.Acquire()
	k.exits[e.id] = status
	k.envs[abi.ENVX(e.id)] = nil
	e.status = abi.EnvFree
	k.lock.Release()
}

// exit records the status of e, reports it to the exit hook and frees it.
func (k *Kernel) exit(e *Env, status error) {
	if k.onExit != nil {
		info := ExitInfo{ID: e.id, Parent: e.parent, Status: status}
		e.as.Visit(func(page mm.Page, pte abi.PTE) bool {
			info.Mappings = append(info.Mappings, Mapping{
				VA:    page.Address(),
				Entry: pte,
				Refs:  k.mem.RefCount(pte.Frame()),
			})
			return true
		})
		k.onExit(info)
	}

	k.lock.Acquire()
	k.exits[e.id] = status
	k.lock.Release()

	k.free(e)
}

func initialTrapframe() abi.Trapframe {
	return abi.Trapframe{
		EIP:    uint32(mm.UTEXT),
		EFlags: eflagsIF,
		ESP:    uint32(mm.USTACKTOP),
	}
}

// eflagsIF is the interrupt enable flag; user environments always run with
// interrupts enabled.
const eflagsIF = 1 << 9
