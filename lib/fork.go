package lib

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gopherjos/abi"
	"gopherjos/kernel/mm"
)

// CopyOnWrite is the page fault handler installed by Fork. It resolves a
// write to a copy-on-write page by copying the page into a freshly allocated
// frame staged at mm.PFTEMP and mapping the copy writable in its place. Other
// environments sharing the original frame keep it. Any other fault, and any
// syscall failure while copying, is fatal.
func CopyOnWrite(p *Process, utf *abi.UTrapframe) {
	va := uintptr(utf.FaultVA)

	entry, err := p.vpt.Lookup(va)
	if err != nil {
		p.fatal("pgfault", va, err)
	}
	if utf.Err&abi.FaultWrite == 0 {
		p.fatal("pgfault", va, ErrNotWriteFault)
	}
	if !entry.CopyOnWrite() {
		p.fatal("pgfault", va, ErrNotCopyOnWrite)
	}

	page := mm.RoundDown(va, mm.PageSize)
	if err := p.m.PageAlloc(0, mm.PFTEMP, PagePrivate.Perm()); err != nil {
		p.fatal("page_alloc", mm.PFTEMP, err)
	}

	buf := make([]byte, mm.PageSize)
	p.m.Load(page, buf)
	p.m.Store(mm.PFTEMP, buf)

	if err := p.m.PageMap(0, mm.PFTEMP, 0, page, PagePrivate.Perm()); err != nil {
		p.fatal("page_map", page, err)
	}
	if err := p.m.PageUnmap(0, mm.PFTEMP); err != nil {
		p.fatal("page_unmap", mm.PFTEMP, err)
	}

	p.log.WithFields(logrus.Fields{
		"env": p.self,
		"va":  fmt.Sprintf("%08x", page),
	}).Debug("copied copy-on-write page")
}

// duppage maps the page at va into child. Writable and copy-on-write pages
// become copy-on-write in the child and then again in the caller, so that
// whichever side writes first takes a copy. Read-only pages are shared as
// they are.
func (p *Process) duppage(child abi.EnvID, va uintptr, entry Entry) error {
	switch state := entry.State(); state {
	case PagePrivate, PageSharedCopyOnWrite:
		perm := PageSharedCopyOnWrite.Perm()
		if err := p.m.PageMap(0, va, child, va, perm); err != nil {
			return fmt.Errorf("duppage %08x: map into child: %w", va, err)
		}
		if err := p.m.PageMap(0, va, 0, va, perm); err != nil {
			return fmt.Errorf("duppage %08x: remap copy-on-write: %w", va, err)
		}
	case PageSharedReadOnly:
		if err := p.m.PageMap(0, va, child, va, state.Perm()); err != nil {
			return fmt.Errorf("duppage %08x: map into child: %w", va, err)
		}
	}
	return nil
}

// Fork creates a child environment sharing the caller's address space
// copy-on-write. The parent receives the child's id and the child receives
// 0. The child gets its own exception stack. On error no child is left
// behind.
func (p *Process) Fork() (abi.EnvID, error) {
	p.SetFaultHandler(CopyOnWrite)

	child, err := p.m.Exofork()
	if err != nil {
		return 0, fmt.Errorf("fork: exofork: %w", err)
	}
	if child == 0 {
		p.self = p.m.GetEnvID()
		return 0, nil
	}

	if err := p.setupChild(child); err != nil {
		if derr := p.m.EnvDestroy(child); derr != nil {
			p.log.WithField("child", child).WithError(derr).Warn("fork: could not destroy child")
		}
		return 0, fmt.Errorf("fork: %w", err)
	}

	p.log.WithFields(logrus.Fields{"env": p.self, "child": child}).Debug("forked")
	return child, nil
}

// setupChild duplicates the user address space below mm.USTACKTOP into
// child, gives it an exception stack and the upcall and marks it runnable.
func (p *Process) setupChild(child abi.EnvID) error {
	for region := mm.UTEXT; region < mm.USTACKTOP; region += mm.PTSize {
		table, err := p.vpt.Table(region)
		if err != nil {
			continue
		}

		for i, entry := range table {
			va := region + uintptr(i)<<mm.PageShift
			if va >= mm.USTACKTOP {
				break
			}
			if !entry.Present() {
				continue
			}
			if err := p.duppage(child, va, entry); err != nil {
				return err
			}
		}
	}

	xstack := mm.UXSTACKTOP - mm.PageSize
	if err := p.m.PageAlloc(child, xstack, PagePrivate.Perm()); err != nil {
		return fmt.Errorf("allocating child exception stack: %w", err)
	}
	if err := p.m.EnvSetPgfaultUpcall(child, Upcall); err != nil {
		return fmt.Errorf("setting child upcall: %w", err)
	}
	if err := p.m.EnvSetStatus(child, abi.EnvRunnable); err != nil {
		return fmt.Errorf("marking child runnable: %w", err)
	}
	return nil
}
