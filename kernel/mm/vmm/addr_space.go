// Package vmm manages the two-level page tables of the simulated MMU. Each
// address space keeps its page directory and page tables inside simulated
// physical memory and maps its own page directory at mm.UVPT so that user
// code can read its page tables without a syscall.
package vmm

import (
	"github.com/sirupsen/logrus"
	"gopherjos/abi"
	"gopherjos/kernel"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/mm/pmm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errKernelRange       = &kernel.Error{Module: "vmm", Message: "address is reserved for the kernel"}
)

// tableFlags are the flags used for page directory entries. Access checks are
// left to the page table entries.
const tableFlags = abi.FlagPresent | abi.FlagRW | abi.FlagUserAccessible

// AddressSpace is a page directory and the page tables reachable from it.
type AddressSpace struct {
	mem   *pmm.Physmem
	pgdir mm.Frame
	log   *logrus.Entry
}

// New allocates an empty address space whose page directory is recursively
// mapped read-only at mm.UVPT.
func New(mem *pmm.Physmem) (*AddressSpace, *kernel.Error) {
	pgdir, err := mem.AllocFrame()
	if err != nil {
		return nil, err
	}
	mem.IncRef(pgdir)

	as := &AddressSpace{mem: mem, pgdir: pgdir, log: kfmt.ForModule("vmm")}

	self := as.entry(pgdir, mm.PDX(mm.UVPT))
	*self = 0
	self.SetFrame(pgdir)
	self.SetFlags(abi.FlagPresent | abi.FlagUserAccessible)

	return as, nil
}

// PageDirectory returns the frame holding the page directory.
func (as *AddressSpace) PageDirectory() mm.Frame {
	return as.pgdir
}

// Map establishes a mapping between a virtual page and a physical frame,
// allocating a page table if needed. Any previous mapping of the page is
// replaced. The frame's reference count is raised before the old mapping is
// dropped so re-mapping a page onto its own frame with new flags is safe.
func (as *AddressSpace) Map(page mm.Page, frame mm.Frame, flags abi.PTE) *kernel.Error {
	if page.Address() >= mm.UTOP {
		return errKernelRange
	}

	var err *kernel.Error

	as.walk(page.Address(), func(pteLevel uint8, pte *abi.PTE) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place.
		if pteLevel == pageLevels-1 {
			as.mem.IncRef(frame)
			if pte.HasFlags(abi.FlagPresent) {
				as.mem.DecRef(pte.Frame())
			}
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags | abi.FlagPresent)
			return true
		}

		if pte.HasFlags(abi.FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it. AllocFrame hands out cleared frames.
		if !pte.HasFlags(abi.FlagPresent) {
			var newTableFrame mm.Frame
			newTableFrame, err = as.mem.AllocFrame()
			if err != nil {
				return false
			}
			as.mem.IncRef(newTableFrame)

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(tableFlags)
		}

		return true
	})

	return err
}

// Unmap removes the mapping for page if there is one and releases the
// reference it held on its frame.
func (as *AddressSpace) Unmap(page mm.Page) *kernel.Error {
	if page.Address() >= mm.UTOP {
		return errKernelRange
	}

	as.walk(page.Address(), func(pteLevel uint8, pte *abi.PTE) bool {
		if pteLevel == pageLevels-1 && pte.HasFlags(abi.FlagPresent) {
			frame := pte.Frame()
			*pte = 0
			as.mem.DecRef(frame)
		}
		return true
	})

	return nil
}

// Lookup returns the page table entry for virtAddr. The boolean result is
// false if no page table covers the address.
func (as *AddressSpace) Lookup(virtAddr uintptr) (abi.PTE, bool) {
	var (
		entry abi.PTE
		found bool
	)

	as.walk(virtAddr, func(pteLevel uint8, pte *abi.PTE) bool {
		if pteLevel == pageLevels-1 {
			entry, found = *pte, true
		}
		return true
	})

	return entry, found
}

// accessFlags are the permission bits the MMU checks at every level of a
// walk.
const accessFlags = abi.FlagPresent | abi.FlagRW | abi.FlagUserAccessible

// Effective returns the page table entry for virtAddr with the present,
// writable and user bits cleared unless every level of the walk grants them.
// A page is only writable from user mode if both its directory entry and its
// page table entry allow it.
func (as *AddressSpace) Effective(virtAddr uintptr) abi.PTE {
	var (
		entry   abi.PTE
		granted = accessFlags
	)

	as.walk(virtAddr, func(pteLevel uint8, pte *abi.PTE) bool {
		if pteLevel < pageLevels-1 {
			granted &= *pte
			return true
		}
		entry = *pte &^ (accessFlags &^ granted)
		return true
	})

	return entry
}

// Translate returns the physical frame and offset for virtAddr, or
// ErrInvalidMapping if the page is not present.
func (as *AddressSpace) Translate(virtAddr uintptr) (mm.Frame, uintptr, *kernel.Error) {
	pte, ok := as.Lookup(virtAddr)
	if !ok || !pte.HasFlags(abi.FlagPresent) {
		return mm.InvalidFrame, 0, ErrInvalidMapping
	}
	return pte.Frame(), mm.PageOffset(virtAddr), nil
}

// Visit calls visitFn for every present page below mm.UTOP in ascending
// address order. Returning false from visitFn stops the iteration.
func (as *AddressSpace) Visit(visitFn func(page mm.Page, pte abi.PTE) bool) {
	for pdx := uintptr(0); pdx < mm.PDX(mm.UTOP); pdx++ {
		pde := *as.entry(as.pgdir, pdx)
		if !pde.HasFlags(abi.FlagPresent) {
			continue
		}
		for ptx := uintptr(0); ptx < mm.EntriesPerTable; ptx++ {
			pte := *as.entry(pde.Frame(), ptx)
			if !pte.HasFlags(abi.FlagPresent) {
				continue
			}
			if !visitFn(mm.PageFromAddress(mm.PGADDR(pdx, ptx, 0)), pte) {
				return
			}
		}
	}
}

// Destroy releases every user page, page table and finally the page
// directory. The address space must not be used afterwards.
func (as *AddressSpace) Destroy() {
	for pdx := uintptr(0); pdx < mm.PDX(mm.UTOP); pdx++ {
		pde := as.entry(as.pgdir, pdx)
		if !pde.HasFlags(abi.FlagPresent) {
			continue
		}
		table := pde.Frame()
		for ptx := uintptr(0); ptx < mm.EntriesPerTable; ptx++ {
			pte := as.entry(table, ptx)
			if pte.HasFlags(abi.FlagPresent) {
				frame := pte.Frame()
				*pte = 0
				as.mem.DecRef(frame)
			}
		}
		*pde = 0
		as.mem.DecRef(table)
	}

	*as.entry(as.pgdir, mm.PDX(mm.UVPT)) = 0
	as.mem.DecRef(as.pgdir)
	as.log.WithField("pgdir", uintptr(as.pgdir)).Debug("address space destroyed")
	as.pgdir = mm.InvalidFrame
}
