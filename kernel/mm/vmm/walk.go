package vmm

import (
	"unsafe"

	"gopherjos/abi"
	"gopherjos/kernel/mm"
)

// pageLevels indicates the number of page levels of the simulated MMU.
const pageLevels = 2

// pageLevelShifts defines the shift required to access each page table
// component of a virtual address.
var pageLevelShifts = [pageLevels]uintptr{
	mm.PTShift,
	mm.PageShift,
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *abi.PTE) bool

// walk performs a page table walk for the given virtual address. It calls the
// supplied walkFn with the page table entry that corresponds to each page
// table level. Descending to the next level requires the current entry to be
// present once walkFn returns; walkFn may install a missing table before
// returning true.
func (as *AddressSpace) walk(virtAddr uintptr, walkFn pageTableWalker) {
	table := as.pgdir
	for level := uint8(0); level < pageLevels; level++ {
		entryIndex := (virtAddr >> pageLevelShifts[level]) & (mm.EntriesPerTable - 1)
		pte := as.entry(table, entryIndex)

		if !walkFn(level, pte) {
			return
		}

		if !pte.HasFlags(abi.FlagPresent) {
			return
		}
		table = pte.Frame()
	}
}

// entry returns a pointer to the entry at index in the table stored in frame.
func (as *AddressSpace) entry(frame mm.Frame, index uintptr) *abi.PTE {
	page := as.mem.Page(frame)
	return (*abi.PTE)(unsafe.Pointer(&page[index<<mm.PointerShift]))
}
