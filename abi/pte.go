package abi

import "gopherjos/kernel/mm"

// PTE is a page directory or page table entry. Entries encode a physical frame
// in the upper 20 bits and a set of flags in the lower 12 bits.
type PTE uint32

const (
	// FlagPresent is set when the page is mapped.
	FlagPresent PTE = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when a directory entry maps a 4M page.
	FlagHugePage

	// FlagGlobal prevents the TLB entry from being flushed on address
	// space switches.
	FlagGlobal
)

const (
	// FlagsAvailable are ignored by the MMU and left for software use.
	FlagsAvailable PTE = 0xe00

	// FlagCopyOnWrite marks a page shared copy-on-write. It is taken from
	// the available bits. This flag and FlagRW are mutually exclusive.
	FlagCopyOnWrite PTE = 0x800

	// FlagsSyscall is the set of flags user code may pass to the page
	// mapping syscalls.
	FlagsSyscall = FlagsAvailable | FlagPresent | FlagRW | FlagUserAccessible

	ptePhysPageMask = PTE(0xfffff000)
)

// HasFlags returns true if this entry has all the input flags set.
func (pte PTE) HasFlags(flags PTE) bool {
	return pte&flags == flags
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PTE) HasAnyFlag(flags PTE) bool {
	return pte&flags != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PTE) SetFlags(flags PTE) {
	*pte |= flags
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PTE) ClearFlags(flags PTE) {
	*pte &^= flags
}

// Flags returns the flag bits of the entry.
func (pte PTE) Flags() PTE {
	return pte &^ ptePhysPageMask
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PTE) Frame() mm.Frame {
	return mm.Frame(uintptr(pte&ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame.
func (pte *PTE) SetFrame(frame mm.Frame) {
	*pte = (*pte &^ ptePhysPageMask) | PTE(frame.Address())
}
