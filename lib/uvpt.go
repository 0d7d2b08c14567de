package lib

import (
	"encoding/binary"

	"gopherjos/abi"
	"gopherjos/kernel/mm"
)

// Entry is a page directory or page table entry as read through the page
// table view.
type Entry abi.PTE

// Present returns true if the entry maps a page (or a page table).
func (e Entry) Present() bool { return abi.PTE(e).HasFlags(abi.FlagPresent) }

// Writable returns true if the hardware allows writes through the entry.
func (e Entry) Writable() bool { return abi.PTE(e).HasFlags(abi.FlagRW) }

// User returns true if user-mode code may access the page.
func (e Entry) User() bool { return abi.PTE(e).HasFlags(abi.FlagUserAccessible) }

// CopyOnWrite returns true if the page is shared copy-on-write.
func (e Entry) CopyOnWrite() bool { return abi.PTE(e).HasFlags(abi.FlagCopyOnWrite) }

// Frame returns the physical frame the entry points to.
func (e Entry) Frame() mm.Frame { return abi.PTE(e).Frame() }

// State classifies the page the entry maps.
func (e Entry) State() PageState {
	switch {
	case !e.Present():
		return PageAbsent
	case e.CopyOnWrite():
		return PageSharedCopyOnWrite
	case e.Writable():
		return PagePrivate
	default:
		return PageSharedReadOnly
	}
}

// PageTableView reads the page tables of the calling environment through the
// read-only self mapping at mm.UVPT. It never allocates and never faults for
// addresses whose page table is missing.
type PageTableView struct {
	mem abi.Memory
}

// NewPageTableView returns a view over the page tables visible through mem.
func NewPageTableView(mem abi.Memory) PageTableView {
	return PageTableView{mem: mem}
}

// Directory returns the page directory entry covering va.
func (v PageTableView) Directory(va uintptr) Entry {
	return v.readEntry(mm.UVPD + mm.PDX(va)<<mm.PointerShift)
}

// Lookup returns the page table entry for va. ErrNoPageTable is returned if
// no page table covers va.
func (v PageTableView) Lookup(va uintptr) (Entry, error) {
	if !v.Directory(va).Present() {
		return 0, ErrNoPageTable
	}
	return v.readEntry(mm.UVPT + mm.PGNUM(va)<<mm.PointerShift), nil
}

// Table returns all entries of the page table covering va, starting with the
// entry for the first page of its 4M region.
func (v PageTableView) Table(va uintptr) ([mm.EntriesPerTable]Entry, error) {
	var table [mm.EntriesPerTable]Entry
	if !v.Directory(va).Present() {
		return table, ErrNoPageTable
	}

	var buf [mm.PageSize]byte
	v.mem.Load(mm.UVPT+mm.PDX(va)<<mm.PageShift, buf[:])
	for i := range table {
		table[i] = Entry(binary.NativeEndian.Uint32(buf[i<<mm.PointerShift:]))
	}
	return table, nil
}

func (v PageTableView) readEntry(va uintptr) Entry {
	var buf [4]byte
	v.mem.Load(va, buf[:])
	return Entry(binary.NativeEndian.Uint32(buf[:]))
}
