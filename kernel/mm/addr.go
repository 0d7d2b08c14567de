package mm

// PDX returns the page directory index of a virtual address.
func PDX(va uintptr) uintptr {
	return (va >> PTShift) & (EntriesPerTable - 1)
}

// PTX returns the page table index of a virtual address.
func PTX(va uintptr) uintptr {
	return (va >> PageShift) & (EntriesPerTable - 1)
}

// PGNUM returns the page number of a virtual address. Page numbers index
// the linear page table view mapped at UVPT.
func PGNUM(va uintptr) uintptr {
	return va >> PageShift
}

// PGADDR builds a virtual address out of its page directory index, page table
// index and page offset.
func PGADDR(pdx, ptx, offset uintptr) uintptr {
	return pdx<<PTShift | ptx<<PageShift | offset
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(va uintptr) uintptr {
	return va & (PageSize - 1)
}

// RoundDown rounds addr down to the nearest multiple of align, which must be
// a power of two.
func RoundDown(addr, align uintptr) uintptr {
	return addr &^ (align - 1)
}

// RoundUp rounds addr up to the nearest multiple of align, which must be a
// power of two.
func RoundUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}
