package mm

const (
	// PointerShift is equal to log2 of the size of a page table entry. The
	// simulated machine uses 32-bit entries.
	PointerShift = uintptr(2)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// PTShift is equal to log2 of the bytes mapped by a single page table.
	PTShift = uintptr(22)

	// PTSize defines the number of bytes mapped by a single page table.
	PTSize = uintptr(1 << PTShift)

	// EntriesPerTable is the number of entries in a page directory or page
	// table.
	EntriesPerTable = PageSize >> PointerShift
)
