package mm

import (
	"fmt"
	"math"
)

// Frame is the index of a 4K page of simulated physical memory.
type Frame uintptr

// InvalidFrame is the frame allocators hand out when they have none left.
const InvalidFrame = Frame(math.MaxUint32)

// Valid reports whether f names an actual frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte of f.
func (f Frame) Address() uintptr {
	return uintptr(f) << PageShift
}

// String implements fmt.Stringer.
func (f Frame) String() string {
	if !f.Valid() {
		return "frame(invalid)"
	}
	return fmt.Sprintf("frame(%05x)", uintptr(f))
}

// FrameFromAddress returns the frame holding physAddr.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(RoundDown(physAddr, PageSize) >> PageShift)
}

// Page is a virtual page number, as used to index the page table view at
// UVPT.
type Page uintptr

// Address returns the virtual address of the first byte of p.
func (p Page) Address() uintptr {
	return uintptr(p) << PageShift
}

// PageFromAddress returns the page holding virtAddr.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(PGNUM(virtAddr))
}
