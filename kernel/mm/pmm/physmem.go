// Package pmm simulates the physical memory of the machine: a contiguous
// array of page frames handed out by a bitmap allocator and reference counted
// by the page tables that map them.
package pmm

import (
	"math/bits"

	"github.com/sirupsen/logrus"
	"gopherjos/kernel"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/mm"
	"gopherjos/kernel/sync"
)

var (
	// ErrOutOfMemory is returned when no free frame is left.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	errInvalidSize  = &kernel.Error{Module: "pmm", Message: "physical memory must hold at least two frames"}
	errBadFrame     = &kernel.Error{Module: "pmm", Message: "frame outside physical memory"}
	errRefUnderflow = &kernel.Error{Module: "pmm", Message: "frame reference count underflow"}
	errFreeInUse    = &kernel.Error{Module: "pmm", Message: "attempt to free a referenced frame"}
	errDoubleFree   = &kernel.Error{Module: "pmm", Message: "attempt to free an unallocated frame"}

	// panicFn is used by tests to observe fatal reference counting bugs.
	panicFn = kfmt.Panic
)

// Physmem is the simulated physical memory.
type Physmem struct {
	lock sync.Spinlock

	mem     []byte
	release func() error

	// freeBitmap tracks used/free frames; a set bit marks a reserved frame.
	freeBitmap []uint64

	// refs holds the number of page table entries pointing at each frame.
	refs []uint16

	totalFrames uint32
	freeCount   uint32

	log *logrus.Entry
}

// New allocates a physical memory of the given number of frames. Frame 0 is
// permanently reserved so that a zero entry never names a usable page.
func New(frames int) (*Physmem, *kernel.Error) {
	if frames < 2 || uint64(frames) > uint64(mm.InvalidFrame) {
		return nil, errInvalidSize
	}

	mem, release, err := allocBacking(frames * int(mm.PageSize))
	if err != nil {
		return nil, &kernel.Error{Module: "pmm", Message: "reserving backing memory: " + err.Error()}
	}

	pm := &Physmem{
		mem:         mem,
		release:     release,
		freeBitmap:  make([]uint64, (frames+63)>>6),
		refs:        make([]uint16, frames),
		totalFrames: uint32(frames),
		freeCount:   uint32(frames),
		log:         kfmt.ForModule("pmm"),
	}

	// Mark the tail bits of the last bitmap word as reserved so the
	// allocator never hands out frames past the end of memory.
	for f := frames; f < len(pm.freeBitmap)<<6; f++ {
		pm.freeBitmap[f>>6] |= 1 << uint(f&63)
	}
	pm.markReserved(0)

	pm.log.WithField("frames", frames).Debug("physical memory initialized")
	return pm, nil
}

// Close releases the host memory backing the simulated physical memory.
func (pm *Physmem) Close() error {
	if pm.release == nil {
		return nil
	}
	err := pm.release()
	pm.release, pm.mem = nil, nil
	return err
}

// TotalFrames returns the number of frames in physical memory.
func (pm *Physmem) TotalFrames() int { return int(pm.totalFrames) }

// FreeFrames returns the number of unallocated frames.
func (pm *Physmem) FreeFrames() int {
	pm.lock.Acquire()
	defer pm.lock.Release()
	return int(pm.freeCount)
}

// AllocFrame reserves the lowest free frame, clears its contents and returns
// it with a reference count of zero. Callers that map the frame are expected
// to call IncRef.
func (pm *Physmem) AllocFrame() (mm.Frame, *kernel.Error) {
	pm.lock.Acquire()
	frame := mm.InvalidFrame
	for block, word := range pm.freeBitmap {
		if word == ^uint64(0) {
			continue
		}
		frame = mm.Frame(block<<6 + bits.TrailingZeros64(^word))
		break
	}
	if !frame.Valid() {
		pm.lock.Release()
		return mm.InvalidFrame, ErrOutOfMemory
	}
	pm.markReserved(frame)
	pm.lock.Release()

	clear(pm.Page(frame))
	return frame, nil
}

func (pm *Physmem) markReserved(frame mm.Frame) {
	pm.freeBitmap[frame>>6] |= 1 << uint(frame&63)
	pm.freeCount--
}

// FreeFrame returns an unreferenced frame to the allocator.
func (pm *Physmem) FreeFrame(frame mm.Frame) {
	pm.checkFrame(frame)

	pm.lock.Acquire()
	defer pm.lock.Release()

	switch {
	case pm.refs[frame] != 0:
		panicFn(errFreeInUse)
	case pm.freeBitmap[frame>>6]&(1<<uint(frame&63)) == 0:
		panicFn(errDoubleFree)
	default:
		pm.freeBitmap[frame>>6] &^= 1 << uint(frame&63)
		pm.freeCount++
	}
}

// IncRef increments the reference count of frame.
func (pm *Physmem) IncRef(frame mm.Frame) {
	pm.checkFrame(frame)

	pm.lock.Acquire()
	pm.refs[frame]++
	pm.lock.Release()
}

// DecRef decrements the reference count of frame and frees it once it is no
// longer referenced.
func (pm *Physmem) DecRef(frame mm.Frame) {
	pm.checkFrame(frame)

	pm.lock.Acquire()
	if pm.refs[frame] == 0 {
		pm.lock.Release()
		panicFn(errRefUnderflow)
		return
	}
	pm.refs[frame]--
	free := pm.refs[frame] == 0
	pm.lock.Release()

	if free {
		pm.FreeFrame(frame)
	}
}

// RefCount returns the reference count of frame.
func (pm *Physmem) RefCount(frame mm.Frame) int {
	pm.checkFrame(frame)

	pm.lock.Acquire()
	defer pm.lock.Release()
	return int(pm.refs[frame])
}

// Page returns the contents of frame.
func (pm *Physmem) Page(frame mm.Frame) []byte {
	pm.checkFrame(frame)
	start := frame.Address()
	return pm.mem[start : start+mm.PageSize : start+mm.PageSize]
}

func (pm *Physmem) checkFrame(frame mm.Frame) {
	if uint64(frame) >= uint64(pm.totalFrames) {
		panicFn(errBadFrame)
	}
}
