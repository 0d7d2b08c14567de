package abi

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Page fault error code bits.
const (
	// FaultPresent is set when the fault was a protection violation on a
	// present page and clear when the page was not present.
	FaultPresent uint32 = 1 << iota

	// FaultWrite is set when the faulting access was a write.
	FaultWrite

	// FaultUser is set when the fault occurred in user mode.
	FaultUser
)

// PushRegs holds the general purpose registers in the order pushed by pusha.
type PushRegs struct {
	EDI  uint32
	ESI  uint32
	EBP  uint32
	OESP uint32
	EBX  uint32
	EDX  uint32
	ECX  uint32
	EAX  uint32
}

// Trapframe is the register file of an environment that is visible to
// user-mode code.
type Trapframe struct {
	Regs   PushRegs
	EIP    uint32
	EFlags uint32
	ESP    uint32
}

// UTrapframeSize is the number of bytes the kernel pushes onto the user
// exception stack for each delivered page fault.
const UTrapframeSize = 13 * 4

// UTrapframe is the frame pushed onto the user exception stack when a page
// fault is delivered to user mode. The field order matches its layout in
// memory, lowest address first.
type UTrapframe struct {
	FaultVA uint32
	Err     uint32
	Regs    PushRegs
	EIP     uint32
	EFlags  uint32
	ESP     uint32
}

// MarshalBytes encodes the frame into dst which must hold at least
// UTrapframeSize bytes.
func (utf *UTrapframe) MarshalBytes(dst []byte) {
	words := utf.words()
	for i, w := range words {
		binary.NativeEndian.PutUint32(dst[i*4:], w)
	}
}

// UnmarshalBytes decodes a frame previously encoded by MarshalBytes.
func (utf *UTrapframe) UnmarshalBytes(src []byte) {
	var words [UTrapframeSize / 4]uint32
	for i := range words {
		words[i] = binary.NativeEndian.Uint32(src[i*4:])
	}
	utf.FaultVA, utf.Err = words[0], words[1]
	utf.Regs = PushRegs{
		EDI: words[2], ESI: words[3], EBP: words[4], OESP: words[5],
		EBX: words[6], EDX: words[7], ECX: words[8], EAX: words[9],
	}
	utf.EIP, utf.EFlags, utf.ESP = words[10], words[11], words[12]
}

func (utf *UTrapframe) words() [UTrapframeSize / 4]uint32 {
	r := &utf.Regs
	return [...]uint32{
		utf.FaultVA, utf.Err,
		r.EDI, r.ESI, r.EBP, r.OESP, r.EBX, r.EDX, r.ECX, r.EAX,
		utf.EIP, utf.EFlags, utf.ESP,
	}
}

// DumpTo outputs the frame contents to w.
func (utf *UTrapframe) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "fault va = %08x err = %08x\n", utf.FaultVA, utf.Err)
	utf.Regs.DumpTo(w)
	fmt.Fprintf(w, "EIP = %08x EFL = %08x ESP = %08x\n", utf.EIP, utf.EFlags, utf.ESP)
}

// DumpTo outputs the register contents to w.
func (r *PushRegs) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "EAX = %08x EBX = %08x\n", r.EAX, r.EBX)
	fmt.Fprintf(w, "ECX = %08x EDX = %08x\n", r.ECX, r.EDX)
	fmt.Fprintf(w, "ESI = %08x EDI = %08x\n", r.ESI, r.EDI)
	fmt.Fprintf(w, "EBP = %08x\n", r.EBP)
}
