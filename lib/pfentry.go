package lib

import (
	"encoding/binary"

	"gopherjos/abi"
)

// Upcall is the entry point the kernel delivers page faults to. It runs on
// the exception stack with the stack pointer addressing the fault frame: it
// calls the process's handler with the frame, then resumes the faulting
// code by pushing the trap-time instruction pointer onto the trap-time stack,
// restoring the saved registers, switching back to that stack and returning
// through the pushed word.
//
// The frame is read back from the stack after the handler returns. Writing
// the trap-time stack may itself fault (for example on a copy-on-write stack
// page); the kernel then delivers the nested fault below the current frame.
func Upcall(cpu abi.CPU) {
	regs := cpu.Registers()
	frame := uintptr(regs.ESP)

	p, _ := cpu.Local().(*Process)
	if p == nil || p.handler == nil {
		var env abi.EnvID
		if p != nil {
			env = p.self
		}
		utf := loadFrame(cpu, frame)
		panic(&FatalError{Env: env, Op: "pgfault_upcall", VA: uintptr(utf.FaultVA), Err: ErrNoHandler})
	}

	utf := loadFrame(cpu, frame)

	// pushl %esp; call handler; addl $4, %esp
	push(cpu, uint32(frame))
	p.handler(p, &utf)
	regs.ESP += 4

	utf = loadFrame(cpu, frame)
	storeWord(cpu, uintptr(utf.ESP)-4, utf.EIP)

	regs.Regs = utf.Regs
	regs.EFlags = utf.EFlags
	regs.ESP = utf.ESP - 4
	regs.EIP = pop(cpu)
}

func loadFrame(cpu abi.CPU, va uintptr) abi.UTrapframe {
	var (
		buf [abi.UTrapframeSize]byte
		utf abi.UTrapframe
	)
	cpu.Load(va, buf[:])
	utf.UnmarshalBytes(buf[:])
	return utf
}

func storeWord(mem abi.Memory, va uintptr, v uint32) {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], v)
	mem.Store(va, buf[:])
}

func push(cpu abi.CPU, v uint32) {
	regs := cpu.Registers()
	regs.ESP -= 4
	storeWord(cpu, uintptr(regs.ESP), v)
}

func pop(cpu abi.CPU) uint32 {
	var buf [4]byte
	regs := cpu.Registers()
	cpu.Load(uintptr(regs.ESP), buf[:])
	regs.ESP += 4
	return binary.NativeEndian.Uint32(buf[:])
}
