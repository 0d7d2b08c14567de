package user

import (
	"fmt"

	"gopherjos/abi"
	"gopherjos/kernel/mm"
	"gopherjos/lib"
)

// faultAlloc maps a fresh page at the faulting address and writes a message
// there. A message that runs past the end of the page faults again while the
// handler is still running.
func faultAlloc(p *lib.Process, utf *abi.UTrapframe) {
	va := uintptr(utf.FaultVA)
	p.Printf("fault %x\n", va)

	if err := p.Machine().PageAlloc(0, mm.RoundDown(va, mm.PageSize), lib.PagePrivate.Perm()); err != nil {
		p.Panicf("allocating at %x in page fault handler: %v", va, err)
	}
	storeString(p, va, fmt.Sprintf("this string was faulted in at %x", va))
}

func init() {
	RegisterProgram(&Program{
		Name:     "faultalloc",
		Synopsis: "demand-page two strings, one of them across a page boundary",
		Main: func(p *lib.Process) {
			p.SetFaultHandler(faultAlloc)
			p.Printf("%s\n", loadString(p, 0xdeadbeef, 100))
			p.Printf("%s\n", loadString(p, 0xcafebffe, 100))
		},
	})
}
