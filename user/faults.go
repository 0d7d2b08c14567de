package user

import (
	"gopherjos/abi"
	"gopherjos/kernel/mm"
	"gopherjos/lib"
)

const faultsReadOnly = mm.UTEXT

var faultsSegments = []Segment{
	{VA: faultsReadOnly, Perm: abi.FlagUserAccessible, Data: []byte("read-only\x00")},
}

func init() {
	RegisterProgram(&Program{
		Name:     "nohandler",
		Synopsis: "write a read-only page without a fault handler",
		Segments: faultsSegments,
		Main: func(p *lib.Process) {
			storeString(p, faultsReadOnly, "overwritten")
			p.Printf("write to a read-only page succeeded\n")
		},
	})

	RegisterProgram(&Program{
		Name:     "badwrite",
		Synopsis: "write a read-only page with the copy-on-write handler installed",
		Segments: faultsSegments,
		Main: func(p *lib.Process) {
			p.SetFaultHandler(lib.CopyOnWrite)
			storeString(p, faultsReadOnly, "overwritten")
			p.Printf("write to a read-only page succeeded\n")
		},
	})
}
