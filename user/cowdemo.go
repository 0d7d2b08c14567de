package user

import (
	"gopherjos/abi"
	"gopherjos/kernel/mm"
	"gopherjos/lib"
)

const (
	cowdemoData   = mm.UTEXT + 2*mm.PageSize
	cowdemoRodata = mm.UTEXT + 3*mm.PageSize
)

func cowdemo(p *lib.Process) {
	p.Printf("%s: data %q, rodata %q\n", p.ID(), loadString(p, cowdemoData, 64), loadString(p, cowdemoRodata, 64))

	child, err := p.Fork()
	if err != nil {
		p.Panicf("fork: %v", err)
	}

	if child == 0 {
		storeString(p, cowdemoData, "written by the child")
		p.Printf("%s: child sees data %q, rodata %q\n", p.ID(), loadString(p, cowdemoData, 64), loadString(p, cowdemoRodata, 64))
		return
	}

	// Wait for the child to write its copy.
	p.Yield()
	p.Printf("%s: parent still sees data %q\n", p.ID(), loadString(p, cowdemoData, 64))

	storeString(p, cowdemoData, "written by the parent")
	p.Printf("%s: parent now sees data %q\n", p.ID(), loadString(p, cowdemoData, 64))
}

func init() {
	RegisterProgram(&Program{
		Name:     "cowdemo",
		Synopsis: "fork once and write the shared data page from both sides",
		Segments: []Segment{
			{VA: cowdemoData, Perm: abi.FlagUserAccessible | abi.FlagRW, Data: []byte("initial data\x00")},
			{VA: cowdemoRodata, Perm: abi.FlagUserAccessible, Data: []byte("read-only data\x00")},
		},
		Main: cowdemo,
	})
}
