package user

import (
	"gopherjos/abi"
	"gopherjos/kernel/mm"
	"gopherjos/lib"
)

const readonlyText = mm.UTEXT + 5*mm.PageSize

func readonly(p *lib.Process) {
	child, err := p.Fork()
	if err != nil {
		p.Panicf("fork: %v", err)
	}

	who := "parent"
	if child == 0 {
		who = "child"
	}

	entry, err := p.PageTable().Lookup(readonlyText)
	if err != nil {
		p.Panicf("lookup %08x: %v", readonlyText, err)
	}
	p.Printf("%s: %08x is %s and holds %q\n", who, readonlyText, entry.State(), loadString(p, readonlyText, 64))
}

func init() {
	RegisterProgram(&Program{
		Name:     "readonly",
		Synopsis: "fork and share a read-only page without copying it",
		Segments: []Segment{
			{VA: readonlyText, Perm: abi.FlagUserAccessible, Data: []byte("shared text\x00")},
		},
		Main: readonly,
	})
}
