package user

import (
	"gopherjos/abi"
	"gopherjos/kernel/mm"
	"gopherjos/lib"
)

const (
	forktreeDepth = 3
	forktreeName  = mm.UTEXT + mm.PageSize
)

func forkchild(p *lib.Process, cur string, branch byte) {
	if len(cur) >= forktreeDepth {
		return
	}

	child, err := p.Fork()
	if err != nil {
		p.Panicf("fork: %v", err)
	}
	if child == 0 {
		forktree(p, cur+string(branch))
		p.Exit()
	}
}

// forktree records the environment's name in the shared data page before
// forking, so every child starts out with its parent's name in a
// copy-on-write page and must copy it to record its own.
func forktree(p *lib.Process, cur string) {
	storeString(p, forktreeName, cur)
	p.Printf("%s: I am '%s'\n", p.ID(), loadString(p, forktreeName, forktreeDepth+1))

	forkchild(p, cur, '0')
	forkchild(p, cur, '1')

	if got := loadString(p, forktreeName, forktreeDepth+1); got != cur {
		p.Panicf("name page holds %q after forking; expected %q", got, cur)
	}
}

func init() {
	RegisterProgram(&Program{
		Name:     "forktree",
		Synopsis: "build a binary tree of environments three levels deep",
		Segments: []Segment{
			{VA: forktreeName, Perm: abi.FlagUserAccessible | abi.FlagRW, Data: make([]byte, forktreeDepth+1)},
		},
		Main: func(p *lib.Process) { forktree(p, "") },
	})
}
