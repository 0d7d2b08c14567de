// Package user contains the programs that run as environments on the
// simulated kernel. Each program registers itself from an init function and
// describes the segments the loader maps before its first instruction.
package user

import (
	"sort"

	"gopherjos/abi"
	"gopherjos/kernel"
	"gopherjos/kernel/env"
	"gopherjos/lib"
)

// ErrUnknownProgram is returned by Lookup for names no program registered.
var ErrUnknownProgram = &kernel.Error{Module: "user", Message: "unknown program"}

// Segment is a range of the program image the loader maps before the
// program starts.
type Segment struct {
	VA   uintptr
	Perm abi.PTE
	Data []byte
}

// Program is a user program.
type Program struct {
	// Name is the name the program is looked up by.
	Name string

	// Synopsis is a one-line description of what the program does.
	Synopsis string

	// Segments are loaded into the environment before it runs.
	Segments []Segment

	// Main is the body of the program.
	Main func(p *lib.Process)
}

// Entry adapts the program to the entry point expected by the kernel.
func (prog *Program) Entry(e *env.Env) {
	prog.Main(lib.Attach(e))
}

// ProgramList is a list of programs sorted by name.
type ProgramList []*Program

func (l ProgramList) Len() int           { return len(l) }
func (l ProgramList) Less(i, j int) bool { return l[i].Name < l[j].Name }
func (l ProgramList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

var registeredPrograms ProgramList

// RegisterProgram makes prog available to Lookup and List.
func RegisterProgram(prog *Program) {
	registeredPrograms = append(registeredPrograms, prog)
	sort.Sort(registeredPrograms)
}

// List returns the registered programs sorted by name.
func List() ProgramList {
	return append(ProgramList(nil), registeredPrograms...)
}

// Lookup returns the program registered under name.
func Lookup(name string) (*Program, *kernel.Error) {
	for _, prog := range registeredPrograms {
		if prog.Name == name {
			return prog, nil
		}
	}
	return nil, ErrUnknownProgram
}

// Spawn creates a runnable environment for prog and loads its segments.
func Spawn(k *env.Kernel, prog *Program) (abi.EnvID, error) {
	id, err := k.Spawn(prog.Entry)
	if err != nil {
		return 0, err
	}

	for _, seg := range prog.Segments {
		if err = k.LoadSegment(id, seg.VA, seg.Perm, seg.Data); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// loadString reads a NUL-terminated string of at most max bytes at va.
func loadString(p *lib.Process, va uintptr, max int) string {
	var (
		buf = make([]byte, 0, max)
		b   [1]byte
	)
	for ; len(buf) < max; va++ {
		p.Machine().Load(va, b[:])
		if b[0] == 0 {
			break
		}
		buf = append(buf, b[0])
	}
	return string(buf)
}

// storeString writes s followed by a NUL byte at va.
func storeString(p *lib.Process, va uintptr, s string) {
	p.Machine().Store(va, append([]byte(s), 0))
}
