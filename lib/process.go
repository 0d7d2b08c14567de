package lib

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gopherjos/abi"
	"gopherjos/kernel/kfmt"
)

// armState tracks whether the exception stack and the upcall trampoline have
// been set up.
type armState uint8

const (
	unarmed armState = iota
	armed
)

// FaultHandler resolves a page fault described by utf. It returns once the
// faulting access can be retried or does not return at all.
type FaultHandler func(p *Process, utf *abi.UTrapframe)

// Process is the library state of an environment: its id, its page fault
// handler and whether the exception stack has been provisioned. It lives in
// the environment's local storage, so a forked child inherits the state its
// parent had when it forked.
type Process struct {
	m       Machine
	self    abi.EnvID
	state   armState
	handler FaultHandler
	vpt     PageTableView
	log     *logrus.Entry
}

// Attach returns the library state of the environment executing on m,
// creating it on first use.
func Attach(m Machine) *Process {
	if p, ok := m.Local().(*Process); ok {
		return p
	}

	p := &Process{
		m:   m,
		vpt: NewPageTableView(m),
		log: kfmt.ForModule("lib"),
	}
	p.self = m.GetEnvID()
	m.SetLocal(p)
	return p
}

// ID returns the id of the environment.
func (p *Process) ID() abi.EnvID {
	return p.self
}

// Machine returns the environment the process executes on.
func (p *Process) Machine() Machine {
	return p.m
}

// PageTable returns the view of the process's own page tables.
func (p *Process) PageTable() PageTableView {
	return p.vpt
}

// Printf formats according to a format specifier and writes the result to
// the console.
func (p *Process) Printf(format string, args ...interface{}) {
	p.m.Cputs(fmt.Sprintf(format, args...))
}

// Yield gives up the CPU.
func (p *Process) Yield() {
	p.m.Yield()
}

// Exit destroys the calling environment.
func (p *Process) Exit() {
	_ = p.m.EnvDestroy(0)
}
