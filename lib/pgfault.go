package lib

import (
	"gopherjos/kernel/mm"
)

// SetFaultHandler installs handler as the page fault handler of the process.
// The first call allocates the exception stack and registers the upcall
// trampoline with the kernel; failing to do so is fatal. Later calls only
// replace the handler. There is no way to remove a handler.
func (p *Process) SetFaultHandler(handler FaultHandler) {
	if handler == nil {
		p.fatal("set_pgfault_handler", 0, ErrNilHandler)
	}

	if p.state == unarmed {
		xstack := mm.UXSTACKTOP - mm.PageSize
		if err := p.m.PageAlloc(0, xstack, PagePrivate.Perm()); err != nil {
			p.fatal("set_pgfault_handler", xstack, err)
		}
		if err := p.m.EnvSetPgfaultUpcall(0, Upcall); err != nil {
			p.fatal("set_pgfault_handler", 0, err)
		}
		p.state = armed
		p.log.WithField("env", p.self).Debug("exception stack armed")
	}

	p.handler = handler
}

// Armed returns true once the exception stack and upcall are set up.
func (p *Process) Armed() bool {
	return p.state == armed
}
