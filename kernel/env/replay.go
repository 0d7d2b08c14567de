package env

import (
	"fmt"

	"gopherjos/abi"
)

type eventKind uint8

const (
	evSyscall eventKind = iota
	evLoad
	evStore
	evFault
)

var eventKindNames = [...]string{
	evSyscall: "syscall",
	evLoad:    "load",
	evStore:   "store",
	evFault:   "fault",
}

func (k eventKind) String() string { return eventKindNames[k] }

// event is one journal entry. Syscalls record their name and results, loads
// the bytes read, stores their extent, and faults the exception stack frame
// and upcall they were delivered with.
type event struct {
	kind eventKind

	op  string
	id  abi.EnvID
	err error

	va   uintptr
	size int
	data []byte

	code   uint32
	frame  uint32
	upcall abi.Upcall
}

func (ev *event) String() string {
	switch ev.kind {
	case evSyscall:
		return fmt.Sprintf("syscall %s", ev.op)
	case evFault:
		return fmt.Sprintf("fault at %08x", ev.va)
	default:
		return fmt.Sprintf("%s at %08x", ev.kind, ev.va)
	}
}

// record appends ev to the journal of a live environment.
func (e *Env) record(ev event) {
	e.journal = append(e.journal, ev)
}

// forkJournal returns the journal a child created now replays: everything
// observed so far followed by an Exofork returning 0.
func (e *Env) forkJournal() []event {
	journal := make([]event, len(e.journal), len(e.journal)+1)
	copy(journal, e.journal)
	return append(journal, event{kind: evSyscall, op: "exofork"})
}

// next consumes the next journal entry, which must match kind and op.
// Consuming the final entry ends the replay: the registers saved when the
// environment was forked are restored and execution continues live.
func (e *Env) next(kind eventKind, op string) *event {
	if e.cursor >= len(e.journal) {
		e.destroyDiverged(fmt.Sprintf("journal exhausted at %s %s", kind, op))
	}

	ev := &e.journal[e.cursor]
	if ev.kind != kind || ev.op != op {
		e.destroyDiverged(fmt.Sprintf("expected %s; program issued %s %s", ev, kind, op))
	}
	e.cursor++

	if e.cursor == len(e.journal) {
		e.replaying = false
		e.tf = e.forkTF
		e.log.WithField("events", len(e.journal)).Debug("replay complete")
	}
	return ev
}

// replaySyscall returns the results journaled for a syscall.
func (e *Env) replaySyscall(op string) (abi.EnvID, error) {
	ev := e.next(evSyscall, op)
	return ev.id, ev.err
}

// replayAccess reproduces a load or store: faults delivered while the
// access was performed are delivered again and loads return the journaled
// bytes. Memory is never written.
func (e *Env) replayAccess(kind eventKind, va uintptr, buf []byte) {
	for e.cursor < len(e.journal) && e.journal[e.cursor].kind == evFault {
		e.replayFault(e.next(evFault, ""))
	}

	ev := e.next(kind, "")
	switch {
	case ev.va != va:
		e.destroyDiverged(fmt.Sprintf("%s at %08x replayed at %08x", kind, ev.va, va))
	case kind == evLoad && len(ev.data) != len(buf):
		e.destroyDiverged(fmt.Sprintf("load of %d bytes replayed with %d", len(ev.data), len(buf)))
	case kind == evStore && ev.size != len(buf):
		e.destroyDiverged(fmt.Sprintf("store of %d bytes replayed with %d", ev.size, len(buf)))
	}

	copy(buf[:len(ev.data)], ev.data)
}
