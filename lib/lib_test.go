package lib

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopherjos/abi"
	"gopherjos/kernel/mm"
)

const (
	permRW  = abi.FlagPresent | abi.FlagUserAccessible | abi.FlagRW
	permRO  = abi.FlagPresent | abi.FlagUserAccessible
	permCOW = abi.FlagPresent | abi.FlagUserAccessible | abi.FlagCopyOnWrite
)

// expectFatal runs fn and returns the FatalError it aborts with.
func expectFatal(t *testing.T, fn func()) (fe *FatalError) {
	t.Helper()
	defer func() {
		var ok bool
		if fe, ok = recover().(*FatalError); !ok {
			t.Fatal("expected a FatalError")
		}
	}()
	fn()
	return nil
}

func TestPageTableView(t *testing.T) {
	f := newFakeMachine(t)
	f.mapPage(mm.UTEXT, permRW)
	f.mapPage(mm.UTEXT+mm.PageSize, permCOW)
	vpt := NewPageTableView(f)

	if _, err := vpt.Lookup(mm.UTEXT + mm.PTSize); err != ErrNoPageTable {
		t.Fatalf("expected ErrNoPageTable; got %v", err)
	}
	if _, err := vpt.Table(mm.UTEXT + mm.PTSize); err != ErrNoPageTable {
		t.Fatalf("expected ErrNoPageTable; got %v", err)
	}

	specs := []struct {
		va       uintptr
		expState PageState
		expFrame mm.Frame
	}{
		{mm.UTEXT + 0x42, PagePrivate, 0x100},
		{mm.UTEXT + mm.PageSize, PageSharedCopyOnWrite, 0x101},
		{mm.UTEXT + 2*mm.PageSize, PageAbsent, 0},
	}
	for specIndex, spec := range specs {
		entry, err := vpt.Lookup(spec.va)
		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}
		if entry.State() != spec.expState || entry.Frame() != spec.expFrame {
			t.Errorf("[spec %d] expected %s page in frame %d; got %s in %d", specIndex, spec.expState, spec.expFrame, entry.State(), entry.Frame())
		}
	}

	table, err := vpt.Table(mm.UTEXT + 5*mm.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if table[0].State() != PagePrivate || table[1].State() != PageSharedCopyOnWrite || table[2].Present() {
		t.Fatalf("unexpected table contents: %x", table[:3])
	}
}

func TestEntryState(t *testing.T) {
	specs := []struct {
		entry    Entry
		expState PageState
		expPerm  abi.PTE
	}{
		{0, PageAbsent, 0},
		{Entry(permRW), PagePrivate, permRW},
		{Entry(permRO), PageSharedReadOnly, permRO},
		{Entry(permCOW), PageSharedCopyOnWrite, permCOW},
		// A writable entry that still carries the COW bit is treated as
		// copy-on-write.
		{Entry(permRW | abi.FlagCopyOnWrite), PageSharedCopyOnWrite, permCOW},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			state := spec.entry.State()
			if state != spec.expState {
				t.Fatalf("expected state %s; got %s", spec.expState, state)
			}
			if got := state.Perm(); got != spec.expPerm {
				t.Fatalf("expected perm %#x; got %#x", spec.expPerm, got)
			}
		})
	}
}

func TestAttach(t *testing.T) {
	f := newFakeMachine(t)

	p := Attach(f)
	if p.ID() != f.id || p.Armed() {
		t.Fatalf("unexpected initial process state: id %s armed %t", p.ID(), p.Armed())
	}
	if again := Attach(f); again != p {
		t.Fatal("expected Attach to return the state stored in the environment")
	}
}

func TestSetFaultHandler(t *testing.T) {
	f := newFakeMachine(t)
	p := Attach(f)

	p.SetFaultHandler(func(*Process, *abi.UTrapframe) {})
	p.SetFaultHandler(CopyOnWrite)

	exp := []string{
		"page_alloc(0, eebff000, 007)",
		"set_upcall(0)",
	}
	if diff := cmp.Diff(exp, f.calls); diff != "" {
		t.Fatalf("expected arming to happen once (-want +got):\n%s", diff)
	}
	if !p.Armed() || f.upcall == nil {
		t.Fatal("expected the process to be armed")
	}

	fe := expectFatal(t, func() { p.SetFaultHandler(nil) })
	if !errors.Is(fe, ErrNilHandler) {
		t.Fatalf("expected ErrNilHandler; got %v", fe)
	}
}

func TestSetFaultHandlerArmingFailure(t *testing.T) {
	specs := []struct {
		failOp string
	}{
		{"page_alloc"},
		{"set_upcall"},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			f := newFakeMachine(t)
			f.failOn[spec.failOp] = abi.ErrNoMem
			p := Attach(f)

			fe := expectFatal(t, func() { p.SetFaultHandler(CopyOnWrite) })
			if !errors.Is(fe, abi.ErrNoMem) || fe.Op != "set_pgfault_handler" || fe.Env != f.id {
				t.Fatalf("unexpected fatal error: %v", fe)
			}
			if p.Armed() {
				t.Fatal("expected the process to stay unarmed")
			}
		})
	}
}

func TestCopyOnWrite(t *testing.T) {
	f := newFakeMachine(t)
	va := mm.UTEXT + 3*mm.PageSize
	orig := f.mapPage(va, permCOW)
	copy(orig.data[:], "shared contents")

	p := Attach(f)
	f.calls = nil
	CopyOnWrite(p, &abi.UTrapframe{FaultVA: uint32(va + 0x123), Err: abi.FaultUser | abi.FaultWrite | abi.FaultPresent})

	exp := []string{
		"page_alloc(0, 007ff000, 007)",
		"page_map(0, 007ff000, 0, 00803000, 007)",
		"page_unmap(0, 007ff000)",
	}
	if diff := cmp.Diff(exp, f.calls); diff != "" {
		t.Fatalf("unexpected syscalls (-want +got):\n%s", diff)
	}

	got := f.pages[va]
	if got.entry.Flags() != permRW {
		t.Fatalf("expected private writable page; got flags %#x", got.entry.Flags())
	}
	if got.entry.Frame() == orig.entry.Frame() || got.data == orig.data {
		t.Fatal("expected the page to be backed by a new frame")
	}
	if *got.data != *orig.data {
		t.Fatal("expected the page contents to be copied")
	}
	if _, ok := f.pages[mm.PFTEMP]; ok {
		t.Fatal("expected the scratch page to be unmapped")
	}
}

func TestCopyOnWriteFatal(t *testing.T) {
	cowVA := mm.UTEXT
	roVA := mm.UTEXT + mm.PageSize
	write := abi.FaultUser | abi.FaultWrite | abi.FaultPresent

	specs := []struct {
		va     uintptr
		err    uint32
		failOp string
		expOp  string
		expErr error
	}{
		{mm.UTEXT + mm.PTSize, write, "", "pgfault", ErrNoPageTable},
		{cowVA, abi.FaultUser | abi.FaultPresent, "", "pgfault", ErrNotWriteFault},
		{roVA, write, "", "pgfault", ErrNotCopyOnWrite},
		{mm.UTEXT + 7*mm.PageSize, write, "", "pgfault", ErrNotCopyOnWrite},
		{cowVA, write, "page_alloc", "page_alloc", abi.ErrNoMem},
		{cowVA, write, "page_map", "page_map", abi.ErrNoMem},
		{cowVA, write, "page_unmap", "page_unmap", abi.ErrNoMem},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			f := newFakeMachine(t)
			f.mapPage(cowVA, permCOW)
			f.mapPage(roVA, permRO)
			if spec.failOp != "" {
				f.failOn[spec.failOp] = abi.ErrNoMem
			}
			p := Attach(f)

			fe := expectFatal(t, func() {
				CopyOnWrite(p, &abi.UTrapframe{FaultVA: uint32(spec.va), Err: spec.err})
			})
			if fe.Op != spec.expOp || !errors.Is(fe, spec.expErr) {
				t.Fatalf("expected fatal %s error %v; got %v", spec.expOp, spec.expErr, fe)
			}
		})
	}
}

func TestDuppage(t *testing.T) {
	specs := []struct {
		perm     abi.PTE
		expCalls []string
		expSelf  abi.PTE
		expChild abi.PTE
	}{
		{
			permRW,
			[]string{
				"page_map(0, 00800000, 4097, 00800000, 805)",
				"page_map(0, 00800000, 0, 00800000, 805)",
			},
			permCOW,
			permCOW,
		},
		{
			permCOW,
			[]string{
				"page_map(0, 00800000, 4097, 00800000, 805)",
				"page_map(0, 00800000, 0, 00800000, 805)",
			},
			permCOW,
			permCOW,
		},
		{
			permRO,
			[]string{
				"page_map(0, 00800000, 4097, 00800000, 005)",
			},
			permRO,
			permRO,
		},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			f := newFakeMachine(t)
			pg := f.mapPage(mm.UTEXT, spec.perm)
			p := Attach(f)

			if err := p.duppage(f.childID, mm.UTEXT, Entry(pg.entry)); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(spec.expCalls, f.calls); diff != "" {
				t.Fatalf("unexpected syscalls (-want +got):\n%s", diff)
			}

			self := f.pages[mm.UTEXT].entry
			child := f.remote[f.childID][mm.UTEXT]
			if self.Flags() != spec.expSelf || child.Flags() != spec.expChild {
				t.Fatalf("expected flags %#x/%#x; got %#x/%#x", spec.expSelf, spec.expChild, self.Flags(), child.Flags())
			}
			if self.Frame() != pg.entry.Frame() || child.Frame() != pg.entry.Frame() {
				t.Fatal("expected both mappings to share the original frame")
			}
		})
	}
}

func TestFork(t *testing.T) {
	f := newFakeMachine(t)
	f.mapPage(mm.UTEXT, permRW)
	f.mapPage(mm.UTEXT+mm.PageSize, permRO)
	f.mapPage(0x01000000, permCOW)
	f.mapPage(mm.USTACKTOP-mm.PageSize, permRW)
	p := Attach(f)

	child, err := p.Fork()
	if err != nil {
		t.Fatal(err)
	}
	if child != f.childID {
		t.Fatalf("expected child id %s; got %s", f.childID, child)
	}

	exp := []string{
		"page_alloc(0, eebff000, 007)",
		"set_upcall(0)",
		"exofork()",
		"page_map(0, 00800000, 4097, 00800000, 805)",
		"page_map(0, 00800000, 0, 00800000, 805)",
		"page_map(0, 00801000, 4097, 00801000, 005)",
		"page_map(0, 01000000, 4097, 01000000, 805)",
		"page_map(0, 01000000, 0, 01000000, 805)",
		"page_map(0, eebfd000, 4097, eebfd000, 805)",
		"page_map(0, eebfd000, 0, eebfd000, 805)",
		"page_alloc(4097, eebff000, 007)",
		"set_upcall(4097)",
		"set_status(4097, runnable)",
	}
	if diff := cmp.Diff(exp, f.calls); diff != "" {
		t.Fatalf("unexpected syscalls (-want +got):\n%s", diff)
	}

	// The exception stacks are never shared.
	xstack := mm.UXSTACKTOP - mm.PageSize
	if f.remote[child][xstack].Frame() == f.pages[xstack].entry.Frame() {
		t.Fatal("expected the child to get its own exception stack")
	}
	if f.pages[xstack].entry.Flags() != permRW {
		t.Fatalf("expected the parent's exception stack to stay private; got %#x", f.pages[xstack].entry)
	}
}

func TestForkInChild(t *testing.T) {
	f := newFakeMachine(t)
	f.asChild = true
	p := Attach(f)

	child, err := p.Fork()
	if err != nil || child != 0 {
		t.Fatalf("expected Fork to return 0 in the child; got %s, %v", child, err)
	}
	if p.ID() != f.childID {
		t.Fatalf("expected the process id to be refreshed to %s; got %s", f.childID, p.ID())
	}
	if diff := cmp.Diff([]string{"page_alloc(0, eebff000, 007)", "set_upcall(0)", "exofork()"}, f.calls); diff != "" {
		t.Fatalf("expected no duplication in the child (-want +got):\n%s", diff)
	}
}

func TestForkErrors(t *testing.T) {
	specs := []struct {
		failOp     string
		expErr     error
		expDestroy bool
	}{
		{"exofork", abi.ErrNoFreeEnv, false},
		{"page_map", abi.ErrNoMem, true},
		{"page_alloc", abi.ErrNoMem, true},
		{"set_upcall", abi.ErrBadEnv, true},
		{"set_status", abi.ErrBadEnv, true},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			f := newFakeMachine(t)
			f.mapPage(mm.UTEXT, permRW)
			p := Attach(f)

			// Arm first so that only the fork steps see the failure.
			p.SetFaultHandler(CopyOnWrite)
			f.calls = nil
			f.failOn[spec.failOp] = spec.expErr

			child, err := p.Fork()
			if child != 0 || !errors.Is(err, spec.expErr) {
				t.Fatalf("expected error wrapping %v; got %s, %v", spec.expErr, child, err)
			}

			destroyed := f.calls[len(f.calls)-1] == "destroy(4097)"
			if destroyed != spec.expDestroy {
				t.Fatalf("expected child destroyed: %t; calls: %v", spec.expDestroy, f.calls)
			}
		})
	}
}

func writeFrame(f *fakeMachine, va uintptr, utf *abi.UTrapframe) {
	var buf [abi.UTrapframeSize]byte
	utf.MarshalBytes(buf[:])
	f.Store(va, buf[:])
}

func readWord(f *fakeMachine, va uintptr) uint32 {
	var buf [4]byte
	f.Load(va, buf[:])
	return binary.NativeEndian.Uint32(buf[:])
}

func TestUpcall(t *testing.T) {
	specs := []struct {
		// rewrite is applied by the handler to the frame on the stack.
		rewrite func(utf *abi.UTrapframe)
		expEIP  uint32
	}{
		{nil, 0x00801234},
		{func(utf *abi.UTrapframe) { utf.EIP += 2 }, 0x00801236},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			f := newFakeMachine(t)
			f.mapPage(mm.USTACKTOP-mm.PageSize, permRW)
			p := Attach(f)

			frame := mm.UXSTACKTOP - abi.UTrapframeSize
			trapTime := abi.UTrapframe{
				FaultVA: 0x00800123,
				Err:     abi.FaultUser | abi.FaultWrite,
				Regs:    abi.PushRegs{EAX: 1, EBX: 2, ECX: 3, EDX: 4, ESI: 5, EDI: 6, EBP: 7},
				EIP:     0x00801234,
				EFlags:  0x202,
				ESP:     uint32(mm.USTACKTOP - 16),
			}

			var (
				seen   []abi.UTrapframe
				argESP uint32
			)
			p.SetFaultHandler(func(p *Process, utf *abi.UTrapframe) {
				seen = append(seen, *utf)
				argESP = f.tf.ESP
				if spec.rewrite != nil {
					rewritten := *utf
					spec.rewrite(&rewritten)
					writeFrame(f, frame, &rewritten)
				}
			})
			writeFrame(f, frame, &trapTime)
			f.tf = abi.Trapframe{ESP: uint32(frame), EIP: 0x00800020}

			Upcall(f)

			if diff := cmp.Diff([]abi.UTrapframe{trapTime}, seen); diff != "" {
				t.Fatalf("unexpected frame passed to the handler (-want +got):\n%s", diff)
			}
			if argESP != uint32(frame)-4 || readWord(f, frame-4) != uint32(frame) {
				t.Fatal("expected the frame address to be pushed as the handler argument")
			}

			expTF := abi.Trapframe{Regs: trapTime.Regs, EIP: spec.expEIP, EFlags: trapTime.EFlags, ESP: trapTime.ESP}
			if diff := cmp.Diff(expTF, f.tf); diff != "" {
				t.Fatalf("unexpected registers after the upcall (-want +got):\n%s", diff)
			}
			if got := readWord(f, uintptr(trapTime.ESP)-4); got != spec.expEIP {
				t.Fatalf("expected the resume address on the trap-time stack; got %08x", got)
			}
		})
	}
}

func TestUpcallWithoutHandler(t *testing.T) {
	f := newFakeMachine(t)
	f.mapPage(mm.UXSTACKTOP-mm.PageSize, permRW)
	frame := mm.UXSTACKTOP - abi.UTrapframeSize
	writeFrame(f, frame, &abi.UTrapframe{FaultVA: 0x00800000})
	f.tf.ESP = uint32(frame)

	fe := expectFatal(t, func() { Upcall(f) })
	if !errors.Is(fe, ErrNoHandler) || fe.VA != 0x00800000 {
		t.Fatalf("unexpected fatal error: %v", fe)
	}
}
