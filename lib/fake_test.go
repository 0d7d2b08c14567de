package lib

import (
	"encoding/binary"
	"fmt"
	"io"
	"testing"

	"gopherjos/abi"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/mm"
)

type fakePage struct {
	entry abi.PTE
	data  *[mm.PageSize]byte
}

// fakeMachine is a single environment whose page tables are a map. Loads in
// the UVPT window are answered from the map; other accesses must hit a
// present page with the right permissions. Every syscall except getenvid is
// appended to calls.
type fakeMachine struct {
	id      abi.EnvID
	childID abi.EnvID
	asChild bool

	pages     map[uintptr]*fakePage
	remote    map[abi.EnvID]map[uintptr]abi.PTE
	nextFrame mm.Frame

	calls  []string
	failOn map[string]error

	tf     abi.Trapframe
	local  any
	upcall abi.Upcall
}

func newFakeMachine(t *testing.T) *fakeMachine {
	kfmt.SetOutputSink(io.Discard)
	t.Cleanup(func() { kfmt.SetOutputSink(nil) })

	return &fakeMachine{
		id:        0x1000,
		childID:   0x1001,
		pages:     make(map[uintptr]*fakePage),
		remote:    make(map[abi.EnvID]map[uintptr]abi.PTE),
		nextFrame: 0x100,
		failOn:    make(map[string]error),
		tf:        abi.Trapframe{ESP: uint32(mm.USTACKTOP), EIP: uint32(mm.UTEXT)},
	}
}

func (f *fakeMachine) mapPage(va uintptr, perm abi.PTE) *fakePage {
	pg := &fakePage{data: new([mm.PageSize]byte)}
	pg.entry.SetFrame(f.nextFrame)
	pg.entry.SetFlags(perm)
	f.nextFrame++
	f.pages[va] = pg
	return pg
}

func (f *fakeMachine) self(env abi.EnvID) bool {
	return env == 0 || env == f.id
}

func (f *fakeMachine) log(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// directoryEntry emulates the page directory: a table is present for every
// 4M region holding a page.
func (f *fakeMachine) directoryEntry(pdx uintptr) abi.PTE {
	if pdx == mm.PDX(mm.UVPT) {
		return abi.PTE(1<<mm.PageShift) | abi.FlagPresent | abi.FlagUserAccessible
	}
	for va := range f.pages {
		if mm.PDX(va) == pdx {
			return abi.PTE((0x10+pdx)<<mm.PageShift) | abi.FlagPresent | abi.FlagRW | abi.FlagUserAccessible
		}
	}
	return 0
}

// uvptWord returns the word the self mapped page tables hold at addr.
func (f *fakeMachine) uvptWord(addr uintptr) uint32 {
	va := ((addr - mm.UVPT) >> mm.PointerShift) << mm.PageShift
	if mm.PDX(va) == mm.PDX(mm.UVPT) {
		return uint32(f.directoryEntry(mm.PTX(va)))
	}
	if pg := f.pages[va]; pg != nil {
		return uint32(pg.entry)
	}
	return 0
}

func (f *fakeMachine) Load(va uintptr, dst []byte) {
	for i := 0; i < len(dst); {
		addr := va + uintptr(i)
		if addr >= mm.UVPT && addr < mm.UVPT+mm.PTSize {
			binary.NativeEndian.PutUint32(dst[i:], f.uvptWord(addr))
			i += 4
			continue
		}

		pg := f.pages[mm.RoundDown(addr, mm.PageSize)]
		if pg == nil || !pg.entry.HasFlags(abi.FlagPresent|abi.FlagUserAccessible) {
			panic(fmt.Sprintf("fake: load fault at %08x", addr))
		}
		i += copy(dst[i:], pg.data[mm.PageOffset(addr):])
	}
}

func (f *fakeMachine) Store(va uintptr, src []byte) {
	for len(src) > 0 {
		pg := f.pages[mm.RoundDown(va, mm.PageSize)]
		if pg == nil || !pg.entry.HasFlags(abi.FlagPresent|abi.FlagUserAccessible|abi.FlagRW) {
			panic(fmt.Sprintf("fake: store fault at %08x", va))
		}
		n := copy(pg.data[mm.PageOffset(va):], src)
		src = src[n:]
		va += uintptr(n)
	}
}

func (f *fakeMachine) Registers() *abi.Trapframe { return &f.tf }
func (f *fakeMachine) Local() any                { return f.local }
func (f *fakeMachine) SetLocal(v any)            { f.local = v }

func (f *fakeMachine) GetEnvID() abi.EnvID { return f.id }

func (f *fakeMachine) PageAlloc(env abi.EnvID, va uintptr, perm abi.PTE) error {
	f.log("page_alloc(%d, %08x, %03x)", env, va, uint32(perm))
	if err := f.failOn["page_alloc"]; err != nil {
		return err
	}
	if f.self(env) {
		f.mapPage(va, perm)
		return nil
	}
	f.remoteMap(env, va, abi.PTE(f.nextFrame<<mm.PageShift)|perm)
	f.nextFrame++
	return nil
}

func (f *fakeMachine) PageMap(srcEnv abi.EnvID, srcVA uintptr, dstEnv abi.EnvID, dstVA uintptr, perm abi.PTE) error {
	f.log("page_map(%d, %08x, %d, %08x, %03x)", srcEnv, srcVA, dstEnv, dstVA, uint32(perm))
	if err := f.failOn["page_map"]; err != nil {
		return err
	}

	src := f.pages[srcVA]
	if !f.self(srcEnv) || src == nil {
		return abi.ErrInval
	}
	entry := abi.PTE(src.entry.Frame()<<mm.PageShift) | perm
	if f.self(dstEnv) {
		f.pages[dstVA] = &fakePage{entry: entry, data: src.data}
		return nil
	}
	f.remoteMap(dstEnv, dstVA, entry)
	return nil
}

func (f *fakeMachine) remoteMap(env abi.EnvID, va uintptr, entry abi.PTE) {
	if f.remote[env] == nil {
		f.remote[env] = make(map[uintptr]abi.PTE)
	}
	f.remote[env][va] = entry
}

func (f *fakeMachine) PageUnmap(env abi.EnvID, va uintptr) error {
	f.log("page_unmap(%d, %08x)", env, va)
	if err := f.failOn["page_unmap"]; err != nil {
		return err
	}
	if f.self(env) {
		delete(f.pages, va)
	}
	return nil
}

func (f *fakeMachine) Exofork() (abi.EnvID, error) {
	f.log("exofork()")
	if err := f.failOn["exofork"]; err != nil {
		return 0, err
	}
	if f.asChild {
		f.id = f.childID
		return 0, nil
	}
	return f.childID, nil
}

func (f *fakeMachine) EnvSetPgfaultUpcall(env abi.EnvID, upcall abi.Upcall) error {
	f.log("set_upcall(%d)", env)
	if err := f.failOn["set_upcall"]; err != nil {
		return err
	}
	if f.self(env) {
		f.upcall = upcall
	}
	return nil
}

func (f *fakeMachine) EnvSetStatus(env abi.EnvID, status abi.EnvStatus) error {
	f.log("set_status(%d, %s)", env, status)
	return f.failOn["set_status"]
}

func (f *fakeMachine) EnvDestroy(env abi.EnvID) error {
	f.log("destroy(%d)", env)
	return f.failOn["destroy"]
}

func (f *fakeMachine) Yield()         { f.log("yield()") }
func (f *fakeMachine) Cputs(s string) { f.log("cputs(%q)", s) }
