package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopherjos/abi"
	"gopherjos/config"
	"gopherjos/kernel/env"
	"gopherjos/kernel/kfmt"
	"gopherjos/kernel/mm"
	"gopherjos/lib"
	"gopherjos/user"
)

func TestWriteMappings(t *testing.T) {
	info := env.ExitInfo{
		ID:     0x1001,
		Parent: 0x1000,
		Mappings: []env.Mapping{
			{VA: mm.UTEXT, Entry: abi.PTE(0x42000) | lib.PageSharedCopyOnWrite.Perm(), Refs: 2},
			{VA: mm.UXSTACKTOP - mm.PageSize, Entry: abi.PTE(0x43000) | lib.PagePrivate.Perm(), Refs: 1},
		},
	}

	var buf bytes.Buffer
	writeMappings(&buf, info)

	exp := `[00001001] mappings at exit (parent 00001000):
  VA        FRAME  STATE          REFS
  00800000  00042  copy-on-write  2
  eebff000  00043  private        1
`
	if diff := cmp.Diff(exp, buf.String()); diff != "" {
		t.Fatalf("unexpected report (-want +got):\n%s", diff)
	}
}

func TestWriteLayout(t *testing.T) {
	var buf bytes.Buffer
	if err := writeLayout(&buf); err != nil {
		t.Fatal(err)
	}

	for _, exp := range []string{"UVPT        ef400000", "PFTEMP      007ff000", "UXSTACKTOP  eec00000"} {
		if !strings.Contains(buf.String(), exp) {
			t.Errorf("expected layout to contain %q; got:\n%s", exp, buf.String())
		}
	}
}

func TestRun(t *testing.T) {
	kfmt.SetOutputSink(io.Discard)
	defer kfmt.SetOutputSink(nil)

	prog, err := user.Lookup("nohandler")
	if err != nil {
		t.Fatal(err)
	}

	var (
		buf bytes.Buffer
		r   = Run{mappings: true}
	)
	if err := r.run(context.Background(), config.Default(), []*user.Program{prog}, &buf); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, exp := range []string{
		"[00001000] destroyed: ",
		"[00001000] mappings at exit (parent 00000000):",
		"00800000",
		"read-only",
	} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, out)
		}
	}
}
