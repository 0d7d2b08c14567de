package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gopherjos/kernel/mm"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct{}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the fixed user virtual address layout"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return "layout - print the fixed user virtual address layout.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Layout) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Layout) Execute(context.Context, *flag.FlagSet, ...interface{}) subcommands.ExitStatus {
	if err := writeLayout(os.Stdout); err != nil {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

var layout = []struct {
	name string
	va   uintptr
	desc string
}{
	{"ULIM", mm.ULIM, "highest user-readable address"},
	{"UVPD", mm.UVPD, "read-only view of the page directory"},
	{"UVPT", mm.UVPT, "read-only view of the page tables"},
	{"UTOP", mm.UTOP, "top of the user-writable address space"},
	{"UXSTACKTOP", mm.UXSTACKTOP, "top of the exception stack"},
	{"USTACKTOP", mm.USTACKTOP, "top of the normal stack"},
	{"UTEXT", mm.UTEXT, "program image"},
	{"PFTEMP", mm.PFTEMP, "copy-on-write scratch page"},
	{"UTEMP", mm.UTEMP, "scratch region"},
}

func writeLayout(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, l := range layout {
		fmt.Fprintf(w, "%s\t%08x\t%s\n", l.name, l.va, l.desc)
	}
	return w.Flush()
}
