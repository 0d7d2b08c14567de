package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gopherjos/config"
	"gopherjos/kernel/env"
	"gopherjos/lib"
	"gopherjos/user"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	mappings bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run user programs until no environment is runnable"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <program>... - boot one environment per program and run them.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.mappings, "mappings", false, "print the mappings of every environment as it exits.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var progs []*user.Program
	for _, name := range f.Args() {
		prog, err := user.Lookup(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			return subcommands.ExitUsageError
		}
		progs = append(progs, prog)
	}

	if err := r.run(ctx, conf, progs, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (r *Run) run(ctx context.Context, conf *config.Config, progs []*user.Program, out io.Writer) error {
	k, err := env.New(conf)
	if err != nil {
		return err
	}
	defer k.Close()

	k.SetConsole(out)
	k.OnExit(func(info env.ExitInfo) {
		if info.Status != nil {
			fmt.Fprintf(out, "[%s] destroyed: %v\n", info.ID, info.Status)
		}
		if r.mappings {
			writeMappings(out, info)
		}
	})

	for _, prog := range progs {
		if _, err := user.Spawn(k, prog); err != nil {
			return fmt.Errorf("spawning %s: %w", prog.Name, err)
		}
	}
	return k.Run(ctx)
}

// writeMappings prints the user mappings of an exiting environment.
func writeMappings(out io.Writer, info env.ExitInfo) {
	fmt.Fprintf(out, "[%s] mappings at exit (parent %s):\n", info.ID, info.Parent)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  VA\tFRAME\tSTATE\tREFS")
	for _, m := range info.Mappings {
		entry := lib.Entry(m.Entry)
		fmt.Fprintf(w, "  %08x\t%05x\t%s\t%d\n", m.VA, uintptr(entry.Frame()), entry.State(), m.Refs)
	}
	_ = w.Flush()
}
