// Command cowsim runs user programs on the simulated kernel and reports how
// their address spaces are shared.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/subcommands"
	"gopherjos/config"
	"gopherjos/kernel/kfmt"
)

var (
	configFile = flag.String("config", "", "path to a TOML configuration file.")
	debug      = flag.Bool("debug", false, "log at debug level, overriding the configuration.")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(Run), "")
	subcommands.Register(new(List), "")
	subcommands.Register(new(Layout), "")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	conf, err := loadConfig()
	if err != nil {
		fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	status := subcommands.Execute(ctx, conf)
	stop()
	os.Exit(int(status))
}

func loadConfig() (*config.Config, error) {
	conf := config.Default()
	if *configFile != "" {
		var err error
		if conf, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}
	if *debug {
		conf.LogLevel = "debug"
	}

	if err := kfmt.Configure(conf.LogLevel, conf.LogFormat); err != nil {
		return nil, fmt.Errorf("configuring logging: %w", err)
	}
	return conf, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "cowsim: "+format+"\n", args...)
	os.Exit(int(subcommands.ExitFailure))
}
