package main

import (
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"github.com/temoto/picocast/cmd/picocast/console"
	"github.com/temoto/picocast/cmd/picocast/discover"
	"github.com/temoto/picocast/cmd/picocast/serve"
	"github.com/temoto/picocast/cmd/picocast/sim"
	"github.com/temoto/picocast/cmd/picocast/subcmd"
	"github.com/temoto/picocast/internal/state"
	"github.com/temoto/picocast/log2"
)

var log = log2.NewStderr(log2.LDebug)

// set by linker -X main.BuildVersion=...
var BuildVersion string = "unknown"

var modules = []subcmd.Mod{
	serve.Mod,
	console.Mod,
	discover.Mod,
	sim.Mod,
}

func main() {
	flags := pflag.NewFlagSet("picocast", pflag.ContinueOnError)
	flagConfig := flags.StringP("config", "c", "picocast.hcl", "config file")
	flagDebug := flags.Bool("debug", false, "debug logging, overrides log_debug in config")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: picocast [flags] command\n\ncommands:\n")
		for _, m := range modules {
			fmt.Fprintf(os.Stderr, "  %-9s %s\n", m.Name, m.Usage)
		}
		fmt.Fprintf(os.Stderr, "\nflags:\n%s", flags.FlagUsages())
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	mod, err := subcmd.Parse(flags.Arg(0), modules)
	if err != nil {
		flags.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	} else {
		log.SetFlags(log2.LStdFlags)
	}

	log.Debugf("picocast version=%s starting %s", BuildVersion, mod.Name)
	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion
	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if *flagDebug {
		config.LogDebug = true
	}
	if !config.LogDebug {
		log.SetLevel(log2.LInfo)
	}

	if err := mod.Main(ctx, config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
