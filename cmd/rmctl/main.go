package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/juju/errors"
	"github.com/temoto/rmlink/cmd/rmctl/subcmd"
	"github.com/temoto/rmlink/internal/config"
	"github.com/temoto/rmlink/log2"
)

var log = log2.NewStderr(log2.LInfo)

var modules = []subcmd.Mod{
	{Name: "info", Usage: "print firmware version and serial number", Main: infoMain},
	{Name: "move", Usage: "x y z [xy_speed z_speed]  relative chassis move, meters and degrees", Main: moveMain},
	{Name: "drive", Usage: "x y z sec  chassis speed for duration", Main: driveMain},
	{Name: "sub", Usage: "subject sec  print telemetry samples", Main: subMain},
	{Name: "shell", Usage: "interactive command prompt", Main: shellMain},
	{Name: "monitor", Usage: "keep session, serve /status /metrics, forward telemetry to MQTT", Main: monitorMain},
	{Name: "sim", Usage: "[listen]  run simulated robot", Main: simMain},
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagConfig := cmdline.String("config", "rmlink.hcl", "")
	flagDebug := cmdline.Bool("debug", false, "debug logging")
	cmdline.Usage = func() {
		fmt.Fprintf(cmdline.Output(), "usage: %s [flags] command [args]\ncommands:\n%s\nflags:\n",
			os.Args[0], subcmd.Usage(modules))
		cmdline.PrintDefaults()
	}
	_ = cmdline.Parse(os.Args[1:])

	mod, err := subcmd.Parse(cmdline.Arg(0), modules)
	if err != nil {
		cmdline.Usage()
		log.Fatal(err)
	}

	if subcmd.SdNotify("start") {
		// under systemd journal, no timestamps
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	fs, err := config.NewOsFullReader(".")
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	// missing default config is fine, explicit one is required
	names := []string{*flagConfig}
	cfg, err := config.Read(log, fs, names...)
	if err != nil && !(errors.IsNotFound(err) && !isFlagSet(cmdline, "config")) {
		log.Fatal(errors.ErrorStack(err))
	}
	if *flagDebug || cfg.Robot.LogDebug {
		log.SetLevel(log2.LDebug)
	}

	env := &subcmd.Env{Log: log, Config: cfg, Args: cmdline.Args()[1:], Out: os.Stdout}
	if err := mod.Main(context.Background(), env); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
