package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/sensorlink/cmd/sensorlink/hmi"
	"github.com/temoto/sensorlink/cmd/sensorlink/ota"
	"github.com/temoto/sensorlink/cmd/sensorlink/pair"
	"github.com/temoto/sensorlink/cmd/sensorlink/resolve"
	"github.com/temoto/sensorlink/cmd/sensorlink/sensor"
	"github.com/temoto/sensorlink/cmd/sensorlink/subcmd"
	"github.com/temoto/sensorlink/config"
	"github.com/temoto/sensorlink/log2"
)

var modules = []subcmd.Mod{
	sensor.Mod,
	hmi.Mod,
	ota.Mod,
	pair.Mod,
	resolve.Mod,
}

func main() {
	flagConfig := flag.String("config", "sensorlink.hcl", "")
	flagLevel := flag.String("log-level", "info", "error|info|debug|all")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] command [args]\n\nCommands:\n%s\nFlags:\n", os.Args[0], subcmd.Usage(modules))
		flag.PrintDefaults()
	}
	flag.Parse()

	log := log2.NewStderr(log2.LInfo)
	if subcmd.SdNotify("start") || !isatty.IsTerminal(os.Stderr.Fd()) {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	if level, err := log2.ParseLevel(*flagLevel); err != nil {
		log.Fatal(err)
	} else {
		log.SetLevel(level)
	}

	mod, err := subcmd.Parse(flag.Arg(0), modules)
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}
	config := config.MustReadConfigFile(*flagConfig, log)
	if config.Sensor.LogDebug {
		log.SetLevel(log2.LDebug)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		s := <-signalCh
		log.Infof("signal=%s stopping", s)
		cancel()
		// second signal
		<-signalCh
		os.Exit(1)
	}()

	log.Debugf("command=%s config=%+v", mod.Name, config)
	if err := mod.Main(ctx, config, log, flag.Args()[1:]); err != nil && errors.Cause(err) != context.Canceled {
		log.Fatal(errors.ErrorStack(err))
	}
}
