package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/mwcore/mwwallet/build"
	"github.com/mwcore/mwwallet/mwcfg"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[mwwallet] %v\n", err)
	os.Exit(1)
}

const (
	// configKey is the app metadata key of the loaded config.
	configKey = "config"

	// contextKey is the app metadata key of the command context.
	contextKey = "context"
)

func getConfig(ctx *cli.Context) *mwcfg.Config {
	return ctx.App.Metadata[configKey].(*mwcfg.Config)
}

// getContext returns the context cancelled on interrupt.
func getContext(ctx *cli.Context) context.Context {
	return ctx.App.Metadata[contextKey].(context.Context)
}

func main() {
	// Global options come first and are shared with the config file.
	// Everything from the command name on is left to the cli app.
	cfg, rest, err := mwcfg.LoadConfig(os.Args[1:])
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fatal(err)
	}

	logWriter := build.NewRotatingLogWriter()
	err = logWriter.InitLogRotator(cfg.FileLogger(), cfg.LogFile())
	if err != nil {
		fatal(err)
	}
	mgr := setupLoggers(logWriter)
	if err := build.ParseAndSetDebugLevels(cfg.DebugLevel, mgr); err != nil {
		_ = logWriter.Close()
		fatal(err)
	}

	cmdCtx, interrupts := interceptInterrupts()

	app := cli.NewApp()
	app.Name = "mwwallet"
	app.Version = build.Version()
	app.Usage = "MimbleWimble wallet exchanging slates as slatepacks"
	app.Metadata = map[string]interface{}{
		configKey:  cfg,
		contextKey: cmdCtx,
	}
	app.Commands = []cli.Command{
		initCommand,
		addressCommand,
		infoCommand,
		outputsCommand,
		txsCommand,
		scanCommand,
		sendCommand,
		receiveCommand,
		invoiceCommand,
		payCommand,
		finalizeCommand,
		postCommand,
		cancelCommand,
		mixCommand,
		coinbaseCommand,
	}

	err = app.Run(append([]string{os.Args[0]}, rest...))
	interrupts.stop()
	_ = logWriter.Close()
	if err != nil {
		fatal(err)
	}
}
