package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/slighter12/rojo-bridge-go/cli"
	"github.com/slighter12/rojo-bridge-go/logger"
)

func main() {
	var c cli.CLI
	kctx := kong.Parse(&c,
		kong.Name("rojo-bridge"),
		kong.Description("Browse and watch Rojo sync servers from the terminal or over HTTP."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	globals, err := cli.NewGlobals(ctx, &c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Only the long-running server writes to the log file.
	var logPaths []string
	if kctx.Command() == "serve" {
		logPaths = append(logPaths, globals.Config.Logging.Path)
	}
	if err := logger.Init(logger.GetLevelFromString(globals.Config.Logging.Level), logger.Format(globals.Config.Logging.Format), logPaths...); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := kctx.Run(globals); err != nil {
		logger.Error("Command failed", "command", kctx.Command(), "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
