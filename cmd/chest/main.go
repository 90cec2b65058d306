package main

import (
	"context"
	"os"

	"github.com/ceymard/chest/internal/cleanup"
	"github.com/ceymard/chest/internal/cli"
	"github.com/ceymard/chest/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	// restart and helper removal must happen even on a panic
	defer cleanup.Recover()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := cleanup.HandleSignals(logging.New(os.Stderr, os.Getenv("CHEST_LOG_LEVEL")), cancel)
	defer stop()

	return cli.Execute(ctx, os.Args[1:])
}
