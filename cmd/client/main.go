package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/iudanet/chordkeeper/internal/client/cli"
	"github.com/iudanet/chordkeeper/internal/client/iocli"
	"github.com/iudanet/chordkeeper/internal/client/storage/boltdb"
	"github.com/iudanet/chordkeeper/internal/config"
	"github.com/iudanet/chordkeeper/internal/logging"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, args, err := config.LoadClient(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	if cfg.ShowVersion {
		printVersion()
		return 0
	}

	// с файлом лога терминал остается чистым
	var logOutput io.Writer = os.Stderr
	if cfg.Log.File != "" {
		logOutput = nil
	}
	logger, err := logging.New(cfg.Log.Logging(), logOutput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := boltdb.New(ctx, cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	c := cli.New(cfg, store, iocli.NewStdio(), logger.Logger)
	if err := c.Run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printVersion() {
	fmt.Printf("chordkeeper\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
