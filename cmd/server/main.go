package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iudanet/chordkeeper/internal/config"
	"github.com/iudanet/chordkeeper/internal/logging"
	"github.com/iudanet/chordkeeper/internal/server"
	"github.com/iudanet/chordkeeper/internal/server/handlers"
	"github.com/iudanet/chordkeeper/internal/server/storage/sqlite"
	"github.com/iudanet/chordkeeper/internal/validation"
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
	cfg, err := config.LoadServer(os.Args[1:], os.Stderr)
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

	jwtCfg := handlers.JWTConfig{Secret: []byte(cfg.JWTSecret), TokenTTL: cfg.TokenTTL}

	// выпуск токена не требует базы и сети
	if cfg.IssueToken != "" {
		return issueToken(jwtCfg, cfg.IssueToken)
	}

	logger, err := logging.New(cfg.Log.Logging(), os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, cfg.DBPath, logger.Logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	srv := server.New(server.Config{
		Addr:            cfg.Addr,
		Version:         Version,
		JWT:             jwtCfg,
		RelayJoinRate:   cfg.RelayJoinRate,
		RelayJoinWindow: cfg.RelayJoinWindow,
	}, store, logger.Logger)

	logger.Info("chordkeeper server starting", "addr", cfg.Addr, "version", Version)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		return 1
	}
	logger.Info("chordkeeper server stopped")
	return 0
}

func issueToken(cfg handlers.JWTConfig, ownerID string) int {
	if err := validation.ValidateOwnerID(ownerID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	token, expiresAt, err := handlers.IssueOwnerToken(cfg, ownerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Println(token)
	if !expiresAt.IsZero() {
		fmt.Fprintf(os.Stderr, "Expires: %s\n", expiresAt.Format(time.RFC3339))
	}
	return 0
}

func printVersion() {
	fmt.Printf("chordkeeper server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
