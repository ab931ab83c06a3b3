// Command leituras-admin runs aggregations and database diagnostics from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/septivank/sensor-rollup/internal/app"
	"github.com/septivank/sensor-rollup/internal/config"
	"github.com/septivank/sensor-rollup/internal/repository"
	"github.com/septivank/sensor-rollup/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const usage = `usage: leituras-admin <command> [flags]

commands:
  aggregate         aggregate pending readings (-period hour|day|week)
  check-connection  ping the database and count its tables
  count             show the row count of every application table
  seed              insert synthetic readings for local testing
`

// deps is what every command needs from the application graph
type deps struct {
	cfg    *config.Config
	logger *zap.Logger
	repo   repository.Repository
	svc    *service.AggregationService
}

type command func(ctx context.Context, d *deps, args []string) error

var commands = map[string]command{
	"aggregate":        runAggregate,
	"check-connection": runCheckConnection,
	"count":            runCount,
	"seed":             runSeed,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	name := os.Args[1]
	if name == "-h" || name == "--help" || name == "help" {
		fmt.Print(usage)
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", name, usage)
		os.Exit(2)
	}

	app.LoadEnv()
	// keep the structured log quiet unless asked for
	if os.Getenv("LOG_LEVEL") == "" {
		os.Setenv("LOG_LEVEL", "warn")
	}

	if err := run(cmd, os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, failure("%v", err))
		os.Exit(1)
	}
}

func run(cmd command, args []string) error {
	var d deps
	fxApp := fx.New(
		app.Core,
		fx.NopLogger,
		fx.Populate(&d.cfg, &d.logger, &d.repo, &d.svc),
	)
	if err := fxApp.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = fxApp.Stop(stopCtx)
		_ = d.logger.Sync()
	}()

	return cmd(context.Background(), &d, args)
}
