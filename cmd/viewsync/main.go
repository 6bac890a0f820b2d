// Package main is the viewsync command: it flushes attribute changes and
// removes rows with their cascaded dependents against a described model.
package main

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"viewsync/internal/metamodel"
	"viewsync/pkg/logger"
)

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	Driver     string
	DSN        string
	ModelPath  string
	MetricsOut string
}

func main() {
	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	var globals GlobalFlags
	fs := flag.NewFlagSet("viewsync", flag.ExitOnError)
	fs.StringVar(&globals.Driver, "driver", getEnv("VIEWSYNC_DRIVER", driverPgx), "store driver: pgx, postgres or sqlite3")
	fs.StringVar(&globals.DSN, "dsn", getEnv("VIEWSYNC_DSN", ""), "data source name")
	fs.StringVar(&globals.ModelPath, "model", getEnv("VIEWSYNC_MODEL", "model.yaml"), "model description file")
	fs.StringVar(&globals.MetricsOut, "metrics-out", "", "write metrics in text format to this file on exit")
	fs.SetInterspersed(false)
	fs.Usage = usage
	_ = fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	if globals.DSN == "" {
		log.Fatal("no data source: set --dsn or VIEWSYNC_DSN")
	}

	model, err := metamodel.LoadYAMLFile(globals.ModelPath)
	if err != nil {
		log.Fatalw("failed to load model", "path", globals.ModelPath, "error", err)
	}

	ctx := logger.WithLogger(context.Background(), log.WithComponent("viewsync").With("driver", globals.Driver))

	var run func(ctx context.Context, args []string, model *metamodel.Model, globals GlobalFlags) error
	switch args[0] {
	case "remove":
		run = runRemove
	case "flush":
		run = runFlush
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		usage()
		os.Exit(2)
	}

	if err := run(ctx, args[1:], model, globals); err != nil {
		log.Errorw("command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: viewsync [global options] <command> [options]

Commands:
  remove   Delete a row and its cascaded dependents
  flush    Write attribute changes to a row

Global options:
  --driver        pgx, postgres or sqlite3 (env VIEWSYNC_DRIVER)
  --dsn           data source name (env VIEWSYNC_DSN)
  --model         model description file (env VIEWSYNC_MODEL)
  --metrics-out   write metrics in text format to this file on exit

Examples:
  viewsync remove --type Owner --id 1
  viewsync remove --type Dependent --id owner.id=1,code=a
  viewsync flush --type Owner --id 1 --set title=renamed --version 3
`)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
