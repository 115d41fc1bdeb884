// Package main is the relmap command: inspection of the registered schema
// and maintenance of the category tree of the sales example.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"relmap/internal/config"
	"relmap/pkg/logger"
)

const usageText = `usage: relmap [-config file] <command> [flags]

commands:
  schema                 print entities, collections and foreign-key metadata as JSON
  tree [-root id]        print the category tree (whole forest without -root)
  delete-tree -root id   delete a category and all of its descendants
  watch                  reset the metadata cache on schema change notifications
  notify [payload]       announce a schema change to watching processes
`

func main() {
	configPath := flag.String("config", "", "YAML config file; environment only when empty")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usageText) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr; stdout carries command output.
	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	a, err := newApp(cfg)
	if err != nil {
		log.Errorw("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.run(ctx, args[0], args[1:]); err != nil {
		log.Errorw("command failed", "command", args[0], "error", err)
		stop()
		a.Close()
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "schema":
		return a.schema(ctx, os.Stdout)
	case "tree":
		return a.tree(ctx, args, os.Stdout)
	case "delete-tree":
		return a.deleteTree(ctx, args, os.Stdout)
	case "watch":
		return a.watch(ctx)
	case "notify":
		return a.notify(ctx, args)
	}
	fmt.Fprint(os.Stderr, usageText)
	return fmt.Errorf("unknown command %q", command)
}
