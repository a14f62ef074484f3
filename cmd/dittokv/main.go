package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittokv/internal/logger"
	"github.com/marmos91/dittokv/pkg/config"
	"github.com/marmos91/dittokv/pkg/gc"
	"github.com/marmos91/dittokv/pkg/journal"
	"github.com/marmos91/dittokv/pkg/server"
)

const usage = `DittoKV - crash-consistent store catalog

Usage:
  dittokv init  [--config PATH] [--force]   Write a default configuration file
  dittokv start [--config PATH]             Recover the catalog and serve
  dittokv gc    [--config PATH] [--dry-run] Run one journal garbage collection cycle
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "start":
		err = runStart(os.Args[2:])
	case "gc":
		err = runGC(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "", "Path of the config file to write (default: "+config.GetDefaultConfigPath()+")")
	force := fs.Bool("force", false, "Overwrite an existing config file")
	_ = fs.Parse(args)

	path := *configPath
	if path == "" {
		written, err := config.InitConfig(*force)
		if err != nil {
			return err
		}
		path = written
	} else if err := config.InitConfigToPath(path, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	_ = fs.Parse(args)

	cfg, closeLog, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer closeLog()

	fmt.Println("DittoKV - crash-consistent store catalog")
	logger.Info("Storage: %s, namespace: %s, journal root: %s",
		cfg.Storage.Type, cfg.Namespace.Type, cfg.Journal.Root)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	master, err := server.FromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- master.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()
		if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil

	case err := <-serverDone:
		return err
	}
}

// runGC runs a single collection cycle against the configured storage. It
// never appends to the journal, so it is safe next to a running master.
func runGC(args []string) error {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	dryRun := fs.Bool("dry-run", false, "Report deletions without performing them")
	_ = fs.Parse(args)

	cfg, closeLog, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := context.Background()
	store, err := config.CreateStorage(ctx, &cfg.Storage, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	source := journal.Open(store, journal.Config{Root: cfg.Journal.Root}, nil)
	collector, err := gc.NewCollector(source, store, gc.Config{
		Threshold:          cfg.GC.Threshold,
		TemporaryThreshold: cfg.GC.TemporaryThreshold,
		DeleteRate:         cfg.GC.DeleteRate,
		DeleteBurst:        cfg.GC.DeleteBurst,
		DryRun:             cfg.GC.DryRun || *dryRun,
	}, nil)
	if err != nil {
		return err
	}

	stats, err := collector.RunNow(ctx)
	if err != nil {
		return err
	}
	fmt.Println(stats.Summary())
	return nil
}

// loadConfig loads the configuration and applies its logging section. The
// returned function closes the log file, if any.
func loadConfig(path string) (*config.Config, func(), error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)

	var out io.Writer
	closeLog := func() {}
	switch cfg.Logging.Output {
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Logging.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeLog = func() { _ = f.Close() }
	}
	logger.SetOutput(out)

	return cfg, closeLog, nil
}
