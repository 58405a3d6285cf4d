package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/stolot0mt0m/genspark-sync-lite/genspark"
	"github.com/stolot0mt0m/genspark-sync-lite/internal/config"
	"github.com/stolot0mt0m/genspark-sync-lite/internal/logging"
	"github.com/stolot0mt0m/genspark-sync-lite/internal/state"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

func main() {
	var err error

	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "":
		err = run(false)
	case "once":
		err = run(true)
	case "status":
		err = status()
	case "version":
		fmt.Println(Version)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [once|status|version]\n", os.Args[0])
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run starts the sync daemon, or performs a single cycle when once is set.
func run(once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("genspark-sync starting",
		slog.String("version", Version),
		slog.String("dir", cfg.SyncDir),
		slog.String("strategy", cfg.Strategy),
		slog.Bool("watch", cfg.Watch && !once),
	)

	strategy, err := genspark.ParseStrategy(cfg.Strategy)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.SyncDir, 0o755); err != nil {
		return fmt.Errorf("creating sync dir: %w", err)
	}

	if n, err := state.MigrateLegacy(cfg.LegacyStatePath(), cfg.StatePath(), logger); err != nil {
		return fmt.Errorf("migrating legacy state: %w", err)
	} else if n > 0 {
		logger.Info("migrated legacy state", slog.Int("records", n))
	}

	store, err := state.Open(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}
	defer store.Close()

	vault := genspark.NewVault(cfg.SyncDir)
	ignore := genspark.LoadIgnoreRules(cfg.SyncDir, cfg.Ignore, logger)
	client := genspark.NewClient(&http.Client{}, cfg.BaseURL, cfg.Cookie)

	opts := genspark.Options{
		Strategy:    strategy,
		GraceWindow: cfg.GraceWindow,
		RemoteDepth: cfg.RemoteDepth,
		Ignore:      ignore,
	}
	if cfg.RemoteDepth == 0 {
		opts.RemoteDepth = -1
	}
	if strategy == genspark.StrategyAsk {
		opts.Prompter = genspark.NewTerminalPrompter(os.Stdin, os.Stdout).Prompt
	}

	orch := genspark.NewOrchestrator(vault, client, store, opts, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		stats, err := orch.RunCycle(ctx)
		if err != nil {
			return fmt.Errorf("sync cycle: %w", err)
		}
		fmt.Println(stats.String())
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Poll(gctx, cfg.PollInterval)
	})

	if cfg.Watch {
		watcher := genspark.NewWatcher(vault, ignore, orch, cfg.Debounce, logger)
		g.Go(func() error {
			return watcher.Watch(gctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("genspark-sync stopped")
		return nil
	}
	return err
}

// status prints a summary of the sync state without touching the network.
func status() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := state.Open(cfg.StatePath())
	if err != nil {
		return fmt.Errorf("opening state: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("reading state: %w", err)
	}

	fmt.Printf("sync dir:  %s\n", cfg.SyncDir)
	fmt.Printf("state:     %s\n", store.Path())
	fmt.Printf("files:     %s (%s)\n", humanize.Comma(int64(stats.Total)), humanize.Bytes(uint64(stats.TotalSize)))
	fmt.Printf("synced:    %s\n", humanize.Comma(int64(stats.Synced)))
	fmt.Printf("pending:   %s\n", humanize.Comma(int64(stats.Pending)))

	return nil
}
