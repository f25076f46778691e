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
	"time"

	"github.com/lysyi3m/gh-harvest/app/api"
	"github.com/lysyi3m/gh-harvest/app/cfg"
	"github.com/lysyi3m/gh-harvest/app/database"
	"github.com/lysyi3m/gh-harvest/app/dataset"
	"github.com/lysyi3m/gh-harvest/app/github"
	"github.com/lysyi3m/gh-harvest/app/harvest"
	"github.com/lysyi3m/gh-harvest/app/stackexchange"
	"github.com/lysyi3m/gh-harvest/app/targets"
	"github.com/lysyi3m/gh-harvest/app/tasks"
)

func main() {
	os.Exit(run())
}

func run() int {
	config, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if config == nil {
		// Help was shown
		return 0
	}

	level := slog.LevelInfo
	if config.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting gh-harvest", "version", config.Version, "command", config.Command)

	switch config.Command {
	case cfg.CommandFormat:
		return runFormat(config)
	case cfg.CommandSynthesize:
		return runSynthesize(ctx, config)
	case cfg.CommandServe:
		return runServe(ctx, config)
	default:
		return runHarvest(ctx, config)
	}
}

func parseKinds(names []string) ([]harvest.Kind, error) {
	kinds := make([]harvest.Kind, 0, len(names))
	for _, name := range names {
		kind, err := harvest.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func runHarvest(ctx context.Context, config *cfg.Cfg) int {
	kinds, err := parseKinds(config.Kinds)
	if err != nil {
		slog.Error("Invalid kind", "error", err)
		return 1
	}

	catalog := targets.NewCatalog(config.TargetsDir)
	if err := catalog.Run(); err != nil {
		slog.Error("Failed to load target configuration", "dir", config.TargetsDir, "error", err)
		return 1
	}

	targetList, err := catalog.Targets(kinds)
	if err != nil {
		slog.Error("Failed to build targets", "error", err)
		return 1
	}
	if len(targetList) == 0 {
		slog.Warn("No enabled targets, nothing to harvest")
		return 0
	}

	sources, err := buildSources(ctx, config, targetList)
	if err != nil {
		slog.Error("Failed to initialize sources", "error", err)
		return 1
	}

	var ledger harvest.Ledger
	if db, err := openLedger(config.DBPath); err != nil {
		slog.Warn("Run ledger unavailable, continuing without it", "path", config.DBPath, "error", err)
	} else {
		defer db.Close()
		ledger = database.NewRunRepository(db)
	}

	harvester := harvest.NewHarvester(
		sources,
		harvest.NewExtractor(),
		harvest.NewFilterer(),
		harvest.NewWriter(config.DataDir),
		tasks.NewPool(config.WorkerCount),
		ledger,
	)

	slog.Info("Harvest started", "targets", len(targetList), "workers", config.WorkerCount)
	start := time.Now()

	summary, err := harvester.Run(ctx, targetList)
	if err != nil {
		slog.Error("Harvest failed", "error", err)
		return 1
	}

	slog.Info("Harvest finished",
		"run_id", summary.RunID,
		"targets", len(summary.Results),
		"failed", summary.Failed(),
		"accepted", summary.Accepted(),
		"interrupted", summary.Interrupted,
		"duration", time.Since(start).Round(time.Millisecond))

	if summary.AllFailed() {
		slog.Error("Every target failed")
		return 1
	}
	return 0
}

// buildSources creates only the clients the selected targets need.
func buildSources(ctx context.Context, config *cfg.Cfg, targetList []harvest.Target) ([]harvest.Source, error) {
	needed := make(map[harvest.Kind]bool)
	for _, t := range targetList {
		needed[t.Kind] = true
	}

	var sources []harvest.Source

	if needed[harvest.KindIssues] || needed[harvest.KindDiscussions] || needed[harvest.KindReviewComments] {
		if err := config.RequireGitHubToken(); err != nil {
			return nil, err
		}

		client, err := github.NewClient(github.Options{
			Token:             config.GitHubToken,
			APIURL:            config.GitHubAPIURL,
			RequestsPerSecond: config.RequestsPerSecond,
			MaxRetries:        config.MaxRetries,
			UserAgent:         config.UserAgent,
			Timeout:           config.RequestTimeout,
		})
		if err != nil {
			return nil, err
		}
		if err := client.Verify(ctx); err != nil {
			return nil, err
		}

		if needed[harvest.KindIssues] {
			sources = append(sources, github.NewIssueSource(client))
		}
		if needed[harvest.KindDiscussions] {
			sources = append(sources, github.NewDiscussionSource(client))
		}
		if needed[harvest.KindReviewComments] {
			sources = append(sources, github.NewReviewCommentSource(client))
		}
	}

	if needed[harvest.KindStackOverflow] {
		if config.StackExchangeKey == "" {
			slog.Info("STACKEXCHANGE_API_KEY not set, using anonymous quota")
		}
		sources = append(sources, stackexchange.NewClient(stackexchange.Options{
			BaseURL:           config.StackExchangeURL,
			Key:               config.StackExchangeKey,
			UserAgent:         config.UserAgent,
			RequestsPerSecond: config.RequestsPerSecond,
			MaxRetries:        config.MaxRetries,
			Timeout:           config.RequestTimeout,
		}))
	}

	return sources, nil
}

func openLedger(path string) (*database.DB, error) {
	db, err := database.Open(path)
	if err != nil {
		return nil, err
	}

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("Run ledger ready", "path", path, "schema_version", version, "dirty", dirty)

	return db, nil
}

func runFormat(config *cfg.Cfg) int {
	kinds, err := parseKinds(config.Kinds)
	if err != nil {
		slog.Error("Invalid kind", "error", err)
		return 1
	}

	formatter, err := dataset.NewFormatter(dataset.Options{
		DataDir:    config.DataDir,
		Format:     dataset.Format(config.DatasetFormat),
		TrainRatio: config.TrainRatio,
		Seed:       config.Seed,
	})
	if err != nil {
		slog.Error("Invalid dataset options", "error", err)
		return 1
	}

	stats, err := formatter.Run(kinds)
	if err != nil {
		slog.Error("Dataset formatting failed", "error", err)
		return 1
	}

	for reason, count := range stats.Filtered {
		slog.Debug("Filtered examples", "reason", reason, "count", count)
	}
	slog.Info("Dataset ready", "train", stats.TrainPath, "eval", stats.EvalPath)
	return 0
}

func runSynthesize(ctx context.Context, config *cfg.Cfg) int {
	kind, err := dataset.ParseSyntheticKind(config.SyntheticKind)
	if err != nil {
		slog.Error("Invalid synthetic kind", "error", err)
		return 1
	}

	if !config.MergeOnly {
		if err := config.RequireAnthropicKey(); err != nil {
			slog.Error("Cannot generate synthetic examples", "error", err)
			return 1
		}

		completer, err := dataset.NewAnthropicCompleter(dataset.AnthropicOptions{
			APIKey:  config.AnthropicAPIKey,
			Model:   config.AnthropicModel,
			BaseURL: config.AnthropicURL,
		})
		if err != nil {
			slog.Error("Failed to create completion client", "error", err)
			return 1
		}

		synthesizer, err := dataset.NewSynthesizer(completer, dataset.SyntheticOptions{
			DataDir: config.DataDir,
			Kind:    kind,
			Format:  dataset.Format(config.DatasetFormat),
			Count:   config.SyntheticCount,
		})
		if err != nil {
			slog.Error("Invalid synthetic options", "error", err)
			return 1
		}

		file, err := synthesizer.Run(ctx)
		if err != nil {
			slog.Error("Synthetic generation failed", "error", err)
			return 1
		}
		if file.Interrupted {
			slog.Warn("Synthetic generation interrupted, merge skipped", "generated", file.Stats.Total)
			return 0
		}
		if _, err := os.Stat(dataset.TrainPath(config.DataDir)); errors.Is(err, os.ErrNotExist) {
			slog.Info("No training split yet, run format and then synthesize --merge-only", "path", dataset.TrainPath(config.DataDir))
			return 0
		}
	}

	stats, err := dataset.MergeSynthetic(config.DataDir, kind, config.Seed)
	if err != nil {
		slog.Error("Failed to merge synthetic examples", "error", err)
		return 1
	}
	slog.Info("Training split with synthetic examples ready", "total", stats.Total, "path", stats.OutputPath)
	return 0
}

func runServe(ctx context.Context, config *cfg.Cfg) int {
	db, err := openLedger(config.DBPath)
	if err != nil {
		slog.Error("Failed to open run ledger", "path", config.DBPath, "error", err)
		return 1
	}
	defer db.Close()

	handler := api.NewHandler(database.NewRunRepository(db), config.DataDir, config.Version)
	server := api.NewServer(handler, config.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", config.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return exitCode
}
