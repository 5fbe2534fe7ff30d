package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tinybackspace/backspace/internal/api"
	"github.com/tinybackspace/backspace/internal/config"
	"github.com/tinybackspace/backspace/internal/sandbox"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the HTTP server. POST a repository URL and prompt to /code and
read the run's progress as a server-sent event stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Server.LogLevel)

		orch, sandboxes, err := buildOrchestrator(cfg, logger)
		if err != nil {
			return err
		}

		providerNames := make([]string, 0, len(sandboxes))
		for name := range sandboxes {
			providerNames = append(providerNames, name)
		}

		srv := api.New(api.Options{
			Listen:            cfg.Server.Listen,
			MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
			RunsPerMinute:     cfg.Server.RunsPerMinute,
			RunTimeout:        cfg.Pipeline.RunTimeout.Std(),
			SandboxProviders:  providerNames,
			GitHubConfigured:  cfg.GitHub.Token != "",
			LLMProviders:      llmProviderNames(cfg),
		}, orch, logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if local, ok := sandboxes["local"].(*sandbox.LocalManager); ok && cfg.Sandbox.StaleAfter.Std() > 0 {
			go sweepStaleWorkspaces(ctx, local, cfg.Sandbox.StaleAfter.Std())
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s backspace listening on %s\n", green("✓"), cfg.Server.Listen)

		if err := srv.Start(ctx); err != nil && err != context.Canceled {
			return err
		}
		fmt.Fprintln(os.Stderr, "shutdown complete")
		return nil
	},
}

// sweepStaleWorkspaces periodically removes orphaned workspace directories
// left behind by crashed runs.
func sweepStaleWorkspaces(ctx context.Context, local *sandbox.LocalManager, staleAfter time.Duration) {
	ticker := time.NewTicker(staleAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = local.CleanupStale(ctx, staleAfter)
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
