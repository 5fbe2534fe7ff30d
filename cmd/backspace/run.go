package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tinybackspace/backspace/internal/config"
	"github.com/tinybackspace/backspace/internal/events"
	"github.com/tinybackspace/backspace/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Make one change and open a pull request",
	Long: `Run the pipeline once from the command line: clone the repository,
apply the prompted change, push a branch and open a pull request.
Progress is printed as it happens. Ctrl+C cancels the run; cleanup still
happens, and a run that has already pushed finishes regardless.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repoURL, _ := cmd.Flags().GetString("repo")
		prompt, _ := cmd.Flags().GetString("prompt")
		useLLM, _ := cmd.Flags().GetBool("llm")
		provider, _ := cmd.Flags().GetString("llm-provider")
		sandboxProvider, _ := cmd.Flags().GetString("sandbox")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Server.LogLevel)

		orch, _, err := buildOrchestrator(cfg, logger)
		if err != nil {
			return err
		}

		req := pipeline.Request{
			RepoURL:         repoURL,
			Prompt:          prompt,
			UseLLM:          useLLM,
			LLMProvider:     provider,
			SandboxProvider: sandboxProvider,
		}
		if err := req.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if cfg.Pipeline.RunTimeout.Std() > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Pipeline.RunTimeout.Std())
			defer cancel()
		}

		stream := orch.Run(ctx, req)
		var terminal events.PipelineEvent
		for ev := range stream.Events() {
			displayEvent(ev)
			if ev.Terminal() {
				terminal = ev
			}
		}

		if terminal.Level == events.LevelError {
			return fmt.Errorf("run failed: %s", terminal.Message)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("repo", "", "repository clone URL (required)")
	runCmd.Flags().String("prompt", "", "what to change (required)")
	runCmd.Flags().Bool("llm", false, "use a language model generator with rule-based fallback")
	runCmd.Flags().String("llm-provider", "", "model backend: anthropic or openai")
	runCmd.Flags().String("sandbox", "", "workspace isolation: local or docker")
	_ = runCmd.MarkFlagRequired("repo")
	_ = runCmd.MarkFlagRequired("prompt")
	rootCmd.AddCommand(runCmd)
}
