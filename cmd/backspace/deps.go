package main

import (
	"log/slog"
	"os"

	"github.com/tinybackspace/backspace/internal/config"
	"github.com/tinybackspace/backspace/internal/generator"
	"github.com/tinybackspace/backspace/internal/pipeline"
	"github.com/tinybackspace/backspace/internal/sandbox"
	"github.com/tinybackspace/backspace/internal/vcs"
)

// newLogger builds the process logger at the configured level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// buildOrchestrator wires sandbox providers, the vcs gateway factory, and
// the generators from config. The local provider is always present; docker
// is added when the daemon answers the probe.
func buildOrchestrator(cfg *config.Config, logger *slog.Logger) (*pipeline.Orchestrator, map[string]sandbox.Manager, error) {
	local, err := sandbox.NewLocalManager(cfg.Sandbox.Root, logger)
	if err != nil {
		return nil, nil, err
	}
	sandboxes := map[string]sandbox.Manager{"local": local}

	docker, err := sandbox.NewDockerManager(cfg.Sandbox.Root, cfg.Sandbox.DockerImage, sandbox.Limits{
		MemoryMB:  cfg.Sandbox.MemoryMB,
		CPUs:      cfg.Sandbox.CPUs,
		WallClock: cfg.Sandbox.CommandTimeout.Std(),
	}, logger)
	if err != nil {
		logger.Warn("docker sandbox unavailable, continuing with local only", "error", err)
	} else {
		sandboxes["docker"] = docker
	}

	var prs vcs.PRCreator
	if cfg.GitHub.Token != "" {
		prs = vcs.NewGitHubPRCreator(cfg.GitHub.Token)
	} else {
		logger.Warn("no github token configured, pull request creation will fail")
	}

	llmGens := make(map[string]generator.Generator)
	llmOpts := generator.LLMOptions{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Logger:      logger,
	}
	if cfg.LLM.AnthropicAPIKey != "" {
		llmGens["anthropic"] = generator.NewLLMBacked("anthropic", generator.NewAnthropicClient(cfg.LLM.AnthropicAPIKey), llmOpts)
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		llmGens["openai"] = generator.NewLLMBacked("openai", generator.NewOpenAIClient(cfg.LLM.OpenAIAPIKey), llmOpts)
	}

	orch := pipeline.New(pipeline.Deps{
		Sandboxes: sandboxes,
		NewGateway: func(r vcs.Runner) vcs.Gateway {
			return vcs.NewGit(r, vcs.Options{PRs: prs, Logger: logger})
		},
		RuleGen: generator.NewRuleBased(),
		LLMGens: llmGens,
		Logger:  logger,
	})
	return orch, sandboxes, nil
}

// llmProviderNames lists the configured model backends for health reporting.
func llmProviderNames(cfg *config.Config) []string {
	var names []string
	if cfg.LLM.AnthropicAPIKey != "" {
		names = append(names, "anthropic")
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		names = append(names, "openai")
	}
	return names
}
