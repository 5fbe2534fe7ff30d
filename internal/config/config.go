// Package config loads service configuration from YAML with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses Go duration syntax.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	GitHub   GitHubConfig   `yaml:"github"`
	LLM      LLMConfig      `yaml:"llm"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// ServerConfig defines the HTTP API server settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// MaxConcurrentRuns bounds simultaneous pipeline runs.
	MaxConcurrentRuns int `yaml:"max_concurrent_runs"`

	// RunsPerMinute rate-limits run starts. Zero disables the limiter.
	RunsPerMinute int `yaml:"runs_per_minute"`
}

// GitHubConfig defines pull request API access.
type GitHubConfig struct {
	// Token is the API token. The GITHUB_TOKEN environment variable
	// overrides it.
	Token string `yaml:"token"`
}

// LLMConfig defines the model backends.
type LLMConfig struct {
	// AnthropicAPIKey enables the anthropic backend. Overridden by
	// ANTHROPIC_API_KEY.
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	// OpenAIAPIKey enables the openai backend. Overridden by
	// OPENAI_API_KEY.
	OpenAIAPIKey string `yaml:"openai_api_key"`

	// Model overrides the backend's default model.
	Model string `yaml:"model"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// SandboxConfig defines workspace isolation settings.
type SandboxConfig struct {
	// Root is where local workspaces are created. Empty means the system
	// temp directory.
	Root string `yaml:"root"`

	// DockerImage is the container image for the docker provider.
	DockerImage string `yaml:"docker_image"`

	// MemoryMB and CPUs bound docker containers. Zero means unlimited.
	MemoryMB int     `yaml:"memory_mb"`
	CPUs     float64 `yaml:"cpus"`

	// CommandTimeout caps a single command inside the workspace.
	CommandTimeout Duration `yaml:"command_timeout"`

	// StaleAfter is the age at which an orphaned workspace directory is
	// swept. Zero disables the sweeper.
	StaleAfter Duration `yaml:"stale_after"`
}

// PipelineConfig defines per-run behavior.
type PipelineConfig struct {
	// RunTimeout caps a whole pipeline run.
	RunTimeout Duration `yaml:"run_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:            ":8000",
			LogLevel:          "info",
			MaxConcurrentRuns: 4,
			RunsPerMinute:     30,
		},
		Sandbox: SandboxConfig{
			DockerImage:    "alpine/git:latest",
			MemoryMB:       512,
			CPUs:           1,
			CommandTimeout: Duration(2 * time.Minute),
			StaleAfter:     Duration(time.Hour),
		},
		LLM: LLMConfig{
			MaxTokens:   4096,
			Temperature: 0,
		},
		Pipeline: PipelineConfig{
			RunTimeout: Duration(10 * time.Minute),
		},
	}
}

// Load reads configuration from path, layered over defaults, then applies
// environment overrides. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets secrets come from the environment instead of the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAIAPIKey = v
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.Server.MaxConcurrentRuns < 1 {
		return fmt.Errorf("server.max_concurrent_runs must be at least 1")
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be debug, info, warn or error, got %q", c.Server.LogLevel)
	}
	if c.Sandbox.MemoryMB < 0 || c.Sandbox.CPUs < 0 {
		return fmt.Errorf("sandbox limits must not be negative")
	}
	return nil
}
