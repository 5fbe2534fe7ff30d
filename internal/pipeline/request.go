// Package pipeline orchestrates a single prompt-to-pull-request run: acquire
// a sandbox, clone, generate edits, apply, commit, push, open the PR. Every
// run reports through an events.Stream and ends with exactly one terminal
// event.
package pipeline

import (
	"fmt"
	"strings"

	"github.com/tinybackspace/backspace/internal/vcs"
)

// maxPromptLen bounds the prompt so a pathological request cannot blow up
// branch naming, PR bodies, or model context.
const maxPromptLen = 4000

// Request describes one coding run.
type Request struct {
	// RepoURL is the clone URL of the target repository.
	RepoURL string `json:"repoUrl" yaml:"repoUrl"`

	// Prompt is the natural-language instruction.
	Prompt string `json:"prompt" yaml:"prompt"`

	// UseLLM selects the language-model generator, with rule-based fallback.
	UseLLM bool `json:"useLlm,omitempty" yaml:"useLlm,omitempty"`

	// LLMProvider picks the model backend ("anthropic", "openai").
	// Empty means anthropic.
	LLMProvider string `json:"llmProvider,omitempty" yaml:"llmProvider,omitempty"`

	// SandboxProvider picks workspace isolation ("local", "docker").
	// Empty means local.
	SandboxProvider string `json:"sandboxProvider,omitempty" yaml:"sandboxProvider,omitempty"`
}

// Validate checks the request and fills in defaults.
func (r *Request) Validate() error {
	r.RepoURL = strings.TrimSpace(r.RepoURL)
	r.Prompt = strings.TrimSpace(r.Prompt)

	if r.RepoURL == "" {
		return fmt.Errorf("repoUrl is required")
	}
	if _, _, err := vcs.ParseRepoURL(r.RepoURL); err != nil {
		return fmt.Errorf("repoUrl: %w", err)
	}
	if r.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if len(r.Prompt) > maxPromptLen {
		return fmt.Errorf("prompt exceeds %d characters", maxPromptLen)
	}

	if r.SandboxProvider == "" {
		r.SandboxProvider = "local"
	}
	if r.LLMProvider == "" {
		r.LLMProvider = "anthropic"
	}
	return nil
}
