package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// CompletionRequest is the provider-neutral prompt envelope. Both backends
// translate it into their own API shapes.
type CompletionRequest struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// CompletionClient is one round trip to a language model. Implementations
// wrap the Anthropic and OpenAI SDKs; tests substitute fakes.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

const llmSystemPrompt = `You are a coding agent. You are given a snapshot of a repository and an
instruction. Respond with ONLY a JSON array of file edits, no prose:

[{"path": "relative/path.py", "kind": "create"|"modify", "content": "<full new file content>", "description": "<one line>"}]

Rules:
- "modify" replaces the whole file; include the complete new content.
- Use "create" only for paths not present in the snapshot.
- Paths are relative to the repository root. Never use ".." or absolute paths.
- Keep the change minimal and focused on the instruction.`

// LLMBacked asks a language model for the edits. Responses are parsed,
// normalized against the snapshot, and validated before they are trusted.
type LLMBacked struct {
	provider    string
	client      CompletionClient
	model       string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// LLMOptions configures an LLM-backed generator.
type LLMOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Logger      *slog.Logger
}

// NewLLMBacked wires a completion client into a Generator. provider names
// the backend in events ("anthropic", "openai").
func NewLLMBacked(provider string, client CompletionClient, opts LLMOptions) *LLMBacked {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 4096
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LLMBacked{
		provider:    provider,
		client:      client,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		logger:      opts.Logger,
	}
}

func (g *LLMBacked) Name() string { return "llm/" + g.provider }

func (g *LLMBacked) Generate(ctx context.Context, snap *Snapshot, prompt string) (ChangeSet, error) {
	req := CompletionRequest{
		Model:       g.model,
		System:      llmSystemPrompt,
		User:        buildUserPrompt(snap, prompt),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}

	text, err := g.client.Complete(ctx, req)
	if err != nil {
		return nil, &GenerationError{Generator: g.Name(), Msg: "completion call failed", Err: err}
	}

	cs, err := parseChangeSet(text)
	if err != nil {
		return nil, &GenerationError{Generator: g.Name(), Msg: "unparseable response", Err: err}
	}

	cs = g.normalize(cs, snap)
	if err := cs.Validate(); err != nil {
		return nil, &GenerationError{Generator: g.Name(), Msg: "invalid change set", Err: err}
	}

	g.logger.Debug("llm generation complete", "provider", g.provider, "edits", len(cs))
	return cs, nil
}

// normalize reconciles edit kinds with the snapshot: models routinely say
// "modify" for files that do not exist and "create" for ones that do.
func (g *LLMBacked) normalize(cs ChangeSet, snap *Snapshot) ChangeSet {
	out := make(ChangeSet, 0, len(cs))
	for _, edit := range cs {
		switch {
		case edit.Kind == KindModify && !snap.Has(edit.Path):
			g.logger.Debug("reclassifying modify of missing file as create", "path", edit.Path)
			edit.Kind = KindCreate
		case edit.Kind == KindCreate && snap.Has(edit.Path):
			edit.Kind = KindModify
		}
		if edit.Description == "" {
			edit.Description = fmt.Sprintf("%s %s", edit.Kind, edit.Path)
		}
		out = append(out, edit)
	}
	return out
}

// buildUserPrompt renders the snapshot and the instruction. Files with
// captured content are inlined; larger files are listed by name only.
func buildUserPrompt(snap *Snapshot, prompt string) string {
	var b strings.Builder
	b.WriteString("Repository snapshot:\n\n")
	for _, f := range snap.Files() {
		content, ok := snap.Content(f)
		if !ok {
			fmt.Fprintf(&b, "--- %s (content omitted, too large) ---\n\n", f)
			continue
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", f, content)
	}
	b.WriteString("Instruction: ")
	b.WriteString(prompt)
	return b.String()
}
