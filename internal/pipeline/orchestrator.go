package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tinybackspace/backspace/internal/events"
	"github.com/tinybackspace/backspace/internal/generator"
	"github.com/tinybackspace/backspace/internal/sandbox"
	"github.com/tinybackspace/backspace/internal/vcs"
)

// Deps carries everything an Orchestrator needs. All fields are interfaces
// or factories so tests can substitute fault-injecting fakes.
type Deps struct {
	// Sandboxes maps provider name to manager. At least "local" should be
	// present in production wiring.
	Sandboxes map[string]sandbox.Manager

	// NewGateway builds the version control gateway for a run, bound to the
	// run's sandbox so git executes under the provider's isolation.
	NewGateway func(r vcs.Runner) vcs.Gateway

	// RuleGen is the always-available deterministic generator.
	RuleGen generator.Generator

	// LLMGens maps provider name ("anthropic", "openai") to the model-backed
	// generator. May be empty when no API keys are configured.
	LLMGens map[string]generator.Generator

	Logger *slog.Logger
}

// Orchestrator runs the prompt-to-pull-request pipeline. Each Run gets its
// own goroutine, workspace, and event stream; the orchestrator itself is
// stateless and safe for concurrent use.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{deps: deps, logger: logger}
}

// Run starts a pipeline run and returns its event stream immediately. The
// stream delivers ordered events ending in exactly one terminal event, then
// closes. Canceling ctx aborts the run at the next checkpoint, up to the
// point where the push begins; after that the run completes regardless.
func (o *Orchestrator) Run(ctx context.Context, req Request) *events.Stream {
	stream := events.NewStream(uuid.New().String())
	go o.execute(ctx, req, stream)
	return stream
}

func (o *Orchestrator) execute(ctx context.Context, req Request, stream *events.Stream) {
	defer stream.Close()

	logger := o.logger.With("runId", stream.RunID())

	if err := req.Validate(); err != nil {
		stream.Error(events.PhaseReceived, "invalid_request", err.Error())
		logger.Error("request rejected", "error", err)
		return
	}

	stream.Emit(events.PhaseReceived, events.LevelProgress, "run accepted", map[string]any{
		"repoUrl": req.RepoURL,
		"prompt":  req.Prompt,
	})

	// Sandboxing
	stream.Progress(events.PhaseSandboxing, "provisioning workspace")
	mgr, ok := o.deps.Sandboxes[req.SandboxProvider]
	if !ok {
		o.fail(stream, logger, events.PhaseSandboxing,
			fmt.Errorf("sandbox provider %q not configured: %w", req.SandboxProvider, sandbox.ErrUnavailable))
		return
	}
	ws, err := mgr.Acquire(ctx)
	if err != nil {
		o.fail(stream, logger, events.PhaseSandboxing, err)
		return
	}

	// Release exactly once, on every exit path, even if ctx is gone.
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		mgr.Release(context.Background(), ws)
	}
	defer release()

	stream.Success(events.PhaseSandboxing, fmt.Sprintf("workspace ready (%s)", mgr.Name()))
	logger.Info("workspace acquired", "provider", mgr.Name(), "path", ws.Path)

	gateway := o.deps.NewGateway(mgr)

	// Cloning
	if o.canceled(ctx, stream, logger, events.PhaseCloning) {
		return
	}
	stream.Progress(events.PhaseCloning, "cloning "+req.RepoURL)
	if err := gateway.Clone(ctx, req.RepoURL, ws.Path); err != nil {
		o.fail(stream, logger, events.PhaseCloning, err)
		return
	}
	stream.Success(events.PhaseCloning, "repository cloned")

	// Generating
	if o.canceled(ctx, stream, logger, events.PhaseGenerating) {
		return
	}
	snap, err := generator.Take(ws.Path)
	if err != nil {
		o.fail(stream, logger, events.PhaseGenerating, err)
		return
	}

	gen := o.pickGenerator(req)
	stream.Progress(events.PhaseGenerating, "generating changes with "+gen.Name())
	cs, err := gen.Generate(ctx, snap, req.Prompt)
	if err != nil && gen != o.deps.RuleGen && o.deps.RuleGen != nil && ctx.Err() == nil {
		// Model failed; fall back exactly once.
		logger.Warn("generator failed, falling back", "generator", gen.Name(), "error", err)
		stream.Info(events.PhaseGenerating,
			fmt.Sprintf("%s failed, falling back to %s", gen.Name(), o.deps.RuleGen.Name()))
		gen = o.deps.RuleGen
		cs, err = gen.Generate(ctx, snap, req.Prompt)
	}
	if err != nil {
		o.fail(stream, logger, events.PhaseGenerating, err)
		return
	}
	stream.Success(events.PhaseGenerating, fmt.Sprintf("%d change(s) generated", len(cs)))

	if len(cs) == 0 {
		stream.Done("no changes needed", map[string]any{"changes": 0})
		logger.Info("run finished with no changes")
		return
	}

	// Applying
	if o.canceled(ctx, stream, logger, events.PhaseApplying) {
		return
	}
	stream.Progress(events.PhaseApplying, "applying changes")
	if err := applyChangeSet(ws.Path, cs); err != nil {
		o.fail(stream, logger, events.PhaseApplying, err)
		return
	}
	for _, desc := range cs.Descriptions() {
		stream.Change(desc)
	}
	stream.Success(events.PhaseApplying, "changes applied")

	// Committing
	if o.canceled(ctx, stream, logger, events.PhaseCommitting) {
		return
	}
	stream.Progress(events.PhaseCommitting, "committing")
	ref, err := gateway.CreateBranch(ctx, ws.Path, vcs.BranchForPrompt(req.Prompt))
	if err != nil {
		o.fail(stream, logger, events.PhaseCommitting, err)
		return
	}
	hash, err := gateway.Commit(ctx, ws.Path, prTitle(req.Prompt))
	if err != nil {
		if vcs.IsNothingToCommit(err) {
			stream.Warning(events.PhaseCommitting, "generated changes matched existing content")
			stream.Done("no changes to commit", map[string]any{"changes": 0, "branch": ref.Name})
			logger.Info("run finished, working tree clean", "branch", ref.Name)
			return
		}
		o.fail(stream, logger, events.PhaseCommitting, err)
		return
	}
	stream.Success(events.PhaseCommitting, fmt.Sprintf("committed %.8s on %s", hash, ref.Name))

	// Past this point cancellation is ignored: a pushed branch without its
	// pull request is worse than finishing the run.
	if o.canceled(ctx, stream, logger, events.PhasePushing) {
		return
	}
	tail := context.WithoutCancel(ctx)

	stream.Progress(events.PhasePushing, "pushing "+ref.Name)
	if err := gateway.Push(tail, ws.Path, ref); err != nil {
		o.fail(stream, logger, events.PhasePushing, err)
		return
	}
	stream.Success(events.PhasePushing, "branch pushed")

	stream.Progress(events.PhaseOpeningPR, "opening pull request")
	result, err := gateway.OpenPullRequest(tail, req.RepoURL, ref,
		prTitle(req.Prompt), prBody(req.Prompt, gen.Name(), mgr.Name(), cs))
	if err != nil {
		o.fail(stream, logger, events.PhaseOpeningPR, err)
		return
	}
	stream.Success(events.PhaseOpeningPR, "pull request opened")

	stream.Done("pull request ready", map[string]any{
		"prUrl":   result.URL,
		"branch":  ref.Name,
		"commit":  hash,
		"changes": len(cs),
	})
	logger.Info("run finished", "pr", result.URL, "branch", ref.Name)
}

// pickGenerator resolves the generator for the request. Unknown LLM
// providers silently fall through to the rules so a bad request degrades
// instead of failing.
func (o *Orchestrator) pickGenerator(req Request) generator.Generator {
	if req.UseLLM {
		if gen, ok := o.deps.LLMGens[req.LLMProvider]; ok {
			return gen
		}
	}
	return o.deps.RuleGen
}

// canceled checks the run context at a phase boundary and, when the context
// is gone, emits the terminal error event.
func (o *Orchestrator) canceled(ctx context.Context, stream *events.Stream, logger *slog.Logger, phase events.Phase) bool {
	if err := ctx.Err(); err != nil {
		stream.Error(phase, "canceled", "run canceled")
		logger.Info("run canceled", "phase", string(phase))
		return true
	}
	return false
}

// fail emits the single terminal error event for the run.
func (o *Orchestrator) fail(stream *events.Stream, logger *slog.Logger, phase events.Phase, err error) {
	kind := failureKind(err)
	stream.Error(phase, kind, err.Error())
	logger.Error("run failed", "phase", string(phase), "kind", kind, "error", err)
}

// failureKind maps an error to the kind surfaced in the terminal event.
func failureKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, sandbox.ErrResourceExceeded):
		return "sandbox_resource_exceeded"
	case errors.Is(err, sandbox.ErrUnavailable):
		return "sandbox_unavailable"
	}
	var genErr *generator.GenerationError
	if errors.As(err, &genErr) {
		return "generation_failed"
	}
	var vcsErr *vcs.Error
	if errors.As(err, &vcsErr) {
		return string(vcsErr.Kind)
	}
	return "internal_error"
}
