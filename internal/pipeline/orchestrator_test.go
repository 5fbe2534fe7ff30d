package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinybackspace/backspace/internal/events"
	"github.com/tinybackspace/backspace/internal/generator"
	"github.com/tinybackspace/backspace/internal/sandbox"
	"github.com/tinybackspace/backspace/internal/vcs"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// fakeSandbox is an in-memory sandbox.Manager with injectable acquire
// failures and a release counter.
type fakeSandbox struct {
	mu         sync.Mutex
	dir        string
	acquireErr error
	releases   int
}

func (f *fakeSandbox) Name() string { return "fake" }

func (f *fakeSandbox) Acquire(ctx context.Context) (*sandbox.Workspace, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return &sandbox.Workspace{ID: "ws-1", Path: f.dir, Provider: "fake", Created: time.Now()}, nil
}

func (f *fakeSandbox) Release(ctx context.Context, ws *sandbox.Workspace) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

func (f *fakeSandbox) Exec(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	return nil, nil
}

func (f *fakeSandbox) Limits() sandbox.Limits { return sandbox.Limits{} }

func (f *fakeSandbox) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

// fakeGateway simulates the vcs layer with per-operation failure injection.
type fakeGateway struct {
	cloneErr  error
	branchErr error
	commitErr error
	pushErr   error
	prErr     error

	cloneFiles map[string]string // written into the workspace on Clone
	prURL      string

	onClone  func() // cancellation hooks
	onCommit func()

	pushed   bool
	prOpened bool
}

func (f *fakeGateway) Clone(ctx context.Context, repoURL, dir string) error {
	if f.onClone != nil {
		f.onClone()
	}
	if f.cloneErr != nil {
		return f.cloneErr
	}
	for rel, content := range f.cloneFiles {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeGateway) CreateBranch(ctx context.Context, dir string, ref vcs.BranchRef) (vcs.BranchRef, error) {
	if f.branchErr != nil {
		return vcs.BranchRef{}, f.branchErr
	}
	return ref, nil
}

func (f *fakeGateway) Commit(ctx context.Context, dir, message string) (string, error) {
	if f.onCommit != nil {
		f.onCommit()
	}
	if f.commitErr != nil {
		return "", f.commitErr
	}
	return "0123456789abcdef0123456789abcdef01234567", nil
}

func (f *fakeGateway) Push(ctx context.Context, dir string, ref vcs.BranchRef) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = true
	return nil
}

func (f *fakeGateway) OpenPullRequest(ctx context.Context, repoURL string, ref vcs.BranchRef, title, body string) (*vcs.PullRequestResult, error) {
	if f.prErr != nil {
		return nil, f.prErr
	}
	f.prOpened = true
	url := f.prURL
	if url == "" {
		url = "https://host/example/simple-api/pull/42"
	}
	return &vcs.PullRequestResult{URL: url, Branch: ref}, nil
}

// staticGen returns a fixed change set or error.
type staticGen struct {
	name string
	cs   generator.ChangeSet
	err  error
}

func (s *staticGen) Name() string { return s.name }

func (s *staticGen) Generate(ctx context.Context, snap *generator.Snapshot, prompt string) (generator.ChangeSet, error) {
	return s.cs, s.err
}

type fixture struct {
	orch    *Orchestrator
	sandbox *fakeSandbox
	gateway *fakeGateway
}

func newFixture(t *testing.T, gw *fakeGateway, mutate func(*Deps)) *fixture {
	t.Helper()
	sb := &fakeSandbox{dir: t.TempDir()}
	deps := Deps{
		Sandboxes:  map[string]sandbox.Manager{"local": sb},
		NewGateway: func(vcs.Runner) vcs.Gateway { return gw },
		RuleGen:    generator.NewRuleBased(),
		Logger:     quietLogger(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &fixture{orch: New(deps), sandbox: sb, gateway: gw}
}

func collect(t *testing.T, stream *events.Stream) []events.PipelineEvent {
	t.Helper()
	var out []events.PipelineEvent
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

// assertSingleTerminal checks the core stream invariant: exactly one
// terminal event, and it is the last one.
func assertSingleTerminal(t *testing.T, evs []events.PipelineEvent) events.PipelineEvent {
	t.Helper()
	require.NotEmpty(t, evs)
	terminals := 0
	for _, ev := range evs {
		if ev.Terminal() {
			terminals++
		}
	}
	require.Equal(t, 1, terminals, "expected exactly one terminal event")
	last := evs[len(evs)-1]
	require.True(t, last.Terminal(), "terminal event must be last")
	for i := 1; i < len(evs); i++ {
		require.Equal(t, evs[i-1].Sequence+1, evs[i].Sequence, "sequence must be gapless")
	}
	return last
}

func validRequest() Request {
	return Request{
		RepoURL: "https://host/example/simple-api",
		Prompt:  "Add input validation to all POST endpoints",
	}
}

func TestRunHappyPath(t *testing.T) {
	gw := &fakeGateway{cloneFiles: map[string]string{
		"app.py": "from flask import Flask, request\n\n\ndef create_item():\n    return request.get_json()\n",
	}}
	fx := newFixture(t, gw, nil)

	stream := fx.orch.Run(context.Background(), validRequest())
	evs := collect(t, stream)

	last := assertSingleTerminal(t, evs)
	assert.Equal(t, events.LevelDone, last.Level)
	assert.Equal(t, "https://host/example/simple-api/pull/42", last.Payload["prUrl"])
	assert.Equal(t, vcs.BranchForPrompt(validRequest().Prompt).Name, last.Payload["branch"])

	assert.True(t, gw.pushed)
	assert.True(t, gw.prOpened)
	assert.Equal(t, 1, fx.sandbox.releaseCount())

	// The generated edits landed in the workspace before commit.
	assert.FileExists(t, filepath.Join(fx.sandbox.dir, "app_test.py"))

	// One change event per applied edit.
	changes := 0
	for _, ev := range evs {
		if ev.Level == events.LevelChange {
			changes++
		}
	}
	assert.Equal(t, 2, changes)
}

func TestRunPhaseOrdering(t *testing.T) {
	gw := &fakeGateway{cloneFiles: map[string]string{"app.py": "def f():\n    pass\n"}}
	fx := newFixture(t, gw, nil)

	evs := collect(t, fx.orch.Run(context.Background(), validRequest()))

	want := []events.Phase{
		events.PhaseReceived, events.PhaseSandboxing, events.PhaseCloning,
		events.PhaseGenerating, events.PhaseApplying, events.PhaseCommitting,
		events.PhasePushing, events.PhaseOpeningPR, events.PhaseDone,
	}
	seen := make(map[events.Phase]int)
	order := -1
	for _, ev := range evs {
		seen[ev.Phase]++
		for i, p := range want {
			if ev.Phase == p {
				require.GreaterOrEqual(t, i, order, "phase %s out of order", p)
				order = i
			}
		}
	}
	for _, p := range want {
		assert.Positive(t, seen[p], "missing phase %s", p)
	}
}

func TestRunFailures(t *testing.T) {
	cloneFiles := map[string]string{"app.py": "def f():\n    pass\n"}
	vcsErr := func(kind vcs.FailureKind) error {
		return &vcs.Error{Kind: kind, Op: "op", Msg: "injected"}
	}

	tests := []struct {
		name      string
		gw        *fakeGateway
		wantPhase events.Phase
		wantKind  string
	}{
		{"clone failed", &fakeGateway{cloneErr: vcsErr(vcs.KindCloneFailed)}, events.PhaseCloning, "clone_failed"},
		{"clone auth", &fakeGateway{cloneErr: vcsErr(vcs.KindAuthFailure)}, events.PhaseCloning, "auth_failure"},
		{"branch conflict", &fakeGateway{cloneFiles: cloneFiles, branchErr: vcsErr(vcs.KindBranchConflict)}, events.PhaseCommitting, "branch_conflict"},
		{"commit failed", &fakeGateway{cloneFiles: cloneFiles, commitErr: errors.New("disk full")}, events.PhaseCommitting, "internal_error"},
		{"push rejected", &fakeGateway{cloneFiles: cloneFiles, pushErr: vcsErr(vcs.KindPushRejected)}, events.PhasePushing, "push_rejected"},
		{"pr creation failed", &fakeGateway{cloneFiles: cloneFiles, prErr: vcsErr(vcs.KindPRCreationFailed)}, events.PhaseOpeningPR, "pr_creation_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, tt.gw, nil)
			evs := collect(t, fx.orch.Run(context.Background(), validRequest()))

			last := assertSingleTerminal(t, evs)
			assert.Equal(t, events.LevelError, last.Level)
			assert.Equal(t, events.PhaseFailed, last.Phase)
			assert.Equal(t, tt.wantKind, last.Payload["errorKind"])
			assert.Equal(t, string(tt.wantPhase), last.Payload["phase"])
			assert.Equal(t, 1, fx.sandbox.releaseCount(), "workspace must be released exactly once")
		})
	}
}

func TestRunSandboxAcquireFailure(t *testing.T) {
	fx := newFixture(t, &fakeGateway{}, nil)
	fx.sandbox.acquireErr = sandbox.ErrUnavailable

	evs := collect(t, fx.orch.Run(context.Background(), validRequest()))
	last := assertSingleTerminal(t, evs)
	assert.Equal(t, "sandbox_unavailable", last.Payload["errorKind"])
	assert.Equal(t, 0, fx.sandbox.releaseCount(), "nothing acquired, nothing released")
}

func TestRunSandboxResourceExceeded(t *testing.T) {
	fx := newFixture(t, &fakeGateway{}, nil)
	fx.sandbox.acquireErr = sandbox.ErrResourceExceeded

	evs := collect(t, fx.orch.Run(context.Background(), validRequest()))
	last := assertSingleTerminal(t, evs)
	assert.Equal(t, "sandbox_resource_exceeded", last.Payload["errorKind"])
}

func TestRunUnknownSandboxProvider(t *testing.T) {
	fx := newFixture(t, &fakeGateway{}, nil)
	req := validRequest()
	req.SandboxProvider = "firecracker"

	evs := collect(t, fx.orch.Run(context.Background(), req))
	last := assertSingleTerminal(t, evs)
	assert.Equal(t, "sandbox_unavailable", last.Payload["errorKind"])
}

func TestRunInvalidRequest(t *testing.T) {
	fx := newFixture(t, &fakeGateway{}, nil)

	evs := collect(t, fx.orch.Run(context.Background(), Request{RepoURL: "nonsense", Prompt: "x"}))
	last := assertSingleTerminal(t, evs)
	assert.Equal(t, "invalid_request", last.Payload["errorKind"])
	assert.Equal(t, 0, fx.sandbox.releaseCount())
}

func TestRunNothingToCommitIsNonFatal(t *testing.T) {
	gw := &fakeGateway{
		cloneFiles: map[string]string{"app.py": "def f():\n    pass\n"},
		commitErr:  &vcs.Error{Kind: vcs.KindNothingToCommit, Op: "commit", Msg: "working tree clean"},
	}
	fx := newFixture(t, gw, nil)

	evs := collect(t, fx.orch.Run(context.Background(), validRequest()))
	last := assertSingleTerminal(t, evs)
	assert.Equal(t, events.LevelDone, last.Level, "clean tree ends the run successfully")
	assert.False(t, gw.pushed, "nothing to push")
	assert.False(t, gw.prOpened)
	assert.Equal(t, 1, fx.sandbox.releaseCount())
}

func TestRunEmptyChangeSet(t *testing.T) {
	gw := &fakeGateway{cloneFiles: map[string]string{"app.py": "def f():\n    pass\n"}}
	fx := newFixture(t, gw, func(d *Deps) {
		d.RuleGen = &staticGen{name: "static", cs: generator.ChangeSet{}}
	})

	evs := collect(t, fx.orch.Run(context.Background(), validRequest()))
	last := assertSingleTerminal(t, evs)
	assert.Equal(t, events.LevelDone, last.Level)
	assert.Equal(t, 0, last.Payload["changes"])
	assert.False(t, gw.pushed)
}

func TestRunLLMFallback(t *testing.T) {
	gw := &fakeGateway{cloneFiles: map[string]string{"app.py": "def f():\n    pass\n"}}
	failing := &staticGen{name: "llm/anthropic", err: &generator.GenerationError{Generator: "llm/anthropic", Msg: "overloaded"}}
	fx := newFixture(t, gw, func(d *Deps) {
		d.LLMGens = map[string]generator.Generator{"anthropic": failing}
	})

	req := validRequest()
	req.UseLLM = true
	evs := collect(t, fx.orch.Run(context.Background(), req))

	last := assertSingleTerminal(t, evs)
	assert.Equal(t, events.LevelDone, last.Level, "fallback should rescue the run")

	fallbackNoticed := false
	for _, ev := range evs {
		if ev.Level == events.LevelInfo && ev.Phase == events.PhaseGenerating {
			fallbackNoticed = true
		}
	}
	assert.True(t, fallbackNoticed, "fallback must be announced on the stream")
}

func TestRunLLMRequestedButUnconfigured(t *testing.T) {
	gw := &fakeGateway{cloneFiles: map[string]string{"app.py": "def f():\n    pass\n"}}
	fx := newFixture(t, gw, nil) // no LLMGens at all

	req := validRequest()
	req.UseLLM = true
	evs := collect(t, fx.orch.Run(context.Background(), req))

	last := assertSingleTerminal(t, evs)
	assert.Equal(t, events.LevelDone, last.Level)
	for _, ev := range evs {
		assert.NotEqual(t, events.LevelInfo, ev.Level, "no fallback notice when rules were chosen directly")
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{cloneFiles: map[string]string{"app.py": "def f():\n    pass\n"}}
	gw.onClone = cancel
	fx := newFixture(t, gw, nil)

	evs := collect(t, fx.orch.Run(ctx, validRequest()))
	last := assertSingleTerminal(t, evs)
	assert.Equal(t, events.LevelError, last.Level)
	assert.Equal(t, "canceled", last.Payload["errorKind"])
	assert.Equal(t, 1, fx.sandbox.releaseCount(), "cancellation still releases the workspace")
	assert.False(t, gw.pushed)
}

func TestRunCancelDuringCommitHonoredBeforePush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{cloneFiles: map[string]string{"app.py": "def f():\n    pass\n"}}
	fx := newFixture(t, gw, nil)

	// Cancel while committing: the checkpoint before the push still sees it.
	gw.onCommit = cancel
	evs := collect(t, fx.orch.Run(ctx, validRequest()))
	last := assertSingleTerminal(t, evs)
	assert.Equal(t, "canceled", last.Payload["errorKind"])
	assert.Equal(t, 1, fx.sandbox.releaseCount())
}

func TestApplyChangeSet(t *testing.T) {
	root := t.TempDir()
	cs := generator.ChangeSet{
		{Path: "app.py", Kind: generator.KindModify, Content: "new content", Description: "d"},
		{Path: "pkg/new.py", Kind: generator.KindCreate, Content: "x", Description: "d"},
	}
	require.NoError(t, applyChangeSet(root, cs))

	data, err := os.ReadFile(filepath.Join(root, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data))
	assert.FileExists(t, filepath.Join(root, "pkg", "new.py"))
}

func TestApplyChangeSetRejectsEscape(t *testing.T) {
	root := t.TempDir()
	err := applyChangeSet(root, generator.ChangeSet{
		{Path: "../outside.py", Kind: generator.KindCreate, Content: "x", Description: "d"},
	})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(root), "outside.py"))
}

func TestPRTitleAndBody(t *testing.T) {
	assert.Equal(t, "Auto-generated: Add tests", prTitle("Add tests"))

	long := prTitle("Add input validation to every single POST endpoint in the whole service please")
	assert.LessOrEqual(t, len(long), 72)
	assert.Contains(t, long, "...")

	body := prBody("Add tests", "rule-based", "local", generator.ChangeSet{
		{Path: "a.py", Kind: generator.KindCreate, Description: "Created a.py"},
	})
	assert.Contains(t, body, "> Add tests")
	assert.Contains(t, body, "- Created a.py")
	assert.Contains(t, body, "Generator: rule-based")
	assert.Contains(t, body, "Sandbox: local")
}

func TestFailureKindMapping(t *testing.T) {
	assert.Equal(t, "canceled", failureKind(context.Canceled))
	assert.Equal(t, "sandbox_unavailable", failureKind(sandbox.ErrUnavailable))
	assert.Equal(t, "sandbox_resource_exceeded", failureKind(sandbox.ErrResourceExceeded))
	assert.Equal(t, "generation_failed", failureKind(&generator.GenerationError{Generator: "g", Msg: "m"}))
	assert.Equal(t, "push_rejected", failureKind(&vcs.Error{Kind: vcs.KindPushRejected, Op: "push", Msg: "m"}))
	assert.Equal(t, "internal_error", failureKind(errors.New("untyped")))
}
