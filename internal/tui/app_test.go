package tui

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/stagehand/internal/config"
	"github.com/kingrea/stagehand/internal/engine"
	"github.com/kingrea/stagehand/internal/state"
	"github.com/kingrea/stagehand/internal/supervisor"
)

const soloDef = `version: 1
name: tui test
steps:
  - id: solo
    name: Solo
    script: scripts/solo.sh
`

const branchDef = `version: 1
name: tui branch test
steps:
  - id: first
    name: First
    script: scripts/first.sh
  - id: branch
    name: Branch
    script: scripts/branch.sh
    conditional:
      trigger: first
      prompt: "Run the branch step?"
`

type fakeHandle struct {
	exit   int
	output string
}

func (f *fakeHandle) Poll() supervisor.Update {
	code := f.exit
	return supervisor.Update{Output: f.output, ExitCode: &code}
}

func (f *fakeHandle) SendInput(string) error { return nil }
func (f *fakeHandle) Terminate() error       { return nil }

func (f *fakeHandle) Wait(context.Context) (int, error) { return f.exit, nil }

type fakeRunner struct {
	statusDir string
	output    string
}

func (r *fakeRunner) Start(script string, dir string, args []string) (engine.ScriptHandle, error) {
	marker := filepath.Join(r.statusDir, filepath.Base(script))
	if err := os.WriteFile(marker, []byte("done"), 0o644); err != nil {
		return nil, err
	}
	return &fakeHandle{exit: 0, output: r.output}, nil
}

func newTestApp(t *testing.T, definition string) *App {
	t.Helper()
	cfg, err := config.New(t.TempDir())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if err := cfg.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := os.WriteFile(cfg.WorkflowPath(), []byte(definition), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	runner := &fakeRunner{statusDir: cfg.StatusPath(), output: "hello from script\n"}
	eng, err := engine.Open(cfg, engine.WithRunner(runner))
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	return NewApp(eng, nil, nil)
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

// step drives one Update and keeps the concrete *App.
func step(t *testing.T, app *App, msg tea.Msg) (*App, tea.Cmd) {
	t.Helper()
	model, cmd := app.Update(msg)
	next, ok := model.(*App)
	if !ok {
		t.Fatalf("model lost its type: %T", model)
	}
	return next, cmd
}

// drain runs a command chain to completion, feeding every produced
// message back into the model.
func drain(t *testing.T, app *App, cmd tea.Cmd) *App {
	t.Helper()
	for i := 0; cmd != nil; i++ {
		if i > 50 {
			t.Fatalf("command chain did not settle")
		}
		msg := cmd()
		app, cmd = step(t, app, msg)
	}
	return app
}

func TestEnterRunsSelectedStepToCompletion(t *testing.T) {
	app := newTestApp(t, soloDef)
	app, cmd := step(t, app, keyMsg("enter"))
	if app.mode != modeRunning {
		t.Fatalf("expected running mode, got %v", app.mode)
	}
	app = drain(t, app, cmd)
	if app.mode != modeBrowse {
		t.Fatalf("expected return to browse, got %v", app.mode)
	}
	if app.rows[0].Status != state.StatusCompleted {
		t.Fatalf("expected solo completed, got %s", app.rows[0].Status)
	}
	if !strings.Contains(app.outputText.String(), "hello from script") {
		t.Fatalf("expected relayed output, got %q", app.outputText.String())
	}
	if !strings.Contains(app.status, "completed") {
		t.Fatalf("expected completion status line, got %q", app.status)
	}
}

func TestEnterOnUnrunnableStepStaysInBrowse(t *testing.T) {
	app := newTestApp(t, branchDef)
	app.selection = 1
	app, cmd := step(t, app, keyMsg("enter"))
	if cmd != nil {
		t.Fatalf("expected no command for an unrunnable step")
	}
	if app.mode != modeBrowse {
		t.Fatalf("expected to stay in browse, got %v", app.mode)
	}
	if app.status == "" {
		t.Fatalf("expected an explanation in the status line")
	}
}

func TestDecisionPromptAnswersThroughKeys(t *testing.T) {
	app := newTestApp(t, branchDef)
	app, cmd := step(t, app, keyMsg("enter"))
	app = drain(t, app, cmd)
	if app.rows[1].Status != state.StatusAwaitingDecision {
		t.Fatalf("expected branch awaiting decision, got %s", app.rows[1].Status)
	}

	app.selection = 1
	app, _ = step(t, app, keyMsg("enter"))
	if app.mode != modeDecide {
		t.Fatalf("expected decision mode, got %v", app.mode)
	}
	if app.decisionText != "Run the branch step?" {
		t.Fatalf("expected the configured prompt, got %q", app.decisionText)
	}

	app, _ = step(t, app, keyMsg("n"))
	if app.mode != modeBrowse {
		t.Fatalf("expected return to browse after answer")
	}
	if app.rows[1].Status != state.StatusSkippedConditional {
		t.Fatalf("expected branch skipped, got %s", app.rows[1].Status)
	}
}

func TestUndoKeyReversesLastRun(t *testing.T) {
	app := newTestApp(t, soloDef)
	app, cmd := step(t, app, keyMsg("enter"))
	app = drain(t, app, cmd)
	if app.rows[0].Status != state.StatusCompleted {
		t.Fatalf("setup: expected completed, got %s", app.rows[0].Status)
	}

	app, _ = step(t, app, keyMsg("u"))
	if app.err != nil {
		t.Fatalf("undo: %v", app.err)
	}
	if app.rows[0].Status != state.StatusPending {
		t.Fatalf("expected pending after undo, got %s", app.rows[0].Status)
	}
	if !strings.Contains(app.status, "reversed") {
		t.Fatalf("expected undo status line, got %q", app.status)
	}
}

func TestStatusLabelShowsRerunCount(t *testing.T) {
	row := engine.StepStatus{Status: state.StatusCompleted, Runs: 3}
	if got := statusLabel(row); !strings.Contains(got, "×3") {
		t.Fatalf("expected rerun count in label, got %q", got)
	}
	row = engine.StepStatus{Status: state.StatusPending, Runnable: true}
	if got := statusLabel(row); !strings.Contains(got, "next") {
		t.Fatalf("expected next hint, got %q", got)
	}
}

func TestDescribeResultKeepsRollbackShapesDistinct(t *testing.T) {
	ok := &engine.RunResult{Step: "solo", ExitCode: 2, Rollback: engine.RollbackOK}
	if got := describeResult(ok); !strings.Contains(got, "rolled back successfully") {
		t.Fatalf("ok rollback: %q", got)
	}
	secondary := &engine.RunResult{Step: "solo", ExitCode: 2, Rollback: engine.RollbackSecondary}
	if got := describeResult(secondary); !strings.Contains(got, "secondary failure") {
		t.Fatalf("secondary rollback: %q", got)
	}
	failed := &engine.RunResult{Step: "solo", ExitCode: 2, Rollback: engine.RollbackFailed}
	if got := describeResult(failed); !strings.Contains(got, "COULD NOT ROLL BACK") {
		t.Fatalf("failed rollback: %q", got)
	}
	clean := &engine.RunResult{Step: "solo", Run: 1, Verified: true}
	if got := describeResult(clean); !strings.Contains(got, "completed") {
		t.Fatalf("verified run: %q", got)
	}
}
