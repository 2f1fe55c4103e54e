// internal/engine/engine.go
//
// The workflow engine orchestrates the state store, the snapshot store
// and the execution supervisor to implement run, undo, decide and skip.
// Exactly one step may be running at a time per project.

package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kingrea/stagehand/internal/config"
	"github.com/kingrea/stagehand/internal/logbook"
	"github.com/kingrea/stagehand/internal/snapshot"
	"github.com/kingrea/stagehand/internal/state"
	"github.com/kingrea/stagehand/internal/supervisor"
	"github.com/kingrea/stagehand/internal/workflow"
)

// Engine drives one project's workflow.
type Engine struct {
	projectDir string
	def        workflow.Definition
	states     *state.Store
	snaps      *snapshot.Store
	runner     Runner
	checker    supervisor.CompletionChecker
	log        *logbook.Logbook
	sess       *Context
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithRunner injects an alternate script runner (primarily for tests).
func WithRunner(runner Runner) Option {
	return func(e *Engine) {
		if runner != nil {
			e.runner = runner
		}
	}
}

// WithChecker injects an alternate completion signal.
func WithChecker(checker supervisor.CompletionChecker) Option {
	return func(e *Engine) {
		if checker != nil {
			e.checker = checker
		}
	}
}

// WithLogbook attaches an activity log.
func WithLogbook(log *logbook.Logbook) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// New wires an engine from an already-loaded definition and stores.
func New(projectDir string, def workflow.Definition, states *state.Store, snaps *snapshot.Store, checker supervisor.CompletionChecker, opts ...Option) (*Engine, error) {
	if states == nil {
		return nil, fmt.Errorf("engine: state store is required")
	}
	if snaps == nil {
		return nil, fmt.Errorf("engine: snapshot store is required")
	}
	if checker == nil {
		return nil, fmt.Errorf("engine: completion checker is required")
	}
	e := &Engine{
		projectDir: projectDir,
		def:        def,
		states:     states,
		snaps:      snaps,
		runner:     supervisorRunner{s: supervisor.New()},
		checker:    checker,
		sess:       newContext(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Open bootstraps everything for a project: loads and validates the
// workflow definition, opens the state store seeded with every step,
// and wires the snapshot store and the marker checker.
func Open(cfg *config.Config, opts ...Option) (*Engine, error) {
	def, err := workflow.Load(cfg.WorkflowPath())
	if err != nil {
		return nil, err
	}
	states, err := state.Open(cfg.StatePath(), def.StepIDs())
	if err != nil {
		return nil, err
	}
	snaps := snapshot.New(cfg.ProjectDir, cfg.SnapshotPath(), snapshot.WithTransient(cfg.Transient))
	checker := supervisor.NewMarkerChecker(cfg.StatusPath())
	e, err := New(cfg.ProjectDir, def, states, snaps, checker, opts...)
	if err != nil {
		return nil, err
	}
	// A previous session may have ended with an undecided trigger (for
	// example right after an undo); raise it again on startup.
	if err := e.CheckConditionalTriggers(); err != nil {
		return nil, err
	}
	return e, nil
}

// Definition returns the immutable workflow definition.
func (e *Engine) Definition() workflow.Definition {
	return e.def
}

// Session returns the engine's session context for read access by the
// presentation layer.
func (e *Engine) Session() *Context {
	return e.sess
}

// StepStatus is one render-ready row for the presentation layer.
type StepStatus struct {
	ID       string
	Name     string
	Status   state.Status
	Runs     int
	Runnable bool
	Prompt   string
}

// Statuses summarizes every step in definition order.
func (e *Engine) Statuses() []StepStatus {
	next := e.nextPending()
	rows := make([]StepStatus, 0, len(e.def.Steps))
	for _, step := range e.def.Steps {
		status, err := e.states.Get(step.ID)
		if err != nil {
			status = state.StatusPending
		}
		row := StepStatus{
			ID:     step.ID,
			Name:   step.DisplayName(),
			Status: status,
			Runs:   e.states.CompletionCount(step.ID),
		}
		row.Runnable = e.runnable(step, status, next) == nil && !e.sess.Running()
		if status == state.StatusAwaitingDecision && step.Conditional != nil {
			row.Prompt = step.Conditional.Prompt
		}
		rows = append(rows, row)
	}
	return rows
}

// nextPending returns the first step in definition order whose status is
// pending, or "".
func (e *Engine) nextPending() string {
	for _, step := range e.def.Steps {
		status, err := e.states.Get(step.ID)
		if err == nil && status == state.StatusPending {
			return step.ID
		}
	}
	return ""
}

// runnable checks the run invariant: next pending step, or completed with
// allow_rerun.
func (e *Engine) runnable(step workflow.Step, status state.Status, next string) error {
	switch {
	case status == state.StatusCompleted && step.AllowRerun:
		return nil
	case status == state.StatusPending && step.ID == next:
		return nil
	}
	return fmt.Errorf("%w: %s is %s", ErrNotRunnable, step.ID, status)
}

// assembleArgs maps provided input values onto the step's declared flags,
// in declaration order. Values for undeclared flags are rejected.
func assembleArgs(step workflow.Step, inputs map[string]string) ([]string, error) {
	declared := make(map[string]bool, len(step.Inputs))
	var args []string
	for _, input := range step.Inputs {
		declared[input.Flag] = true
		value, ok := inputs[input.Flag]
		if !ok || value == "" {
			continue
		}
		args = append(args, input.Flag, value)
	}
	for flag := range inputs {
		if !declared[flag] {
			return nil, fmt.Errorf("engine: step %s declares no input %s", step.ID, flag)
		}
	}
	return args, nil
}

func (e *Engine) scriptPath(step workflow.Step) string {
	if filepath.IsAbs(step.Script) {
		return step.Script
	}
	return filepath.Join(e.projectDir, step.Script)
}

// StartStep validates runnability, takes the before-snapshot and launches
// the step's script under the supervisor. The caller relays live I/O via
// Poll/SendInput and calls FinishStep once the script exits.
func (e *Engine) StartStep(id string, inputs map[string]string) error {
	if e.sess.Running() {
		return ErrStepRunning
	}
	step, ok := e.def.StepByID(id)
	if !ok {
		return fmt.Errorf("engine: unknown step %s", id)
	}
	status, err := e.states.Get(id)
	if err != nil {
		return err
	}
	if err := e.runnable(step, status, e.nextPending()); err != nil {
		return err
	}
	args, err := assembleArgs(step, inputs)
	if err != nil {
		return err
	}
	run := e.snaps.NextRunNumber(id)
	if err := e.snaps.Take(snapshot.Before(id, run)); err != nil {
		return err
	}
	// The marker must be created by this run; a stale one from an earlier
	// run would defeat dual verification.
	if err := e.checker.Clear(step.Script); err != nil {
		return err
	}
	handle, err := e.runner.Start(e.scriptPath(step), e.projectDir, args)
	if err != nil {
		return err
	}
	e.sess.RunningStep = id
	e.sess.RunningRun = run
	e.sess.Handle = handle
	e.logf("run %d of %s started", run, id)
	return nil
}

// Poll relays buffered script output to the presentation layer.
func (e *Engine) Poll() (supervisor.Update, error) {
	if !e.sess.Running() {
		return supervisor.Update{}, ErrNoStepRunning
	}
	return e.sess.Handle.Poll(), nil
}

// SendInput forwards one line of user input to the running script.
func (e *Engine) SendInput(text string) error {
	if !e.sess.Running() {
		return ErrNoStepRunning
	}
	return e.sess.Handle.SendInput(text)
}

// Terminate kills the running script. The result surfaces through
// FinishStep exactly like a natural failure.
func (e *Engine) Terminate() error {
	if !e.sess.Running() {
		return ErrNoStepRunning
	}
	e.logf("run %d of %s terminated by operator", e.sess.RunningRun, e.sess.RunningStep)
	return e.sess.Handle.Terminate()
}

// FinishStep waits for the running script to exit, dual-verifies success
// and either commits the run or rolls it back. The structured result is
// returned even when the engine already handled the failure locally.
func (e *Engine) FinishStep(ctx context.Context) (*RunResult, error) {
	if !e.sess.Running() {
		return nil, ErrNoStepRunning
	}
	step, _ := e.def.StepByID(e.sess.RunningStep)
	result := &RunResult{
		Step:     e.sess.RunningStep,
		Run:      e.sess.RunningRun,
		Rollback: RollbackNone,
	}
	code, err := e.sess.Handle.Wait(ctx)
	if err != nil {
		// Still running; the session stays live for a later finish.
		return nil, err
	}
	defer e.sess.clearRun()
	result.ExitCode = code
	verified, marker, err := supervisor.DualVerify(code, e.checker, step.Script)
	if err != nil {
		return nil, err
	}
	result.MarkerFound = marker
	result.Verified = verified
	if !result.Verified {
		e.rollbackRun(step, result)
		e.logf("run %d of %s failed (exit %d, marker %v): rollback %s", result.Run, result.Step, code, marker, result.Rollback)
		return result, nil
	}
	if err := e.snaps.Take(snapshot.After(step.ID, result.Run)); err != nil {
		// Without an after-snapshot the run cannot be committed; treat it
		// like a failed run.
		result.Verified = false
		result.RollbackErr = err
		e.rollbackRun(step, result)
		return result, nil
	}
	if err := e.states.Set(step.ID, state.StatusCompleted); err != nil {
		return nil, err
	}
	if err := e.states.AppendCompletion(step.ID); err != nil {
		return nil, err
	}
	e.logf("run %d of %s completed", result.Run, result.Step)
	if err := e.CheckConditionalTriggers(); err != nil {
		return nil, err
	}
	return result, nil
}

// rollbackRun restores the before-snapshot after a failed (or terminated)
// run. The three rollback outcomes are kept distinct so the caller can
// report them honestly.
func (e *Engine) rollbackRun(step workflow.Step, result *RunResult) {
	before := snapshot.Before(step.ID, result.Run)
	if err := e.snaps.Restore(before); err != nil {
		result.Rollback = RollbackFailed
		result.RollbackErr = err
		return
	}
	result.Rollback = RollbackOK
	if err := e.checker.Clear(step.Script); err != nil {
		result.Rollback = RollbackSecondary
		result.RollbackErr = err
	}
	if err := e.states.Set(step.ID, state.StatusPending); err != nil {
		result.Rollback = RollbackSecondary
		result.RollbackErr = err
	}
}

// Run executes one step end to end without interactive relay: start,
// wait, finish. Interactive callers use StartStep/Poll/FinishStep.
func (e *Engine) Run(ctx context.Context, id string, inputs map[string]string) (*RunResult, error) {
	if err := e.StartStep(id, inputs); err != nil {
		return nil, err
	}
	return e.FinishStep(ctx)
}

// SkipTo takes a safety snapshot and marks every earlier-ordered pending
// step as skipped.
func (e *Engine) SkipTo(id string) error {
	if e.sess.Running() {
		return ErrStepRunning
	}
	idx := e.def.Index(id)
	if idx < 0 {
		return fmt.Errorf("engine: unknown step %s", id)
	}
	if err := e.snaps.Take(snapshot.Safety(id)); err != nil {
		return err
	}
	for _, step := range e.def.Steps[:idx] {
		status, err := e.states.Get(step.ID)
		if err != nil {
			return err
		}
		if status != state.StatusPending {
			continue
		}
		if err := e.states.Set(step.ID, state.StatusSkipped); err != nil {
			return err
		}
	}
	e.logf("skipped ahead to %s", id)
	return nil
}

func (e *Engine) logf(format string, args ...any) {
	if e.log == nil {
		return
	}
	e.log.Info(format, args...)
}
