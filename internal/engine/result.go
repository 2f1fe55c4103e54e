package engine

import (
	"errors"

	"github.com/kingrea/stagehand/internal/snapshot"
	"github.com/kingrea/stagehand/internal/state"
)

// ErrNotRunnable reports a run request for a step that is neither the
// next pending step nor a completed rerunnable step.
var ErrNotRunnable = errors.New("engine: step is not runnable")

// ErrStepRunning reports an operation that requires the engine to be idle
// while a step is still executing.
var ErrStepRunning = errors.New("engine: a step is already running")

// ErrNoStepRunning reports a finish/relay call with no live step.
var ErrNoStepRunning = errors.New("engine: no step is running")

// ErrNothingToUndo reports an undo with an empty event log.
var ErrNothingToUndo = errors.New("engine: nothing to undo")

// RollbackOutcome distinguishes how the automatic rollback after a failed
// run ended. UI layers must present all three failure shapes differently;
// a failed rollback is never silently swallowed.
type RollbackOutcome string

const (
	// RollbackNone: the run succeeded, no rollback happened.
	RollbackNone RollbackOutcome = "none"
	// RollbackOK: the before-snapshot was restored cleanly.
	RollbackOK RollbackOutcome = "ok"
	// RollbackSecondary: the tree was restored but a follow-up cleanup
	// (marker clear, status write) failed.
	RollbackSecondary RollbackOutcome = "secondary_failure"
	// RollbackFailed: the restore itself failed; the tree may be
	// partially modified.
	RollbackFailed RollbackOutcome = "failed"
)

// RunResult is the structured outcome of one step execution, returned to
// the caller alongside the local handling the engine already performed.
type RunResult struct {
	Step        string
	Run         int
	ExitCode    int
	MarkerFound bool

	// Verified is true only when the exit code indicated success AND the
	// script left its success marker.
	Verified bool

	Rollback    RollbackOutcome
	RollbackErr error
}

// UndoResult reports what one undo reversed.
type UndoResult struct {
	// Step whose most recent completion or decision was reversed.
	Step string

	// Kind says whether a run or a decision was reversed.
	Kind state.EventKind

	// Restored is the snapshot the tree was returned to.
	Restored snapshot.ID

	// FullyReversed is true when the step has no surviving run and went
	// back to pending.
	FullyReversed bool
}
