package engine

import (
	"fmt"

	"github.com/kingrea/stagehand/internal/snapshot"
	"github.com/kingrea/stagehand/internal/state"
)

// Undo reverses the most recent completed run or resolved decision, in
// event order. Files are restored before any state is mutated, so a
// failed restore leaves the record intact and is reported as-is. The
// trigger check afterwards re-raises any prompt the reversal re-enabled.
func (e *Engine) Undo() (*UndoResult, error) {
	if e.sess.Running() {
		return nil, ErrStepRunning
	}
	last, ok := e.states.LastEvent()
	if !ok {
		return nil, ErrNothingToUndo
	}
	var result *UndoResult
	var err error
	if last.Kind == state.EventDecision {
		result, err = e.undoDecision(last)
	} else {
		result, err = e.undoRun(last.Step)
	}
	if err != nil {
		return nil, err
	}
	if err := e.CheckConditionalTriggers(); err != nil {
		return nil, err
	}
	return result, nil
}

// undoDecision reverses a resolved conditional branch: restore the
// decision-point snapshot, drop it, and return the branch (and any step
// the decision forced pending) to its prior state.
func (e *Engine) undoDecision(last state.Event) (*UndoResult, error) {
	id := last.Step
	decision := snapshot.Decision(id)
	if !e.snaps.Exists(decision) {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrSnapshotMissing, decision)
	}
	if err := e.snaps.Restore(decision); err != nil {
		return nil, err
	}
	if err := e.snaps.Remove(decision); err != nil {
		return nil, err
	}
	if _, _, err := e.states.PopLastEvent(); err != nil {
		return nil, err
	}
	if err := e.states.Set(id, state.StatusPending); err != nil {
		return nil, err
	}
	for _, dep := range e.def.Dependents(id) {
		if err := e.states.Set(dep, state.StatusPending); err != nil {
			return nil, err
		}
	}
	if last.Target != "" && last.TargetWas != "" {
		if err := e.states.Set(last.Target, last.TargetWas); err != nil {
			return nil, err
		}
	}
	e.logf("decision for %s reversed", id)
	return &UndoResult{
		Step:          id,
		Kind:          state.EventDecision,
		Restored:      decision,
		FullyReversed: true,
	}, nil
}

// undoRun steps one run backwards using the snapshot store's backwards
// search, falling back across steps when the step's own history is gone.
func (e *Engine) undoRun(id string) (*UndoResult, error) {
	step, ok := e.def.StepByID(id)
	if !ok {
		return nil, fmt.Errorf("engine: unknown step %s", id)
	}
	effective := e.snaps.EffectiveRunNumber(id)
	from := effective
	if from < 1 {
		from = 1
	}
	target, found := e.snaps.UndoTarget(id, from)
	if !found {
		// Cross-step reversal: latest after-snapshot of the closest
		// earlier step that still has one.
		for i := e.def.Index(id) - 1; i >= 0; i-- {
			if prev, ok := e.snaps.LatestAfter(e.def.Steps[i].ID); ok {
				target = prev
				found = true
				break
			}
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no snapshot to step back from %s", snapshot.ErrSnapshotMissing, id)
	}
	if err := e.snaps.Restore(target); err != nil {
		return nil, err
	}
	if effective > 0 {
		if err := e.snaps.Remove(snapshot.After(id, effective)); err != nil {
			return nil, err
		}
	}
	if _, _, err := e.states.PopLastEvent(); err != nil {
		return nil, err
	}
	result := &UndoResult{Step: id, Kind: state.EventRun, Restored: target}
	if e.states.CompletionCount(id) == 0 {
		if err := e.checker.Clear(step.Script); err != nil {
			return nil, err
		}
		if err := e.states.Set(id, state.StatusPending); err != nil {
			return nil, err
		}
		result.FullyReversed = true
	}
	if err := e.retractStaleTriggers(); err != nil {
		return nil, err
	}
	e.logf("run of %s reversed to %s", id, target)
	return result, nil
}

// retractStaleTriggers handles direct reversal out of awaiting_decision:
// when an undone run means a trigger step is no longer completed, its
// conditional step drops back to pending and any decision snapshot from
// an earlier cycle is cleared so it cannot re-trigger a stale branch.
func (e *Engine) retractStaleTriggers() error {
	for _, step := range e.def.Steps {
		if step.Conditional == nil {
			continue
		}
		status, err := e.states.Get(step.ID)
		if err != nil {
			return err
		}
		if status != state.StatusAwaitingDecision {
			continue
		}
		trigger, err := e.states.Get(step.Conditional.Trigger)
		if err != nil {
			return err
		}
		if trigger == state.StatusCompleted {
			continue
		}
		if err := e.snaps.Remove(snapshot.Decision(step.ID)); err != nil {
			return err
		}
		if err := e.states.Set(step.ID, state.StatusPending); err != nil {
			return err
		}
		e.logf("decision for %s retracted: trigger %s was undone", step.ID, step.Conditional.Trigger)
	}
	return nil
}
