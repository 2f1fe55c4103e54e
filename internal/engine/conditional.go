package engine

import (
	"fmt"

	"github.com/kingrea/stagehand/internal/snapshot"
	"github.com/kingrea/stagehand/internal/state"
)

// CheckConditionalTriggers raises the Yes/No decision for every pending
// conditional step whose trigger step has completed. A step that already
// carries an unrevoked decision is left alone, so answering "Yes" does
// not immediately re-raise the prompt.
func (e *Engine) CheckConditionalTriggers() error {
	for _, step := range e.def.Steps {
		if step.Conditional == nil {
			continue
		}
		status, err := e.states.Get(step.ID)
		if err != nil {
			return err
		}
		if status != state.StatusPending {
			continue
		}
		if e.states.HasDecision(step.ID) {
			continue
		}
		trigger, err := e.states.Get(step.Conditional.Trigger)
		if err != nil {
			return err
		}
		if trigger != state.StatusCompleted {
			continue
		}
		if err := e.states.Set(step.ID, state.StatusAwaitingDecision); err != nil {
			return err
		}
		e.logf("decision raised for %s: %s", step.ID, step.Conditional.Prompt)
	}
	return nil
}

// Decide resolves the Yes/No prompt of a conditional step. The decision
// point is snapshotted first so the whole branch can be reversed as one
// unit. On Yes the step and its transitive dependents become pending; on
// No they are skipped and the rule's target step becomes pending instead.
func (e *Engine) Decide(id string, yes bool) error {
	if e.sess.Running() {
		return ErrStepRunning
	}
	step, ok := e.def.StepByID(id)
	if !ok {
		return fmt.Errorf("engine: unknown step %s", id)
	}
	if step.Conditional == nil {
		return fmt.Errorf("engine: step %s is not conditional", id)
	}
	status, err := e.states.Get(id)
	if err != nil {
		return err
	}
	if status != state.StatusAwaitingDecision {
		return fmt.Errorf("engine: step %s is not awaiting a decision (status %s)", id, status)
	}
	if err := e.snaps.Take(snapshot.Decision(id)); err != nil {
		return err
	}
	target := ""
	targetWas := state.Status("")
	if !yes && step.Conditional.TargetStep != "" {
		target = step.Conditional.TargetStep
		targetWas, err = e.states.Get(target)
		if err != nil {
			return err
		}
	}
	if err := e.states.AppendDecision(id, target, targetWas); err != nil {
		return err
	}
	branch := state.StatusSkippedConditional
	if yes {
		branch = state.StatusPending
	}
	if err := e.states.Set(id, branch); err != nil {
		return err
	}
	for _, dep := range e.def.Dependents(id) {
		if err := e.states.Set(dep, branch); err != nil {
			return err
		}
	}
	if !yes && step.Conditional.TargetStep != "" {
		if err := e.states.Set(step.Conditional.TargetStep, state.StatusPending); err != nil {
			return err
		}
	}
	if yes {
		e.logf("decision for %s: yes", id)
	} else {
		e.logf("decision for %s: no, target %s", id, step.Conditional.TargetStep)
	}
	return nil
}
