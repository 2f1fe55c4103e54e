package snapshot

import "fmt"

// Phase distinguishes the capture taken before a run from the one taken
// after it succeeds.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// Kind separates run-scoped snapshots from the named decision and safety
// points the engine takes outside the run cycle.
type Kind string

const (
	KindRun      Kind = "run"
	KindDecision Kind = "decision"
	KindSafety   Kind = "safety"
)

// ID identifies one snapshot archive. Run-scoped ids carry a step, run
// number and phase; decision and safety ids carry only the step.
type ID struct {
	Kind  Kind
	Step  string
	Run   int
	Phase Phase
}

// Before identifies the capture taken before run n of a step.
func Before(step string, run int) ID {
	return ID{Kind: KindRun, Step: step, Run: run, Phase: PhaseBefore}
}

// After identifies the capture taken after run n of a step succeeded.
func After(step string, run int) ID {
	return ID{Kind: KindRun, Step: step, Run: run, Phase: PhaseAfter}
}

// Decision identifies the capture taken when a conditional step's
// decision prompt is answered.
func Decision(step string) ID {
	return ID{Kind: KindDecision, Step: step}
}

// Safety identifies the capture taken before a bulk skip-to operation.
func Safety(step string) ID {
	return ID{Kind: KindSafety, Step: step}
}

// Filename renders the deterministic archive name for this id.
func (id ID) Filename() string {
	switch id.Kind {
	case KindDecision:
		return fmt.Sprintf("decision-%s.tar.gz", id.Step)
	case KindSafety:
		return fmt.Sprintf("safety-%s.tar.gz", id.Step)
	default:
		return fmt.Sprintf("step-%s-run-%03d-%s.tar.gz", id.Step, id.Run, id.Phase)
	}
}

// String renders a human-readable label used in errors and logs.
func (id ID) String() string {
	switch id.Kind {
	case KindDecision:
		return fmt.Sprintf("decision point of %s", id.Step)
	case KindSafety:
		return fmt.Sprintf("safety point before %s", id.Step)
	default:
		return fmt.Sprintf("%s of %s run %d", id.Phase, id.Step, id.Run)
	}
}
