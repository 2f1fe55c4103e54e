package workflow

import (
	"fmt"
	"strings"
)

// InputKind enumerates the widget types a step input can declare.
type InputKind string

const (
	InputText   InputKind = "text"
	InputPath   InputKind = "path"
	InputChoice InputKind = "choice"
)

// Input declares one typed argument a step collects before running.
type Input struct {
	Flag    string    `json:"flag" yaml:"flag"`
	Label   string    `json:"label" yaml:"label"`
	Kind    InputKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Choices []string  `json:"choices,omitempty" yaml:"choices,omitempty"`
}

// ConditionalRule gates a step behind a Yes/No decision raised when the
// trigger step completes. On "No" the target step becomes pending instead
// and the dependent steps are skipped with the conditional step.
type ConditionalRule struct {
	Trigger    string   `json:"trigger" yaml:"trigger"`
	Prompt     string   `json:"prompt" yaml:"prompt"`
	TargetStep string   `json:"target_step,omitempty" yaml:"target_step,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Step declares one workflow unit backed by one external script.
type Step struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name,omitempty" yaml:"name,omitempty"`
	Script      string           `json:"script" yaml:"script"`
	Inputs      []Input          `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	AllowRerun  bool             `json:"allow_rerun,omitempty" yaml:"allow_rerun,omitempty"`
	Conditional *ConditionalRule `json:"conditional,omitempty" yaml:"conditional,omitempty"`
}

// DisplayName prefers the human-readable name and falls back to the id.
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Definition is the ordered list of steps for one project, loaded once per
// session and immutable afterwards.
type Definition struct {
	Version int    `json:"version" yaml:"version"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Steps   []Step `json:"steps" yaml:"steps"`
}

// Normalized returns a trimmed copy of the definition.
func (def Definition) Normalized() Definition {
	clone := Definition{
		Version: def.Version,
		Name:    strings.TrimSpace(def.Name),
	}
	if len(def.Steps) > 0 {
		clone.Steps = make([]Step, len(def.Steps))
		for i, step := range def.Steps {
			clone.Steps[i] = step.normalized()
		}
	}
	return clone
}

func (s Step) normalized() Step {
	clone := Step{
		ID:         strings.TrimSpace(s.ID),
		Name:       strings.TrimSpace(s.Name),
		Script:     strings.TrimSpace(s.Script),
		AllowRerun: s.AllowRerun,
	}
	if len(s.Inputs) > 0 {
		clone.Inputs = make([]Input, len(s.Inputs))
		for i, input := range s.Inputs {
			kind := input.Kind
			if kind == "" {
				kind = InputText
			}
			clone.Inputs[i] = Input{
				Flag:    strings.TrimSpace(input.Flag),
				Label:   strings.TrimSpace(input.Label),
				Kind:    kind,
				Choices: cloneStrings(input.Choices),
			}
		}
	}
	if s.Conditional != nil {
		clone.Conditional = &ConditionalRule{
			Trigger:    strings.TrimSpace(s.Conditional.Trigger),
			Prompt:     strings.TrimSpace(s.Conditional.Prompt),
			TargetStep: strings.TrimSpace(s.Conditional.TargetStep),
			DependsOn:  cloneStrings(s.Conditional.DependsOn),
		}
	}
	return clone
}

// Validate ensures the definition is well-formed before any execution.
// All problems are reported as *DefinitionError.
func (def Definition) Validate() error {
	if len(def.Steps) == 0 {
		return definitionErrorf("workflow declares no steps")
	}
	seen := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if step.ID == "" {
			return definitionErrorf("step with empty id")
		}
		if seen[step.ID] {
			return definitionErrorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true
		if step.Script == "" {
			return definitionErrorf("step %s: script is required", step.ID)
		}
		for _, input := range step.Inputs {
			if input.Flag == "" {
				return definitionErrorf("step %s: input with empty flag", step.ID)
			}
			switch input.Kind {
			case InputText, InputPath, InputChoice:
			default:
				return definitionErrorf("step %s: input %s: unknown kind %q", step.ID, input.Flag, input.Kind)
			}
			if input.Kind == InputChoice && len(input.Choices) == 0 {
				return definitionErrorf("step %s: input %s: choice input declares no choices", step.ID, input.Flag)
			}
		}
	}
	for _, step := range def.Steps {
		rule := step.Conditional
		if rule == nil {
			continue
		}
		if rule.Trigger == "" {
			return definitionErrorf("step %s: conditional without trigger", step.ID)
		}
		if !seen[rule.Trigger] {
			return definitionErrorf("step %s: conditional trigger %q is not a defined step", step.ID, rule.Trigger)
		}
		if rule.Trigger == step.ID {
			return definitionErrorf("step %s: conditional cannot trigger on itself", step.ID)
		}
		if rule.TargetStep != "" && !seen[rule.TargetStep] {
			return definitionErrorf("step %s: conditional target %q is not a defined step", step.ID, rule.TargetStep)
		}
		for _, dep := range rule.DependsOn {
			if !seen[dep] {
				return definitionErrorf("step %s: conditional dependent %q is not a defined step", step.ID, dep)
			}
			if dep == step.ID {
				return definitionErrorf("step %s: conditional lists itself as a dependent", step.ID)
			}
		}
	}
	return nil
}

// StepByID returns the step with the given id.
func (def Definition) StepByID(id string) (Step, bool) {
	for _, step := range def.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return Step{}, false
}

// Index returns the position of the step in definition order, or -1.
func (def Definition) Index(id string) int {
	for i, step := range def.Steps {
		if step.ID == id {
			return i
		}
	}
	return -1
}

// StepIDs returns all step ids in definition order.
func (def Definition) StepIDs() []string {
	ids := make([]string, len(def.Steps))
	for i, step := range def.Steps {
		ids[i] = step.ID
	}
	return ids
}

// Dependents returns the transitive set of steps that hang off the given
// conditional step, in definition order. Dependency chains are walked as a
// forest: a dependent that is itself conditional contributes its own
// dependents as well.
func (def Definition) Dependents(id string) []string {
	collected := make(map[string]bool)
	def.collectDependents(id, collected)
	var out []string
	for _, step := range def.Steps {
		if collected[step.ID] {
			out = append(out, step.ID)
		}
	}
	return out
}

func (def Definition) collectDependents(id string, collected map[string]bool) {
	step, ok := def.StepByID(id)
	if !ok || step.Conditional == nil {
		return
	}
	for _, dep := range step.Conditional.DependsOn {
		if collected[dep] {
			continue
		}
		collected[dep] = true
		def.collectDependents(dep, collected)
	}
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func definitionErrorf(format string, args ...any) error {
	return &DefinitionError{Reason: fmt.Sprintf(format, args...)}
}
