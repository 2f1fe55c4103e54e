package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `version: 1
name: etl
steps:
  - id: fetch
    name: Fetch data
    script: scripts/fetch.sh
  - id: clean
    script: scripts/clean.sh
    allow_rerun: true
    inputs:
      - flag: --threshold
        label: Outlier threshold
  - id: enrich
    script: scripts/enrich.sh
    conditional:
      trigger: clean
      prompt: Enrich the cleaned data?
      target_step: report
      depends_on: [validate]
  - id: validate
    script: scripts/validate.sh
  - id: report
    script: scripts/report.sh
`

func TestParseValidDefinition(t *testing.T) {
	def, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(def.Steps) != 5 {
		t.Fatalf("expected 5 steps, got %d", len(def.Steps))
	}
	if def.Steps[1].Inputs[0].Kind != InputText {
		t.Fatalf("expected input kind to default to text, got %s", def.Steps[1].Inputs[0].Kind)
	}
	enrich, ok := def.StepByID("enrich")
	if !ok || enrich.Conditional == nil {
		t.Fatalf("expected conditional step enrich")
	}
	if enrich.Conditional.Trigger != "clean" || enrich.Conditional.TargetStep != "report" {
		t.Fatalf("unexpected conditional rule: %+v", enrich.Conditional)
	}
}

func TestParseRejectsMalformedDefinitions(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"no steps", "version: 1\nsteps: []\n"},
		{"duplicate id", "steps:\n  - id: a\n    script: a.sh\n  - id: a\n    script: b.sh\n"},
		{"missing script", "steps:\n  - id: a\n"},
		{"unknown trigger", "steps:\n  - id: a\n    script: a.sh\n    conditional:\n      trigger: ghost\n"},
		{"self trigger", "steps:\n  - id: a\n    script: a.sh\n    conditional:\n      trigger: a\n"},
		{"unknown target", "steps:\n  - id: a\n    script: a.sh\n  - id: b\n    script: b.sh\n    conditional:\n      trigger: a\n      target_step: ghost\n"},
		{"unknown dependent", "steps:\n  - id: a\n    script: a.sh\n  - id: b\n    script: b.sh\n    conditional:\n      trigger: a\n      depends_on: [ghost]\n"},
		{"choice without choices", "steps:\n  - id: a\n    script: a.sh\n    inputs:\n      - flag: --mode\n        kind: choice\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
			var defErr *DefinitionError
			if !errors.As(err, &defErr) {
				t.Fatalf("expected *DefinitionError, got %T: %v", err, err)
			}
		})
	}
}

func TestLoadReportsPathOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.yaml")
	if err := os.WriteFile(path, []byte("steps: []\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected load failure")
	}
	if !strings.Contains(err.Error(), path) {
		t.Fatalf("expected error to name %s, got %v", path, err)
	}
}

func TestDependentsWalksTransitiveForest(t *testing.T) {
	def, err := Parse([]byte(`steps:
  - id: a
    script: a.sh
  - id: b
    script: b.sh
    conditional:
      trigger: a
      depends_on: [c]
  - id: c
    script: c.sh
    conditional:
      trigger: b
      depends_on: [d]
  - id: d
    script: d.sh
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	deps := def.Dependents("b")
	if len(deps) != 2 || deps[0] != "c" || deps[1] != "d" {
		t.Fatalf("expected transitive dependents [c d], got %v", deps)
	}
	if got := def.Dependents("a"); got != nil {
		t.Fatalf("expected no dependents for plain step, got %v", got)
	}
}
