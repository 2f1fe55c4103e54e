package workflow

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefinitionError reports a malformed workflow definition. Load fails with
// it before any state or snapshot mutation happens.
type DefinitionError struct {
	Reason string
	Err    error
}

func (e *DefinitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("workflow: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("workflow: %s", e.Reason)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

// Parse decodes and validates a workflow definition payload.
func Parse(data []byte) (Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Definition{}, &DefinitionError{Reason: "definition payload is empty"}
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, &DefinitionError{Reason: "decode definition", Err: err}
	}
	def = def.Normalized()
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Load reads a workflow definition from disk, decodes and validates it.
func Load(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, &DefinitionError{Reason: fmt.Sprintf("read %s", path), Err: err}
	}
	def, err := Parse(data)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}
