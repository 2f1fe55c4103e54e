package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// CompletionChecker is the capability a script has to assert its own
// success. The production implementation checks for a marker file named
// after the script; tests substitute their own signal.
type CompletionChecker interface {
	Completed(script string) (bool, error)
	Clear(script string) error
}

// MarkerChecker implements the success-marker file contract: on success a
// script creates a file named after itself inside the per-project status
// directory.
type MarkerChecker struct {
	dir string
}

// NewMarkerChecker returns a checker rooted at the project's status
// directory.
func NewMarkerChecker(dir string) *MarkerChecker {
	return &MarkerChecker{dir: dir}
}

// markerPath maps a script reference to its marker file.
func (c *MarkerChecker) markerPath(script string) string {
	return filepath.Join(c.dir, filepath.Base(script))
}

// Completed reports whether the script's marker file exists.
func (c *MarkerChecker) Completed(script string) (bool, error) {
	_, err := os.Stat(c.markerPath(script))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("supervisor: check marker for %s: %w", script, err)
}

// Clear removes the script's marker file. Clearing an absent marker is a
// no-op; undo uses it when a step's only run is reversed.
func (c *MarkerChecker) Clear(script string) error {
	err := os.Remove(c.markerPath(script))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("supervisor: clear marker for %s: %w", script, err)
	}
	return nil
}

// DualVerify reports success only when the exit code indicates success
// AND the script created its marker. Neither signal alone is trusted.
// The marker signal is returned separately so callers can report which
// half was missing.
func DualVerify(exitCode int, checker CompletionChecker, script string) (verified, marker bool, err error) {
	marker, err = checker.Completed(script)
	if err != nil {
		return false, false, err
	}
	return exitCode == 0 && marker, marker, nil
}
