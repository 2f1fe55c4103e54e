// internal/config/config.go
//
// This package handles configuration and the .stagehand directory structure.
// Every project that uses Stagehand gets a .stagehand/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// ControlDir is the name of the directory we create in each project.
	ControlDir = ".stagehand"

	// WorkflowFile is the workflow definition inside the control directory.
	WorkflowFile = "workflow.yaml"

	// StateFile persists per-step status and the completion log.
	StateFile = "state.json"

	// SnapshotDir holds one compressed archive per snapshot id.
	SnapshotDir = "snapshots"

	// StatusDir is where scripts drop their success-marker artifacts.
	StatusDir = "status"

	// LogDir collects session and activity logs.
	LogDir = "logs"
)

// Config holds the resolved paths for one project session.
type Config struct {
	// ProjectDir is the directory the user ran `stagehand` from. Scripts
	// execute with this as their working directory.
	ProjectDir string

	// ControlDir is ProjectDir/.stagehand.
	ControlDir string

	// Transient lists project-relative paths excluded from snapshots in
	// addition to the control directory (caches, scratch output).
	Transient []string
}

// projectSettings models the optional settings block at the top of
// workflow.yaml that is consumed here rather than by the workflow loader.
type projectSettings struct {
	Transient []string `yaml:"transient,omitempty"`
}

// New resolves a Config for the given project directory without touching disk.
func New(projectDir string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	return &Config{
		ProjectDir: abs,
		ControlDir: filepath.Join(abs, ControlDir),
	}, nil
}

// WorkflowPath returns the absolute path of the workflow definition.
func (c *Config) WorkflowPath() string {
	return filepath.Join(c.ControlDir, WorkflowFile)
}

// StatePath returns the absolute path of the persisted state file.
func (c *Config) StatePath() string {
	return filepath.Join(c.ControlDir, StateFile)
}

// SnapshotPath returns the directory that stores snapshot archives.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.ControlDir, SnapshotDir)
}

// StatusPath returns the directory scripts write success markers into.
func (c *Config) StatusPath() string {
	return filepath.Join(c.ControlDir, StatusDir)
}

// LogPath returns the directory session logs are written to.
func (c *Config) LogPath() string {
	return filepath.Join(c.ControlDir, LogDir)
}

// Init creates the .stagehand directory structure in the project directory.
// Called once at startup; safe to call on an already-initialized project.
//
// Structure created:
//
//	.stagehand/
//	  workflow.yaml
//	  state.json        (written lazily by the state store)
//	  snapshots/
//	  status/
//	  logs/
func (c *Config) Init() error {
	for _, dir := range []string{c.ControlDir, c.SnapshotPath(), c.StatusPath(), c.LogPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	if err := c.seedWorkflowTemplate(); err != nil {
		return err
	}
	c.loadSettings()
	return nil
}

// seedWorkflowTemplate writes the built-in workflow definition template if
// no definition exists yet.
func (c *Config) seedWorkflowTemplate() error {
	path := c.WorkflowPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	return c.RestoreWorkflowTemplate()
}

// RestoreWorkflowTemplate overwrites workflow.yaml with the built-in
// template. This is the explicit recovery action for a malformed
// definition; it is never invoked automatically on a parse failure.
func (c *Config) RestoreWorkflowTemplate() error {
	if err := os.WriteFile(c.WorkflowPath(), []byte(defaultWorkflowYAML), 0o644); err != nil {
		return fmt.Errorf("config: write workflow template: %w", err)
	}
	return nil
}

// loadSettings reads the optional settings block from workflow.yaml. A
// missing or unreadable file is not an error here; the workflow loader
// reports definition problems with full context.
func (c *Config) loadSettings() {
	data, err := os.ReadFile(c.WorkflowPath())
	if err != nil {
		return
	}
	var settings projectSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return
	}
	c.Transient = settings.Transient
}
