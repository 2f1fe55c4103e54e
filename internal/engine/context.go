package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/kingrea/stagehand/internal/supervisor"
)

// ScriptHandle is the slice of the supervisor handle the engine and the
// presentation layer need. *supervisor.Handle satisfies it; tests inject
// stubs.
type ScriptHandle interface {
	Poll() supervisor.Update
	SendInput(text string) error
	Terminate() error
	Wait(ctx context.Context) (int, error)
}

// Runner starts external scripts. The production implementation wraps
// supervisor.Supervisor.
type Runner interface {
	Start(script string, dir string, args []string) (ScriptHandle, error)
}

type supervisorRunner struct {
	s *supervisor.Supervisor
}

func (r supervisorRunner) Start(script string, dir string, args []string) (ScriptHandle, error) {
	h, err := r.s.Start(script, dir, args)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Context owns all mutable session state: which step is running and the
// live handle relaying its I/O. It is passed by reference and mutated
// only by the engine; there is no ambient global.
type Context struct {
	// SessionID identifies one engine session in logs.
	SessionID string

	// RunningStep and RunningRun are set while exactly one step executes.
	RunningStep string
	RunningRun  int

	// Handle is the live supervisor handle for the running step.
	Handle ScriptHandle
}

func newContext() *Context {
	return &Context{SessionID: uuid.NewString()}
}

// Running reports whether a step is currently executing.
func (c *Context) Running() bool {
	return c.Handle != nil
}

func (c *Context) clearRun() {
	c.RunningStep = ""
	c.RunningRun = 0
	c.Handle = nil
}
