// internal/supervisor/supervisor.go
//
// The execution supervisor runs one external script as a child process
// attached to a pseudo-terminal, so interactive prompts inside the script
// work exactly as they would in a shell. A background goroutine owns the
// PTY read loop and feeds a bounded channel; the foreground control loop
// polls and drains everything buffered per poll.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// outputBuffer bounds the producer/consumer channel between the PTY read
// loop and the polling side.
const outputBuffer = 64

// readChunk is the PTY read size. Reads are short so the control loop
// stays responsive; Poll reassembles the stream.
const readChunk = 4096

// Update is one poll result: everything buffered since the last poll plus
// the current liveness of the child.
type Update struct {
	Running  bool
	Output   string
	ExitCode *int
}

// Supervisor starts scripts under a PTY.
type Supervisor struct{}

// New returns a supervisor.
func New() *Supervisor {
	return &Supervisor{}
}

// Start launches the script in dir with the assembled arguments. The
// child gets its own session and controlling terminal, which also gives
// it its own process group for Terminate.
func (s *Supervisor) Start(script string, dir string, args []string) (*Handle, error) {
	cmd := exec.Command(script, args...)
	cmd.Dir = dir
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("supervisor: start %s: %w", script, err)
	}
	h := &Handle{
		script: script,
		cmd:    cmd,
		ptmx:   ptmx,
		output: make(chan []byte, outputBuffer),
		done:   make(chan struct{}),
	}
	go h.readLoop()
	return h, nil
}

// Handle supervises one running script.
type Handle struct {
	script string
	cmd    *exec.Cmd
	ptmx   *os.File

	output chan []byte
	done   chan struct{}

	// exitCode is written once before done is closed.
	exitCode int

	// drained flags that the output channel has been closed and emptied,
	// read and written only by the polling goroutine.
	drained bool

	terminateOnce sync.Once
}

// Script returns the script reference this handle supervises.
func (h *Handle) Script() string { return h.script }

// readLoop owns the PTY: it streams chunks into the bounded channel until
// the child closes its side, then reaps the process.
func (h *Handle) readLoop() {
	buf := make([]byte, readChunk)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.output <- chunk
		}
		if err != nil {
			// Linux returns EIO on the master once the child exits.
			break
		}
	}
	close(h.output)
	err := h.cmd.Wait()
	h.ptmx.Close()
	code := 0
	if err != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
	}
	h.exitCode = code
	close(h.done)
}

// Poll reports whether the child is still running and returns ALL output
// buffered since the previous poll. Draining everything per poll keeps
// interactive output from lagging behind the script.
func (h *Handle) Poll() Update {
	var out strings.Builder
drain:
	for {
		select {
		case chunk, ok := <-h.output:
			if !ok {
				h.drained = true
				break drain
			}
			out.Write(chunk)
		default:
			break drain
		}
	}
	update := Update{Output: out.String()}
	select {
	case <-h.done:
		if h.drained {
			code := h.exitCode
			update.ExitCode = &code
		} else {
			// Output still buffered; stay "running" until it is drained
			// so no tail output is dropped.
			update.Running = true
		}
	default:
		update.Running = true
	}
	return update
}

// SendInput writes one line of user input to the script's terminal.
// Trailing whitespace and newlines are stripped and empty sends are
// dropped, so a stray buffered newline cannot silently answer the next
// prompt.
func (h *Handle) SendInput(text string) error {
	trimmed := strings.TrimRight(text, " \t\r\n")
	if trimmed == "" {
		return nil
	}
	if _, err := h.ptmx.Write([]byte(trimmed + "\n")); err != nil {
		return fmt.Errorf("supervisor: send input: %w", err)
	}
	return nil
}

// Terminate kills the script's process group. The exit surfaces through
// the same Poll path as a natural failure.
func (h *Handle) Terminate() error {
	var err error
	h.terminateOnce.Do(func() {
		if h.cmd.Process == nil {
			return
		}
		// pty.Start runs the child in its own session, so pgid == pid.
		killErr := syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
		if killErr != nil && !errors.Is(killErr, syscall.ESRCH) {
			err = fmt.Errorf("supervisor: terminate: %w", killErr)
		}
	})
	return err
}

// Wait blocks until the child exits (or ctx is done) and returns its exit
// code. Buffered output is consumed and discarded while waiting, so a
// script that writes more than the channel holds cannot wedge the read
// loop. Callers that relay interactive output use Poll instead.
func (h *Handle) Wait(ctx context.Context) (int, error) {
	output := h.output
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-h.done:
			return h.exitCode, nil
		case _, ok := <-output:
			if !ok {
				// Closed: the read loop is reaping the child.
				output = nil
			}
		}
	}
}
