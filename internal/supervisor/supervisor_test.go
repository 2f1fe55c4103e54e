package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeScript drops an executable shell script into dir and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// collect polls the handle until it exits, returning all output and the
// exit code. The deadline keeps a wedged test from hanging the suite.
func collect(t *testing.T, h *Handle) (string, int) {
	t.Helper()
	var out strings.Builder
	deadline := time.Now().Add(10 * time.Second)
	for {
		update := h.Poll()
		out.WriteString(update.Output)
		if update.ExitCode != nil {
			return out.String(), *update.ExitCode
		}
		if time.Now().After(deadline) {
			t.Fatalf("script did not exit; output so far: %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartStreamsOutputAndExitCode(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "hello.sh", "echo first\necho second\n")
	h, err := New().Start(script, dir, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, code := collect(t, h)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (output %q)", code, out)
	}
	if !strings.Contains(out, "first") || !strings.Contains(out, "second") {
		t.Fatalf("missing streamed output: %q", out)
	}
}

func TestFailureExitCodeIsReported(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "fail.sh", "echo boom\nexit 3\n")
	h, err := New().Start(script, dir, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, code := collect(t, h)
	if code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
}

func TestScriptRunsWithProjectCwdAndArgs(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "args.sh", "pwd\necho \"arg:$1\"\n")
	h, err := New().Start(script, dir, []string{"--batch=7"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, code := collect(t, h)
	if code != 0 {
		t.Fatalf("exit %d: %q", code, out)
	}
	if !strings.Contains(out, "arg:--batch=7") {
		t.Fatalf("argument not passed: %q", out)
	}
}

func TestSendInputAnswersPrompt(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ask.sh", "printf 'name? '\nread answer\necho \"got:$answer\"\n")
	h, err := New().Start(script, dir, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// Wait for the prompt before answering.
	var out strings.Builder
	deadline := time.Now().Add(10 * time.Second)
	for !strings.Contains(out.String(), "name?") {
		update := h.Poll()
		out.WriteString(update.Output)
		if update.ExitCode != nil {
			t.Fatalf("script exited before prompting: %q", out.String())
		}
		if time.Now().After(deadline) {
			t.Fatalf("prompt never appeared: %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Empty sends are dropped; trailing whitespace is stripped.
	if err := h.SendInput("   \n"); err != nil {
		t.Fatalf("empty send: %v", err)
	}
	if err := h.SendInput("operator \n"); err != nil {
		t.Fatalf("send: %v", err)
	}
	rest, code := collect(t, h)
	out.WriteString(rest)
	if code != 0 {
		t.Fatalf("exit %d: %q", code, out.String())
	}
	if !strings.Contains(out.String(), "got:operator") {
		t.Fatalf("input did not reach script: %q", out.String())
	}
}

func TestTerminateLooksLikeNaturalFailure(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "sleep.sh", "echo started\nsleep 60\n")
	h, err := New().Start(script, dir, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	// Let the script get going before killing it.
	deadline := time.Now().Add(10 * time.Second)
	var out strings.Builder
	for !strings.Contains(out.String(), "started") {
		update := h.Poll()
		out.WriteString(update.Output)
		if time.Now().After(deadline) {
			t.Fatalf("script never started: %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := h.Terminate(); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	_, code := collect(t, h)
	if code == 0 {
		t.Fatalf("terminated script reported success")
	}
}

func TestWaitReturnsExitCode(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "quick.sh", "exit 0\n")
	h, err := New().Start(script, dir, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	code, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
}

func TestWaitDrainsChattyScript(t *testing.T) {
	dir := t.TempDir()
	// Emits far more than the output channel holds; Wait must keep
	// consuming or the read loop wedges and the child is never reaped.
	script := writeScript(t, dir, "chatty.sh",
		"head -c 1048576 /dev/zero | tr '\\0' 'x'\nexit 0\n")
	h, err := New().Start(script, dir, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	code, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
}

func TestDualVerifyRequiresBothSignals(t *testing.T) {
	dir := t.TempDir()
	checker := NewMarkerChecker(dir)

	ok, marker, err := DualVerify(0, checker, "scripts/process.sh")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok || marker {
		t.Fatalf("exit 0 without marker must not verify")
	}

	if err := os.WriteFile(filepath.Join(dir, "process.sh"), nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	ok, marker, err = DualVerify(1, checker, "scripts/process.sh")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("marker without exit 0 must not verify")
	}
	if !marker {
		t.Fatalf("marker signal must still be reported")
	}

	ok, _, err = DualVerify(0, checker, "scripts/process.sh")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("exit 0 with marker must verify")
	}
}

func TestMarkerClear(t *testing.T) {
	dir := t.TempDir()
	checker := NewMarkerChecker(dir)
	if err := checker.Clear("scripts/ghost.sh"); err != nil {
		t.Fatalf("clear missing marker: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ghost.sh"), nil, 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	if err := checker.Clear("scripts/ghost.sh"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	ok, err := checker.Completed("scripts/ghost.sh")
	if err != nil {
		t.Fatalf("completed: %v", err)
	}
	if ok {
		t.Fatalf("marker survived clear")
	}
}
