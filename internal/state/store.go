// internal/state/store.go
//
// The state store persists per-step status and the ordered event log for
// one project. It is a single-writer local file store: only the workflow
// engine mutates it, and every mutation is persisted immediately with an
// atomic write-replace so a crash never leaves a partial file.

package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Status enumerates the lifecycle states a step can be in.
type Status string

const (
	StatusPending            Status = "pending"
	StatusCompleted          Status = "completed"
	StatusSkipped            Status = "skipped"
	StatusAwaitingDecision   Status = "awaiting_decision"
	StatusSkippedConditional Status = "skipped_conditional"
)

// EventKind distinguishes completion-log entries. Run events are the
// completion record proper; decision events interleave so undo can find
// the most recent completed-or-decided step.
type EventKind string

const (
	EventRun      EventKind = "run"
	EventDecision EventKind = "decision"
)

// Event is one append-only log entry. Decision events also record the
// step a "No" answer forced pending, with its prior status, so undoing
// the decision can put the target back.
type Event struct {
	Kind      EventKind `json:"kind"`
	Step      string    `json:"step"`
	Target    string    `json:"target,omitempty"`
	TargetWas Status    `json:"target_was,omitempty"`
}

// ErrStateCorrupt reports an unreadable or inconsistent state file. It is
// never auto-repaired; callers offer explicit recovery instead.
var ErrStateCorrupt = errors.New("state: corrupt state file")

// ErrUnknownStep reports a status query for a step id the store was never
// seeded with.
var ErrUnknownStep = errors.New("state: unknown step")

func validStatus(s Status) bool {
	switch s {
	case StatusPending, StatusCompleted, StatusSkipped, StatusAwaitingDecision, StatusSkippedConditional:
		return true
	}
	return false
}

// fileState is the on-disk JSON shape.
type fileState struct {
	Statuses  map[string]Status `json:"statuses"`
	Events    []Event           `json:"events"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Store holds the in-memory state mirror and its backing file.
type Store struct {
	path     string
	statuses map[string]Status
	events   []Event
	clock    func() time.Time
}

// Option customizes the store instance.
type Option func(*Store)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Open loads (or creates) the state file at path and seeds every defined
// step with a pending status, so status queries never fail on an unseen
// id. Steps already present keep their recorded status.
func Open(path string, stepIDs []string, opts ...Option) (*Store, error) {
	store := &Store{
		path:     path,
		statuses: make(map[string]Status, len(stepIDs)),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	loaded, err := readFile(path)
	if err != nil {
		return nil, err
	}
	for id, status := range loaded.Statuses {
		if !validStatus(status) {
			return nil, fmt.Errorf("%w: step %s has status %q", ErrStateCorrupt, id, status)
		}
		store.statuses[id] = status
	}
	store.events = loaded.Events
	seeded := false
	for _, id := range stepIDs {
		if _, ok := store.statuses[id]; !ok {
			store.statuses[id] = StatusPending
			seeded = true
		}
	}
	for _, event := range store.events {
		if _, ok := store.statuses[event.Step]; !ok {
			return nil, fmt.Errorf("%w: event log references unknown step %s", ErrStateCorrupt, event.Step)
		}
		if event.Kind != EventRun && event.Kind != EventDecision {
			return nil, fmt.Errorf("%w: event log has kind %q", ErrStateCorrupt, event.Kind)
		}
		if event.TargetWas != "" && !validStatus(event.TargetWas) {
			return nil, fmt.Errorf("%w: event log has target status %q", ErrStateCorrupt, event.TargetWas)
		}
	}
	if seeded {
		if err := store.save(); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func readFile(path string) (fileState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fileState{}, nil
		}
		return fileState{}, fmt.Errorf("state: read %s: %w", path, err)
	}
	var loaded fileState
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fileState{}, fmt.Errorf("%w: %v", ErrStateCorrupt, err)
	}
	return loaded, nil
}

// Get returns the recorded status for a step.
func (s *Store) Get(id string) (Status, error) {
	status, ok := s.statuses[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	return status, nil
}

// Set records a new status for a step and persists immediately.
func (s *Store) Set(id string, status Status) error {
	if _, ok := s.statuses[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, id)
	}
	if !validStatus(status) {
		return fmt.Errorf("state: invalid status %q", status)
	}
	s.statuses[id] = status
	return s.save()
}

// Statuses returns a copy of the status map.
func (s *Store) Statuses() map[string]Status {
	out := make(map[string]Status, len(s.statuses))
	for id, status := range s.statuses {
		out[id] = status
	}
	return out
}

// AppendCompletion records one successful run of a step at the end of the
// event log. Repeated entries represent re-runs.
func (s *Store) AppendCompletion(id string) error {
	return s.append(Event{Kind: EventRun, Step: id})
}

// AppendDecision records that a conditional step's decision was resolved.
// target and targetWas are set when the decision forced another step
// pending; both are empty otherwise.
func (s *Store) AppendDecision(id string, target string, targetWas Status) error {
	return s.append(Event{Kind: EventDecision, Step: id, Target: target, TargetWas: targetWas})
}

func (s *Store) append(event Event) error {
	if _, ok := s.statuses[event.Step]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStep, event.Step)
	}
	s.events = append(s.events, event)
	return s.save()
}

// LastEvent returns the most recent log entry without removing it.
func (s *Store) LastEvent() (Event, bool) {
	if len(s.events) == 0 {
		return Event{}, false
	}
	return s.events[len(s.events)-1], true
}

// PopLastEvent removes and returns the most recent log entry.
func (s *Store) PopLastEvent() (Event, bool, error) {
	if len(s.events) == 0 {
		return Event{}, false, nil
	}
	event := s.events[len(s.events)-1]
	s.events = s.events[:len(s.events)-1]
	if err := s.save(); err != nil {
		return Event{}, false, err
	}
	return event, true, nil
}

// PopLastCompletion removes and returns the most recent run entry,
// skipping over any later decision entries. The second return is false
// when no run has been recorded.
func (s *Store) PopLastCompletion() (string, bool, error) {
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Kind != EventRun {
			continue
		}
		id := s.events[i].Step
		s.events = append(s.events[:i], s.events[i+1:]...)
		if err := s.save(); err != nil {
			return "", false, err
		}
		return id, true, nil
	}
	return "", false, nil
}

// CompletionCount derives a step's run count by counting its occurrences
// in the event log, so undo adjusts counts by truncation alone.
func (s *Store) CompletionCount(id string) int {
	count := 0
	for _, event := range s.events {
		if event.Kind == EventRun && event.Step == id {
			count++
		}
	}
	return count
}

// CompletionLog returns the ordered step ids of all recorded runs.
func (s *Store) CompletionLog() []string {
	var out []string
	for _, event := range s.events {
		if event.Kind == EventRun {
			out = append(out, event.Step)
		}
	}
	return out
}

// HasDecision reports whether an unrevoked decision is recorded for the
// step. The engine uses it to keep a decided conditional step from
// re-raising its prompt.
func (s *Store) HasDecision(id string) bool {
	for _, event := range s.events {
		if event.Kind == EventDecision && event.Step == id {
			return true
		}
	}
	return false
}

// save writes the state file atomically: encode to a temp file in the same
// directory, then rename over the target.
func (s *Store) save() error {
	encoded, err := json.MarshalIndent(fileState{
		Statuses:  s.statuses,
		Events:    s.events,
		UpdatedAt: s.clock(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: ensure dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(append(encoded, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("state: replace %s: %w", s.path, err)
	}
	return nil
}
