// internal/snapshot/store.go
//
// The snapshot store keeps versioned, restorable captures of the full
// project directory, one compressed archive per snapshot id. Archives
// preserve each entry's original modification timestamp, so a restore
// returns the tree to its exact prior shape, timestamps included.

package snapshot

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrSnapshotMissing reports an absent requested snapshot. Undo treats it
// as the signal to fall back along the backwards-search chain; every other
// caller surfaces it directly.
var ErrSnapshotMissing = errors.New("snapshot: snapshot does not exist")

// Store reads and writes snapshot archives under a dedicated directory
// inside the project's control directory.
type Store struct {
	projectDir string
	dir        string
	exclude    []string
}

// Option customizes the store instance.
type Option func(*Store)

// WithTransient adds project-relative paths to the snapshot exclude list
// on top of the control directory itself.
func WithTransient(paths []string) Option {
	return func(s *Store) {
		for _, p := range paths {
			p = filepath.Clean(strings.TrimSpace(p))
			if p == "" || p == "." {
				continue
			}
			s.exclude = append(s.exclude, p)
		}
	}
}

// New creates a store that archives projectDir into dir. The directory
// containing the archives is always excluded from captures and preserved
// by restores, which keeps the workflow definition and the state store
// out of snapshot reach.
func New(projectDir, dir string, opts ...Option) *Store {
	store := &Store{
		projectDir: projectDir,
		dir:        dir,
	}
	if rel, err := filepath.Rel(projectDir, dir); err == nil && !strings.HasPrefix(rel, "..") {
		// Exclude the control directory as a whole, not just the archive dir.
		store.exclude = append(store.exclude, topSegment(rel))
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func topSegment(rel string) string {
	rel = filepath.Clean(rel)
	if i := strings.IndexRune(rel, filepath.Separator); i > 0 {
		return rel[:i]
	}
	return rel
}

func (s *Store) excluded(rel string) bool {
	for _, prefix := range s.exclude {
		if rel == prefix || strings.HasPrefix(rel, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (s *Store) archivePath(id ID) string {
	return filepath.Join(s.dir, id.Filename())
}

// Exists reports whether an archive for the id has been written.
func (s *Store) Exists(id ID) bool {
	_, err := os.Stat(s.archivePath(id))
	return err == nil
}

// Remove deletes the archive for the id. Removing an absent archive is a
// no-op.
func (s *Store) Remove(id ID) error {
	err := os.Remove(s.archivePath(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("snapshot: remove %s: %w", id, err)
	}
	return nil
}

// Take walks the project tree and writes a compressed archive for the id.
// The archive is staged to a temp file and renamed into place, so a
// half-written snapshot is never visible under its id.
func (s *Store) Take(id ID) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: ensure dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".snapshot-*.tar.gz")
	if err != nil {
		return fmt.Errorf("snapshot: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if err := s.writeArchive(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: take %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.archivePath(id)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: commit %s: %w", id, err)
	}
	return nil
}

func (s *Store) writeArchive(w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	err := filepath.WalkDir(s.projectDir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(s.projectDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if s.excluded(rel) {
			if entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		// Symlinks and other irregular entries are not part of the script
		// contract; only files and directories are captured.
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		header.ModTime = info.ModTime()
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

var runArchivePattern = regexp.MustCompile(`^step-(.+)-run-(\d+)-(before|after)\.tar\.gz$`)

// runNumbers scans the archive directory for run-scoped snapshots of the
// step, returning the run numbers seen per phase.
func (s *Store) runNumbers(step string) (before, after []int) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, nil
	}
	for _, entry := range entries {
		match := runArchivePattern.FindStringSubmatch(entry.Name())
		if match == nil || match[1] != step {
			continue
		}
		n, err := strconv.Atoi(match[2])
		if err != nil {
			continue
		}
		if match[3] == string(PhaseBefore) {
			before = append(before, n)
		} else {
			after = append(after, n)
		}
	}
	return before, after
}

// NextRunNumber returns one past the highest run number any archive
// records for the step, so run numbers stay monotonic across undos.
func (s *Store) NextRunNumber(step string) int {
	before, after := s.runNumbers(step)
	max := 0
	for _, n := range append(before, after...) {
		if n > max {
			max = n
		}
	}
	return max + 1
}

// EffectiveRunNumber returns the highest run number with an existing
// after-snapshot, or 0 when the step has no surviving successful run.
func (s *Store) EffectiveRunNumber(step string) int {
	_, after := s.runNumbers(step)
	max := 0
	for _, n := range after {
		if n > max {
			max = n
		}
	}
	return max
}

// LatestAfter returns the id of the step's highest surviving
// after-snapshot.
func (s *Store) LatestAfter(step string) (ID, bool) {
	n := s.EffectiveRunNumber(step)
	if n == 0 {
		return ID{}, false
	}
	return After(step, n), true
}

// UndoTarget implements the within-step backwards search for stepping
// back from the given effective run: the first existing after-snapshot at
// from-1, from-2, ... 1, falling back to run 1's before-snapshot for a
// full step reversal. The cross-step fallback to an earlier step's
// after-snapshot is composed by the engine, which knows definition order.
func (s *Store) UndoTarget(step string, from int) (ID, bool) {
	for n := from - 1; n >= 1; n-- {
		if id := After(step, n); s.Exists(id) {
			return id, true
		}
	}
	if id := Before(step, 1); s.Exists(id) {
		return id, true
	}
	return ID{}, false
}
