package snapshot

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// RestoreError reports a filesystem failure while restoring a snapshot.
// Restore is itself the recovery primitive, so it is never retried
// automatically; the tree may be partially modified and the caller must
// surface that.
type RestoreError struct {
	ID   ID
	Path string
	Err  error
}

func (e *RestoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("snapshot: restore %s: %s: %v", e.ID, e.Path, e.Err)
	}
	return fmt.Sprintf("snapshot: restore %s: %v", e.ID, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// Restore returns the project tree to the state captured under the id:
// files and directories not present in the archive are deleted (except
// the control directory and transient paths, which snapshots never
// cover), then every member is extracted with its original timestamp
// reapplied.
func (s *Store) Restore(id ID) error {
	path := s.archivePath(id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSnapshotMissing, id)
		}
		return &RestoreError{ID: id, Path: path, Err: err}
	}
	members, err := s.readMembers(id, path)
	if err != nil {
		return err
	}
	if err := s.deleteExtraneous(id, members); err != nil {
		return err
	}
	return s.extract(id, path)
}

// readMembers collects the archive's member paths (OS-native, relative to
// the project root).
func (s *Store) readMembers(id ID, path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &RestoreError{ID: id, Path: path, Err: err}
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, &RestoreError{ID: id, Path: path, Err: err}
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	members := make(map[string]bool)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &RestoreError{ID: id, Path: path, Err: err}
		}
		members[filepath.FromSlash(strings.TrimSuffix(header.Name, "/"))] = true
	}
	return members, nil
}

// deleteExtraneous removes current-tree entries that the target snapshot
// does not contain. The exclude list doubles as the preserve list: the
// control directory (workflow definition, state store, the archives
// themselves) is never deleted by a restore.
func (s *Store) deleteExtraneous(id ID, members map[string]bool) error {
	var staleDirs []string
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
		if members[rel] {
			return nil
		}
		if entry.IsDir() {
			staleDirs = append(staleDirs, path)
			return nil
		}
		return os.Remove(path)
	})
	if err != nil {
		return &RestoreError{ID: id, Err: err}
	}
	// Deepest first, so children go before their parents.
	sort.Slice(staleDirs, func(i, j int) bool { return len(staleDirs[i]) > len(staleDirs[j]) })
	for _, dir := range staleDirs {
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &RestoreError{ID: id, Path: dir, Err: err}
		}
	}
	return nil
}

// extract unpacks every archive member, reapplying archived modes and
// modification timestamps. Directory timestamps are applied after all
// files are written, since extracting a file touches its parent.
func (s *Store) extract(id ID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &RestoreError{ID: id, Path: path, Err: err}
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return &RestoreError{ID: id, Path: path, Err: err}
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	type dirStamp struct {
		path   string
		header *tar.Header
	}
	var dirs []dirStamp
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &RestoreError{ID: id, Path: path, Err: err}
		}
		target := filepath.Join(s.projectDir, filepath.FromSlash(header.Name))
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(header.Mode)&fs.ModePerm); err != nil {
				return &RestoreError{ID: id, Path: target, Err: err}
			}
			dirs = append(dirs, dirStamp{path: target, header: header})
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return &RestoreError{ID: id, Path: target, Err: err}
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(header.Mode)&fs.ModePerm)
			if err != nil {
				return &RestoreError{ID: id, Path: target, Err: err}
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return &RestoreError{ID: id, Path: target, Err: err}
			}
			if err := out.Close(); err != nil {
				return &RestoreError{ID: id, Path: target, Err: err}
			}
			if err := os.Chtimes(target, header.ModTime, header.ModTime); err != nil {
				return &RestoreError{ID: id, Path: target, Err: err}
			}
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i].path) > len(dirs[j].path) })
	for _, dir := range dirs {
		if err := os.Chtimes(dir.path, dir.header.ModTime, dir.header.ModTime); err != nil {
			return &RestoreError{ID: id, Path: dir.path, Err: err}
		}
	}
	return nil
}
