// Package workspace gives each agent an isolated file tree. All paths are
// relative to the store's root and confined to it.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fabrikhq/fabrik/internal/domain"
)

// EntryType classifies a directory entry.
type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// Entry is one item in a directory listing.
type Entry struct {
	Name string    `json:"name"`
	Type EntryType `json:"type"`
	Path string    `json:"path"` // root-relative
}

// Store is a per-agent workspace rooted at a single directory. Retarget
// swaps the root wholesale; readers never observe a mix of old and new
// roots because the root is read under the same lock that guards the swap.
type Store struct {
	mu   sync.RWMutex
	root string
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Attach opens a store over an existing directory without creating it.
// Returns domain.ErrNotFound if the directory is absent.
func Attach(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("workspace %s: %w", dir, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory: %w", dir, domain.ErrNotFound)
	}
	return &Store{root: abs}, nil
}

// Root returns the current root directory.
func (s *Store) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// Retarget atomically swaps the backing root. The new root must already
// exist. In-flight reads complete against the old root; operations started
// after Retarget returns address the new root exclusively.
func (s *Store) Retarget(newRoot string) error {
	abs, err := filepath.Abs(newRoot)
	if err != nil {
		return fmt.Errorf("resolving workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return fmt.Errorf("workspace %s: %w", newRoot, domain.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace %s is not a directory: %w", newRoot, domain.ErrNotFound)
	}

	s.mu.Lock()
	s.root = abs
	s.mu.Unlock()
	return nil
}

// resolve validates that rel stays inside root and returns the absolute
// path. Must be called with at least a read lock held.
func (s *Store) resolve(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%s: %w", rel, domain.ErrPathEscape)
	}
	candidate := filepath.Join(s.root, filepath.Clean(rel))
	if candidate != s.root && !strings.HasPrefix(candidate, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", rel, domain.ErrPathEscape)
	}
	return candidate, nil
}

// List returns the entries of a directory, sorted by name.
func (s *Store) List(rel string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	full, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", rel, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		t := EntryFile
		if d.IsDir() {
			t = EntryDir
		}
		entries = append(entries, Entry{
			Name: d.Name(),
			Type: t,
			Path: filepath.ToSlash(filepath.Join(rel, d.Name())),
		})
	}
	return entries, nil
}

// Read returns the contents of a file.
func (s *Store) Read(rel string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	full, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", rel, domain.ErrNotFound)
	}
	return data, err
}

// Write stores a file, creating parent directories as needed and
// overwriting any existing content.
func (s *Store) Write(rel string, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writeLocked(rel, data)
}

func (s *Store) writeLocked(rel string, data []byte) error {
	full, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("creating parent directories: %w", err)
	}
	return os.WriteFile(full, data, 0o644)
}

// Mkdir creates a directory. Fails with domain.ErrAlreadyExists if a file
// occupies the path; an existing directory is fine.
func (s *Store) Mkdir(rel string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	full, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if info, err := os.Stat(full); err == nil && !info.IsDir() {
		return fmt.Errorf("%s: %w", rel, domain.ErrAlreadyExists)
	}
	return os.MkdirAll(full, 0o755)
}

// WriteFiles writes a task's full output as one step: every path is
// validated before anything touches disk, so a traversal attempt rejects
// the whole batch rather than leaving a partial write.
func (s *Store) WriteFiles(files []domain.File) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range files {
		if _, err := s.resolve(f.Path); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := s.writeLocked(f.Path, f.Content); err != nil {
			return err
		}
	}
	return nil
}
