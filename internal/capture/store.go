package capture

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/vburojevic/roborec/internal/domain"
)

// ErrDuplicateKey is returned when a key is registered twice in one session.
var ErrDuplicateKey = errors.New("artifact key already registered")

// Store maps artifact keys to their backing files for one session.
type Store struct {
	dir string

	mu    sync.RWMutex
	items map[string]domain.Artifact
	order []string
}

// NewStore creates a store whose files live in dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, items: make(map[string]domain.Artifact)}
}

// OpenTempStore creates a fresh scratch directory under parent (os.TempDir
// when empty).
func OpenTempStore(parent string) (*Store, error) {
	dir, err := os.MkdirTemp(parent, "roborec-artifacts-")
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return NewStore(dir), nil
}

// Dir returns the directory artifacts are written to.
func (s *Store) Dir() string { return s.dir }

// Register adds a to the store.
func (s *Store) Register(a domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[a.Key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, a.Key)
	}
	s.items[a.Key] = a
	s.order = append(s.order, a.Key)
	return nil
}

// Lookup returns the artifact registered under key.
func (s *Store) Lookup(key string) (domain.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[key]
	return a, ok
}

// Keys returns registered keys in registration order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Len returns the number of registered artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Remove deletes the scratch directory. Call it only after the bundle has
// been written or abandoned.
func (s *Store) Remove() error {
	return os.RemoveAll(s.dir)
}
