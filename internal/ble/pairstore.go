package ble

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// PairStore remembers which camera identities have already completed BLE
// pairing, so later runs skip the bonding step. Backed by a YAML file
// mapping identity to the time pairing completed.
type PairStore struct {
	path string

	mu     sync.Mutex
	paired map[string]time.Time
}

// LoadPairStore reads the pairing state at path. A missing file yields an
// empty store.
func LoadPairStore(path string) (*PairStore, error) {
	s := &PairStore{path: path, paired: make(map[string]time.Time)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading pair store: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.paired); err != nil {
		return nil, fmt.Errorf("parsing pair store: %w", err)
	}
	return s, nil
}

// Paired reports whether identity has completed pairing in an earlier run.
func (s *PairStore) Paired(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.paired[strings.ToUpper(identity)]
	return ok
}

// MarkPaired records that identity is now paired and persists the store.
func (s *PairStore) MarkPaired(identity string) error {
	s.mu.Lock()
	s.paired[strings.ToUpper(identity)] = time.Now().UTC()
	data, err := yaml.Marshal(s.paired)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding pair store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating pair store directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing pair store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing pair store: %w", err)
	}
	return nil
}
