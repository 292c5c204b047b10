package zt

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StateStore implements the node's state_get/state_put overlay
// callbacks (spec §4.6 item 4): identity.public, identity.secret,
// planet, and per-network config blobs, persisted as whole files under
// home. Grounded on internal/config/loader.go's whole-file read/replace
// pattern (write to a temp file, then rename over the target, never an
// in-place partial write).
type StateStore struct {
	mu   sync.Mutex
	home string // empty means memory-only, no home directory configured
	mem  map[string][]byte
}

// NewStateStore creates a store rooted at home. An empty home runs
// purely in-memory, which is useful for tests and for nodes that opt
// out of disk persistence.
func NewStateStore(home string) *StateStore {
	return &StateStore{home: home, mem: make(map[string][]byte)}
}

// Put implements OverlayCallbacks.StatePut.
func (s *StateStore) Put(objType StateObjectType, id [2]uint64, data []byte) {
	name := stateFileName(objType, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := append([]byte(nil), data...)
	s.mem[name] = cp

	if s.home == "" {
		return
	}
	path := filepath.Join(s.home, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, path)
}

// Get implements OverlayCallbacks.StateGet, per spec §9's Open Question:
// always read-mode, never opening the backing file for write.
func (s *StateStore) Get(objType StateObjectType, id [2]uint64) ([]byte, bool) {
	name := stateFileName(objType, id)

	s.mu.Lock()
	if cached, ok := s.mem[name]; ok {
		s.mu.Unlock()
		return cached, true
	}
	s.mu.Unlock()

	if s.home == "" {
		return nil, false
	}
	path := filepath.Join(s.home, name)
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, false
	}
	defer f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	s.mu.Lock()
	s.mem[name] = data
	s.mu.Unlock()
	return data, true
}

// stateFileName maps an object type/id pair onto the on-disk layout the
// spec calls out by name: identity.public, identity.secret, planet, and
// per-network config files keyed by network id.
func stateFileName(objType StateObjectType, id [2]uint64) string {
	switch objType {
	case StateIdentityPublic:
		return "identity.public"
	case StateIdentitySecret:
		return "identity.secret"
	case StatePlanet:
		return "planet"
	case StateNetworkConfig:
		return filepath.Join("networks.d", fmt.Sprintf("%016x.conf", id[0]))
	default:
		return fmt.Sprintf("unknown.%x.%x", id[0], id[1])
	}
}
