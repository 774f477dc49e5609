package pad

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Mode selects how pads are addressed.
type Mode string

const (
	// ModePerContact gives every peer relationship its own pad
	// directory. A pad shared with one peer is never used with
	// another. This is the default.
	ModePerContact Mode = "per-contact"

	// ModeShared uses one global pad for every peer. Supported for
	// small closed groups that provisioned a single pad.
	ModeShared Mode = "shared"
)

// ValidMode reports whether m names a supported pad addressing mode.
func ValidMode(m Mode) bool {
	return m == ModePerContact || m == ModeShared
}

// Manager resolves peer identities to pad stores under a data
// directory, caching one Store per directory.
type Manager struct {
	dataDir string
	mode    Mode

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a pad manager rooted at dataDir.
func NewManager(dataDir string, mode Mode) (*Manager, error) {
	if !ValidMode(mode) {
		return nil, fmt.Errorf("unknown pad mode %q", mode)
	}
	return &Manager{
		dataDir: dataDir,
		mode:    mode,
		stores:  make(map[string]*Store),
	}, nil
}

// ForPeer returns the pad store for a peer identity, opening it on
// first use. In shared mode every peer maps to the same store.
func (m *Manager) ForPeer(identity string) (*Store, error) {
	dir := m.dirFor(identity)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[dir]; ok {
		return s, nil
	}
	s, err := Open(dir)
	if err != nil {
		return nil, err
	}
	m.stores[dir] = s
	return s, nil
}

func (m *Manager) dirFor(identity string) string {
	if m.mode == ModeShared {
		return filepath.Join(m.dataDir, "shared")
	}
	return filepath.Join(m.dataDir, "contacts", identity)
}
