// Package state persists contract records, keyed by their caller-supplied
// identifier, on top of the generic key-value store.
package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"gigescrow/native/gig"
	"gigescrow/storage"
)

const contractKeyPrefix = "gig/contract/"

// Manager implements gig.ContractStore over a storage.Database. Records are
// JSON encoded; writes replace the whole record.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager creates a contract store backed by the given database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func contractKey(id string) []byte {
	return []byte(contractKeyPrefix + strings.TrimSpace(id))
}

// ContractPut persists the contract record.
func (m *Manager) ContractPut(c *gig.Contract) error {
	sanitized, err := gig.SanitizeContract(c)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("state: encode contract: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(contractKey(sanitized.ContractID), raw)
}

// ContractGet loads the contract record for the given identifier.
func (m *Manager) ContractGet(id string) (*gig.Contract, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, err := m.db.Get(contractKey(id))
	if err != nil {
		return nil, false
	}
	contract := &gig.Contract{}
	if err := json.Unmarshal(raw, contract); err != nil {
		return nil, false
	}
	return contract, true
}
