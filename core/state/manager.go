package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"vaultix/storage"
)

// Manager reads and writes RLP-encoded records on top of a key-value
// database. Mutations performed inside Update are staged in a pending overlay
// and flushed as a single storage batch, so either every write of a unit of
// work lands or none does.
//
// Callers sharing a Manager across goroutines must go through Update or View;
// the session lock serialises them.
type Manager struct {
	db storage.Database

	session sync.Mutex
	pending map[string][]byte
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Update runs fn inside a write session. When fn returns nil the staged writes
// are committed atomically; otherwise they are discarded. Update must not be
// nested.
func (m *Manager) Update(fn func() error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	m.session.Lock()
	defer m.session.Unlock()

	m.pending = make(map[string][]byte)
	defer func() { m.pending = nil }()

	if err := fn(); err != nil {
		return err
	}
	return m.flush()
}

// View runs fn against committed state while holding the session lock, so it
// never observes a half-applied Update.
func (m *Manager) View(fn func() error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not configured")
	}
	m.session.Lock()
	defer m.session.Unlock()
	return fn()
}

// Pending reports how many keys are staged in the current session.
func (m *Manager) Pending() int {
	return len(m.pending)
}

func (m *Manager) flush() error {
	if len(m.pending) == 0 {
		return nil
	}
	batch := storage.NewBatch()
	for key, value := range m.pending {
		batch.Put([]byte(key), value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

func (m *Manager) get(hashed []byte) ([]byte, error) {
	if m.pending != nil {
		if value, ok := m.pending[string(hashed)]; ok {
			return value, nil
		}
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) put(hashed []byte, value []byte) error {
	if m.pending != nil {
		m.pending[string(hashed)] = append([]byte(nil), value...)
		return nil
	}
	return m.db.Put(hashed, value)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}
