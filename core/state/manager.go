package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"shieldlend/storage"
)

// ErrNoTransaction is returned when Commit or Rollback is called outside a
// transaction.
var ErrNoTransaction = errors.New("state: no open transaction")

// Manager provides typed read/write access to the protocol state on top of a
// raw key-value database. Keys are keccak-hashed before hitting the store.
//
// A Manager optionally runs in transaction mode: Begin buffers every mutation
// in an overlay, Commit flushes the overlay to the database and Rollback
// discards it. Entrypoints execute inside one transaction so a failure leaves
// no partial effects behind.
//
// Manager is not safe for concurrent use; callers serialize transactions.
type Manager struct {
	db storage.Database

	inTx bool
	// pending maps hashed keys to overlay values; nil marks a deletion.
	pending map[string][]byte
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Begin opens a buffering transaction. Nested transactions are not supported.
func (m *Manager) Begin() {
	m.inTx = true
	m.pending = make(map[string][]byte)
}

// Commit flushes the buffered mutations to the backing database and closes the
// transaction.
func (m *Manager) Commit() error {
	if !m.inTx {
		return ErrNoTransaction
	}
	for key, value := range m.pending {
		if value == nil {
			if err := m.db.Delete([]byte(key)); err != nil {
				return fmt.Errorf("state: flush delete: %w", err)
			}
			continue
		}
		if err := m.db.Put([]byte(key), value); err != nil {
			return fmt.Errorf("state: flush put: %w", err)
		}
	}
	m.inTx = false
	m.pending = nil
	return nil
}

// Rollback discards the buffered mutations and closes the transaction.
func (m *Manager) Rollback() error {
	if !m.inTx {
		return ErrNoTransaction
	}
	m.inTx = false
	m.pending = nil
	return nil
}

func (m *Manager) rawGet(key []byte) ([]byte, bool, error) {
	hashed := kvKey(key)
	if m.inTx {
		if value, ok := m.pending[string(hashed)]; ok {
			if value == nil {
				return nil, false, nil
			}
			return append([]byte(nil), value...), true, nil
		}
	}
	value, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) rawPut(key, value []byte) error {
	hashed := kvKey(key)
	if m.inTx {
		m.pending[string(hashed)] = append([]byte(nil), value...)
		return nil
	}
	return m.db.Put(hashed, value)
}

func (m *Manager) rawDelete(key []byte) error {
	hashed := kvKey(key)
	if m.inTx {
		m.pending[string(hashed)] = nil
		return nil
	}
	return m.db.Delete(hashed)
}

func (m *Manager) getRecord(key []byte, out interface{}) (bool, error) {
	data, ok, err := m.rawGet(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putRecord(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.rawPut(key, encoded)
}

func (m *Manager) getUint64(key []byte, fallback uint64) (uint64, error) {
	var value uint64
	ok, err := m.getRecord(key, &value)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	return value, nil
}

func (m *Manager) putUint64(key []byte, value uint64) error {
	return m.putRecord(key, value)
}
