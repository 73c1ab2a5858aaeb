package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"confidencePoolAPI/internal/recovery"
)

// MemoryStore is an in-process Store used for tests and local development.
// It counts reads and writes so the read-bound guarantee can be asserted
// against it, and can be told to fail transactions or specific paths.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte

	reads  int
	writes int

	// FailTransactions makes RunTransaction fail without running the body.
	FailTransactions bool
	// SetFailures maps a path to the error Set returns for it.
	SetFailures map[string]error
	// GetFailures maps a path to the error Get returns for it.
	GetFailures map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, path string, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(path, out)
}

func (m *MemoryStore) getLocked(path string, out any) error {
	m.reads++
	if err, ok := m.GetFailures[path]; ok {
		return err
	}
	raw, ok := m.docs[path]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (m *MemoryStore) Set(ctx context.Context, path string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLocked(path, data)
}

func (m *MemoryStore) setLocked(path string, data any) error {
	if err, ok := m.SetFailures[path]; ok {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return recovery.Wrap("memory.set", err)
	}
	m.docs[path] = raw
	m.writes++
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, path)
	return nil
}

// RunTransaction buffers writes and applies them only when the body returns
// nil, matching the all-or-nothing contract of the real store.
func (m *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTransactions {
		return recovery.Wrap("memory.txn", fmt.Errorf("transaction aborted"))
	}
	tx := &memoryTxn{store: m, pending: make(map[string]any)}
	if err := fn(tx); err != nil {
		return err
	}
	for _, path := range tx.paths {
		if err := m.setLocked(path, tx.pending[path]); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a document is stored at path without counting a read.
func (m *MemoryStore) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[path]
	return ok
}

func (m *MemoryStore) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryStore) ResetCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads, m.writes = 0, 0
}

type memoryTxn struct {
	store   *MemoryStore
	pending map[string]any
	paths   []string
}

func (t *memoryTxn) Get(path string, out any) error {
	if data, ok := t.pending[path]; ok {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, out)
	}
	return t.store.getLocked(path, out)
}

func (t *memoryTxn) Set(path string, data any) error {
	if _, ok := t.pending[path]; !ok {
		t.paths = append(t.paths, path)
	}
	t.pending[path] = data
	return nil
}
