package snapstore

import (
	"context"
	"sync"
	"time"

	"github.com/hazyhaar/netwatch/record"
)

// Memory is a map-backed Store for tests and short-lived sessions. Safe for
// concurrent use; documents are copied on the way in and out so callers can
// never alias internal state.
type Memory struct {
	fpKey string

	mu   sync.RWMutex
	docs map[string]record.Record
	fps  map[string]string
}

var (
	_ Store            = (*Memory)(nil)
	_ FingerprintStore = (*Memory)(nil)
)

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMemoryFingerprintKey names the document field UpsertMany copies into
// the fingerprint index, keeping the accelerated lookup in sync with the
// document in a single write. Default: "__fp".
func WithMemoryFingerprintKey(key string) MemoryOption {
	return func(m *Memory) { m.fpKey = key }
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		fpKey: "__fp",
		docs:  make(map[string]record.Record),
		fps:   make(map[string]string),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) GetByID(_ context.Context, id string) (record.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	return doc.Clone(), nil
}

func (m *Memory) UpsertMany(_ context.Context, docs map[string]record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, doc := range docs {
		m.docs[id] = doc.Clone()
		if m.fpKey != "" {
			fp, _ := doc[m.fpKey].(string)
			m.fps[id] = fp
		}
	}
	return nil
}

func (m *Memory) MarkDeleted(_ context.Context, ids []string, flagKey, timeKey string) error {
	now := time.Now().Unix()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		doc, ok := m.docs[id]
		if !ok {
			continue
		}
		doc[flagKey] = true
		doc[timeKey] = now
	}
	return nil
}

func (m *Memory) DeleteMany(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.docs, id)
		delete(m.fps, id)
	}
	return nil
}

func (m *Memory) ListAllIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Memory) GetFingerprintByID(_ context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fps[id], nil
}

func (m *Memory) UpsertFingerprint(_ context.Context, id, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fps[id] = fp
	return nil
}

// Len returns the number of stored documents.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
