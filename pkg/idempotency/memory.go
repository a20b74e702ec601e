package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryInbox is an in-process Processor with the same state machine as
// Inbox. Entries do not survive a restart.
type MemoryInbox struct {
	mu      sync.Mutex
	entries map[string]*Entry
	config  Config
	now     func() time.Time
}

var _ Processor = (*MemoryInbox)(nil)

// NewMemoryInbox creates an empty in-memory inbox
func NewMemoryInbox(cfg Config) *MemoryInbox {
	return &MemoryInbox{entries: make(map[string]*Entry), config: cfg, now: time.Now}
}

// Process claims key, runs fn and records the outcome
func (m *MemoryInbox) Process(ctx context.Context, key, handler string, payload json.RawMessage, fn HandlerFunc) (*Result, error) {
	m.mu.Lock()
	decision, done, err := admit(m.lookup(key), m.config.RecoveryTimeout, m.now())
	if err != nil || done != nil {
		m.mu.Unlock()
		return done, err
	}
	ts := m.now()
	expires := ts.Add(m.config.TTL)
	m.entries[key] = &Entry{
		Key: key, Handler: handler, Status: StatusStarted, Payload: payload,
		CreatedAt: ts, UpdatedAt: ts, ExpiresAt: &expires,
	}
	m.mu.Unlock()

	output, herr := fn(ctx, payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[key]
	e.UpdatedAt = m.now()
	if herr != nil {
		e.Status = failureStatus(herr)
		e.Result = errorResult(herr)
		return nil, herr
	}
	e.Status = StatusFinished
	e.Result = output
	return &Result{Recovered: decision != admitNew, Output: output}, nil
}

func (m *MemoryInbox) lookup(key string) *Entry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if e.ExpiresAt != nil && m.now().After(*e.ExpiresAt) {
		delete(m.entries, key)
		return nil
	}
	c := *e
	return &c
}

// Status returns the state of key, if present
func (m *MemoryInbox) Status(key string) (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return "", false
	}
	return e.Status, true
}
