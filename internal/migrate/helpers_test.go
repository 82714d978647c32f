package migrate

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eager/redis-to-cluster/internal/store"
)

type memEntry struct {
	blob []byte
	ttl  store.TTL
}

type restoreCall struct {
	key       string
	ttlMillis int64
	overwrite bool
}

// memStore is an in-memory store.Handle. TTLs are fixed values, not clocks.
type memStore struct {
	mu       sync.Mutex
	entries  map[string]memEntry
	restores []restoreCall
	deletes  []string
	failKey  map[string]error
	keysErr  error
	keyCalls int
	ttlCalls int
	// ghosts are listed by Keys but already gone by the time TTL runs.
	ghosts map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		entries: make(map[string]memEntry),
		failKey: make(map[string]error),
		ghosts:  make(map[string]bool),
	}
}

func (m *memStore) put(key string, ttl store.TTL) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{blob: []byte("blob:" + key), ttl: ttl}
}

func (m *memStore) ghost(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ghosts[key] = true
}

func (m *memStore) fail(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failKey[key] = err
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

func (m *memStore) restoreCalls() map[string]restoreCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]restoreCall, len(m.restores))
	for _, c := range m.restores {
		out[c.key] = c
	}
	return out
}

func (m *memStore) deleteCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.deletes...)
	sort.Strings(out)
	return out
}

func (m *memStore) calls() (keys, ttls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keyCalls, m.ttlCalls
}

func (m *memStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyCalls++
	if m.keysErr != nil {
		return nil, m.keysErr
	}
	var out []string
	for k := range m.entries {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	for k := range m.ghosts {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) TTL(_ context.Context, key string) (store.TTL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttlCalls++
	if err := m.failKey[key]; err != nil {
		return store.TTL{}, err
	}
	e, ok := m.entries[key]
	if !ok {
		return store.TTL{Kind: store.NoSuchKey}, nil
	}
	return e.ttl, nil
}

func (m *memStore) Dump(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, store.ErrNoSuchKey
	}
	return e.blob, nil
}

func (m *memStore) Restore(_ context.Context, key string, ttlMillis int64, blob []byte, overwrite bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failKey[key]; err != nil {
		return err
	}
	if _, exists := m.entries[key]; exists && !overwrite {
		return store.ErrKeyExists
	}
	m.restores = append(m.restores, restoreCall{key: key, ttlMillis: ttlMillis, overwrite: overwrite})
	ttl := store.TTL{Kind: store.NoExpiry}
	if ttlMillis > 0 {
		ttl = store.RemainingSeconds(ttlMillis / 1000)
	}
	m.entries[key] = memEntry{blob: blob, ttl: ttl}
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failKey[key]; err != nil {
		return err
	}
	m.deletes = append(m.deletes, key)
	delete(m.entries, key)
	return nil
}

var errBoom = errors.New("boom")

func testOptions() Options {
	opts := DefaultOptions()
	opts.DequeueTimeout = 10 * time.Millisecond
	opts.DeleteDelay = 0
	return opts
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}
