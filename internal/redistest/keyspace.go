package redistest

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// dumpMagic prefixes every payload produced by DUMP. RESTORE rejects
// anything without it, the way a real server rejects a bad checksum.
const dumpMagic = "RTC\x01"

// entry is a value with optional expiration.
type entry struct {
	value     string
	expireAt  time.Time
	hasExpire bool
}

func (e *entry) expired(now time.Time) bool {
	return e.hasExpire && !now.Before(e.expireAt)
}

// keyspace is a string-only keyspace with TTLs. It is safe for concurrent
// use by the connection goroutines.
type keyspace struct {
	mu   sync.RWMutex
	data map[string]*entry
}

func newKeyspace() *keyspace {
	return &keyspace{data: make(map[string]*entry)}
}

// lookup returns the live entry for key, dropping it if expired.
// Must hold the write lock.
func (ks *keyspace) lookup(key string) (*entry, bool) {
	e, ok := ks.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(ks.data, key)
		return nil, false
	}
	return e, true
}

func (ks *keyspace) set(key, value string, ttl time.Duration) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	e := &entry{value: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
		e.hasExpire = true
	}
	ks.data[key] = e
}

func (ks *keyspace) get(key string) (string, bool) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	e, ok := ks.lookup(key)
	if !ok {
		return "", false
	}
	return e.value, true
}

// pttl returns the remaining TTL in milliseconds, -1 without expiry and -2
// for a missing key.
func (ks *keyspace) pttl(key string) int64 {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	e, ok := ks.lookup(key)
	if !ok {
		return -2
	}
	if !e.hasExpire {
		return -1
	}
	return time.Until(e.expireAt).Milliseconds()
}

// ttl rounds like Redis does: (ms + 500) / 1000.
func (ks *keyspace) ttl(key string) int64 {
	ms := ks.pttl(key)
	if ms < 0 {
		return ms
	}
	return (ms + 500) / 1000
}

func (ks *keyspace) del(key string) bool {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if _, ok := ks.lookup(key); !ok {
		return false
	}
	delete(ks.data, key)
	return true
}

func (ks *keyspace) dump(key string) (string, bool) {
	v, ok := ks.get(key)
	if !ok {
		return "", false
	}
	return dumpMagic + v, true
}

type restoreResult int

const (
	restoreOK restoreResult = iota
	restoreBusy
	restoreBadPayload
)

func (ks *keyspace) restore(key string, ttl time.Duration, payload string, replace bool) restoreResult {
	if !strings.HasPrefix(payload, dumpMagic) {
		return restoreBadPayload
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if _, exists := ks.lookup(key); exists && !replace {
		return restoreBusy
	}
	e := &entry{value: strings.TrimPrefix(payload, dumpMagic)}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
		e.hasExpire = true
	}
	ks.data[key] = e
	return restoreOK
}

// keys returns the live keys matching pattern in sorted order, which keeps
// SCAN cursors stable between calls.
func (ks *keyspace) keys(pattern string) []string {
	match := globMatcher(pattern)
	now := time.Now()

	ks.mu.RLock()
	defer ks.mu.RUnlock()
	keys := make([]string, 0, len(ks.data))
	for k, e := range ks.data {
		if !e.expired(now) && match(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (ks *keyspace) size() int {
	return len(ks.keys("*"))
}

func (ks *keyspace) flush() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.data = make(map[string]*entry)
}

// globMatcher compiles a Redis glob (* and ?) into a matcher. Every other
// character is literal.
func globMatcher(pattern string) func(string) bool {
	if pattern == "" || pattern == "*" {
		return func(string) bool { return true }
	}
	var b strings.Builder
	b.WriteString("^")
	for _, c := range pattern {
		switch c {
		case '*':
			b.WriteString("(?s:.*)")
		case '?':
			b.WriteString("(?s:.)")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	re := regexp.MustCompile(b.String())
	return re.MatchString
}
