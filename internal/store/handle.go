// Package store defines the capability set the migration engine needs from
// a key-value store and provides a go-redis backed implementation that works
// against a single node or a cluster.
package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoSuchKey indicates the key does not exist (or expired) on the store.
	ErrNoSuchKey = errors.New("store: no such key")
	// ErrKeyExists indicates a restore was rejected because the target key
	// already exists and overwrite was not requested.
	ErrKeyExists = errors.New("store: target key already exists")
)

// Handle is the set of primitives the engine issues against a store.
// Implementations must be safe for concurrent use; the engine calls them
// from many workers at once without any locking of its own.
type Handle interface {
	// Keys returns every key matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// TTL reports the key's remaining time to live.
	TTL(ctx context.Context, key string) (TTL, error)
	// Dump returns the serialized value of key. Returns ErrNoSuchKey if the
	// key is gone.
	Dump(ctx context.Context, key string) ([]byte, error)
	// Restore creates key from a blob produced by Dump. A ttlMillis of 0
	// means no expiry.
	Restore(ctx context.Context, key string, ttlMillis int64, blob []byte, overwrite bool) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
}

// TTLKind distinguishes the three states a TTL lookup can report.
type TTLKind int

const (
	// NoSuchKey means the key vanished between enumeration and lookup.
	NoSuchKey TTLKind = iota
	// NoExpiry means the key exists without an expiration.
	NoExpiry
	// Remaining means the key expires in TTL.Seconds seconds.
	Remaining
)

func (k TTLKind) String() string {
	switch k {
	case NoSuchKey:
		return "no-such-key"
	case NoExpiry:
		return "no-expiry"
	case Remaining:
		return "remaining"
	default:
		return fmt.Sprintf("TTLKind(%d)", int(k))
	}
}

// TTL is the result of a time-to-live lookup.
type TTL struct {
	Kind    TTLKind
	Seconds int64 // > 0 only when Kind == Remaining
}

// RemainingSeconds returns a TTL expiring in n seconds.
func RemainingSeconds(n int64) TTL {
	return TTL{Kind: Remaining, Seconds: n}
}

// TTLFromSeconds maps a Redis TTL reply onto a TTL: -1 is no expiry, any
// other negative value is a missing key. Redis rounds to whole seconds, so
// a live key in its last half second reports 0; that is kept as one second
// rather than being mistaken for "no expiry" on restore.
func TTLFromSeconds(n int64) TTL {
	switch {
	case n == -1:
		return TTL{Kind: NoExpiry}
	case n < 0:
		return TTL{Kind: NoSuchKey}
	case n == 0:
		return RemainingSeconds(1)
	default:
		return RemainingSeconds(n)
	}
}

func (t TTL) String() string {
	if t.Kind == Remaining {
		return fmt.Sprintf("%ds", t.Seconds)
	}
	return t.Kind.String()
}
