package migrate

import (
	"fmt"
	"time"

	"github.com/eager/redis-to-cluster/internal/store"
)

// NoExpiryPolicy decides what TTL a key without expiry gets on the
// destination.
type NoExpiryPolicy int

const (
	// NoExpiryDefaultTTL restores such keys with Options.DefaultTTL so that
	// everything migrated expires eventually.
	NoExpiryDefaultTTL NoExpiryPolicy = iota
	// NoExpiryPersist restores such keys without expiry.
	NoExpiryPersist
)

func (p NoExpiryPolicy) String() string {
	switch p {
	case NoExpiryDefaultTTL:
		return "default-ttl"
	case NoExpiryPersist:
		return "persist"
	default:
		return fmt.Sprintf("NoExpiryPolicy(%d)", int(p))
	}
}

// ParseNoExpiryPolicy parses "default-ttl" or "persist".
func ParseNoExpiryPolicy(s string) (NoExpiryPolicy, error) {
	switch s {
	case "default-ttl":
		return NoExpiryDefaultTTL, nil
	case "persist":
		return NoExpiryPersist, nil
	default:
		return 0, fmt.Errorf("migrate: unknown no-expiry policy %q", s)
	}
}

// restoreTTL converts a source TTL into the millisecond argument for
// Restore. ok is false when the key no longer exists. A result of 0 means
// no expiry.
func restoreTTL(ttl store.TTL, policy NoExpiryPolicy, defaultTTL time.Duration) (millis int64, ok bool) {
	switch ttl.Kind {
	case store.Remaining:
		return ttl.Seconds * 1000, true
	case store.NoExpiry:
		if policy == NoExpiryPersist {
			return 0, true
		}
		return defaultTTL.Milliseconds(), true
	default:
		return 0, false
	}
}
