package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eager/redis-to-cluster/internal/connstr"
)

// ClientOptions tunes the underlying go-redis client.
type ClientOptions struct {
	// PoolSize is the connection pool size per node. Set it to at least the
	// worker count so workers do not queue on the pool.
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ScanCount is the COUNT hint for SCAN during key enumeration.
	ScanCount int64
}

// DefaultClientOptions returns the client defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ScanCount:    1000,
	}
}

// RedisHandle implements Handle on top of go-redis. It is safe for
// concurrent use.
type RedisHandle struct {
	client    redis.UniversalClient
	cluster   *redis.ClusterClient // nil in single-node mode
	scanCount int64
	addr      string
}

// Open builds a client for the parsed connection string: a single-node
// client when a db number is present, a cluster client otherwise. No
// connection is made until the first command.
func Open(opts connstr.Options, copts ClientOptions) *RedisHandle {
	var tlsConfig *tls.Config
	if opts.TLS {
		tlsConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: opts.Host,
		}
	}
	if copts.ScanCount <= 0 {
		copts.ScanCount = DefaultClientOptions().ScanCount
	}

	h := &RedisHandle{scanCount: copts.ScanCount, addr: opts.String()}
	if opts.Cluster() {
		h.cluster = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        []string{opts.Addr()},
			Password:     opts.Password,
			TLSConfig:    tlsConfig,
			PoolSize:     copts.PoolSize,
			DialTimeout:  copts.DialTimeout,
			ReadTimeout:  copts.ReadTimeout,
			WriteTimeout: copts.WriteTimeout,
		})
		h.client = h.cluster
		return h
	}

	h.client = redis.NewClient(&redis.Options{
		Addr:         opts.Addr(),
		Password:     opts.Password,
		DB:           *opts.DB,
		TLSConfig:    tlsConfig,
		PoolSize:     copts.PoolSize,
		DialTimeout:  copts.DialTimeout,
		ReadTimeout:  copts.ReadTimeout,
		WriteTimeout: copts.WriteTimeout,
	})
	return h
}

// Cluster reports whether the handle talks to a cluster.
func (h *RedisHandle) Cluster() bool {
	return h.cluster != nil
}

// String returns the redacted connection string.
func (h *RedisHandle) String() string {
	return h.addr
}

// Ping checks connectivity.
func (h *RedisHandle) Ping(ctx context.Context) error {
	if err := h.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store: ping %s: %w", h.addr, err)
	}
	return nil
}

// Close releases every pooled connection.
func (h *RedisHandle) Close() error {
	return h.client.Close()
}

// Keys enumerates matching keys with SCAN. In cluster mode every master is
// scanned and the results are merged.
func (h *RedisHandle) Keys(ctx context.Context, pattern string) ([]string, error) {
	if h.cluster == nil {
		return scanKeys(ctx, h.client, pattern, h.scanCount)
	}

	var (
		mu   sync.Mutex
		keys []string
	)
	err := h.cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
		nodeKeys, err := scanKeys(ctx, node, pattern, h.scanCount)
		if err != nil {
			return err
		}
		mu.Lock()
		keys = append(keys, nodeKeys...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func scanKeys(ctx context.Context, c redis.Cmdable, pattern string, count int64) ([]string, error) {
	var keys []string
	iter := c.Scan(ctx, 0, pattern, count).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: scan %q: %w", pattern, err)
	}
	return keys, nil
}

// TTL implements Handle.
func (h *RedisHandle) TTL(ctx context.Context, key string) (TTL, error) {
	d, err := h.client.TTL(ctx, key).Result()
	if err != nil {
		return TTL{}, fmt.Errorf("store: ttl %q: %w", key, err)
	}
	// go-redis passes the -1/-2 sentinels through unscaled.
	if d < 0 {
		return TTLFromSeconds(int64(d)), nil
	}
	return TTLFromSeconds(int64(d / time.Second)), nil
}

// Dump implements Handle.
func (h *RedisHandle) Dump(ctx context.Context, key string) ([]byte, error) {
	v, err := h.client.Dump(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSuchKey
	}
	if err != nil {
		return nil, fmt.Errorf("store: dump %q: %w", key, err)
	}
	return []byte(v), nil
}

// Restore implements Handle.
func (h *RedisHandle) Restore(ctx context.Context, key string, ttlMillis int64, blob []byte, overwrite bool) error {
	ttl := time.Duration(ttlMillis) * time.Millisecond
	var err error
	if overwrite {
		err = h.client.RestoreReplace(ctx, key, ttl, string(blob)).Err()
	} else {
		err = h.client.Restore(ctx, key, ttl, string(blob)).Err()
	}
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "BUSYKEY") {
		return fmt.Errorf("%w: %q", ErrKeyExists, key)
	}
	return fmt.Errorf("store: restore %q: %w", key, err)
}

// Delete implements Handle.
func (h *RedisHandle) Delete(ctx context.Context, key string) error {
	if err := h.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("store: del %q: %w", key, err)
	}
	return nil
}
