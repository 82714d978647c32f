package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/eager/redis-to-cluster/internal/store"
)

// keyOp performs the run's operation on one key. skipped reports a key
// that vanished before it could be processed.
type keyOp func(ctx context.Context, key string) (skipped bool, err error)

// runWorker drains q, applying op to every key it dequeues, until the queue
// is empty or ctx is done. A failing key is counted and logged and the
// worker moves on. It returns how many keys it took off the queue.
func runWorker(ctx context.Context, id int, q *Queue, op keyOp, m *Metrics, timeout time.Duration, logger zerolog.Logger) int {
	processed := 0
	for !q.IsEmpty() && ctx.Err() == nil {
		key, ok := q.TryGet(ctx, timeout)
		if !ok {
			continue
		}
		processed++

		skipped, err := op(ctx, key)
		switch {
		case err != nil && ctx.Err() != nil:
			// Interrupted mid-key; leave it uncounted.
		case err != nil:
			m.RecordFailure()
			logger.Warn().Err(err).Str("key", key).Msg("key failed")
		case skipped:
			m.RecordSkip()
			logger.Debug().Str("key", key).Msg("key vanished, skipping")
		default:
			m.RecordSuccess()
		}
	}
	logger.Debug().Int("worker", id).Int("processed", processed).Msg("worker finished")
	return processed
}

// copyKey returns the migrate-mode operation: TTL, dump from src, restore
// on dst. The three calls are strictly ordered per key.
func copyKey(src, dst store.Handle, opts Options, logger zerolog.Logger) keyOp {
	return func(ctx context.Context, key string) (bool, error) {
		ttl, err := src.TTL(ctx, key)
		if err != nil {
			return false, err
		}
		millis, ok := restoreTTL(ttl, opts.NoExpiry, opts.DefaultTTL)
		if !ok {
			return true, nil
		}

		logger.Debug().Str("key", key).Msg("dumping key")
		blob, err := src.Dump(ctx, key)
		if errors.Is(err, store.ErrNoSuchKey) {
			return true, nil
		}
		if err != nil {
			return false, err
		}

		logger.Debug().Str("key", key).Int64("ttl_ms", millis).Msg("restoring key")
		if err := dst.Restore(ctx, key, millis, blob, opts.Overwrite); err != nil {
			return false, fmt.Errorf("restore: %w", err)
		}
		return false, nil
	}
}

// deleteKey returns the delete-mode operation.
func deleteKey(dst store.Handle) keyOp {
	return func(ctx context.Context, key string) (bool, error) {
		return false, dst.Delete(ctx, key)
	}
}
