// Package migrate copies keys between two stores, preserving expiry.
//
// An Engine resolves the set of keys to act on, fills a Queue with them and
// drains it with a fixed pool of workers that share one Metrics. A key that
// fails is logged and counted; it never stops the run. Re-running with the
// same pattern picks up whatever is still missing on the destination.
package migrate

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eager/redis-to-cluster/internal/store"
)

// DefaultRetention is the TTL given to keys without expiry under
// NoExpiryDefaultTTL.
const DefaultRetention = 90 * 24 * time.Hour

// Options controls a run.
type Options struct {
	Pattern        string
	Workers        int
	Overwrite      bool
	NoExpiry       NoExpiryPolicy
	DefaultTTL     time.Duration
	ReportEvery    int
	DequeueTimeout time.Duration

	// Delete mode only.
	DeleteDelay  time.Duration
	DeleteSample int
	// Notice receives the delete count and sample as plain text, for when
	// log lines do not reach the operator. Nil disables it.
	Notice io.Writer
	// Countdown receives a once-per-second countdown during the delete
	// confirmation window. Nil disables it.
	Countdown io.Writer
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Pattern:        "*",
		Workers:        10,
		NoExpiry:       NoExpiryDefaultTTL,
		DefaultTTL:     DefaultRetention,
		ReportEvery:    1000,
		DequeueTimeout: time.Second,
		DeleteDelay:    10 * time.Second,
		DeleteSample:   10,
	}
}

// State is a step of a run.
type State int

const (
	StateInit State = iota
	StateResolvingKeys
	StateQueueing
	StateRunning
	StateJoined
	StateReported
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateResolvingKeys:
		return "resolving-keys"
	case StateQueueing:
		return "queueing"
	case StateRunning:
		return "running"
	case StateJoined:
		return "joined"
	case StateReported:
		return "reported"
	default:
		return "unknown"
	}
}

// Engine runs one migration or delete between a source and a destination.
// It is not meant to be reused across runs.
type Engine struct {
	src  store.Handle
	dst  store.Handle
	opts Options
	log  zerolog.Logger

	mu    sync.Mutex
	state State
}

// New creates an Engine. src may be nil for an engine that only deletes.
func New(src, dst store.Handle, opts Options, logger zerolog.Logger) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.DequeueTimeout <= 0 {
		opts.DequeueTimeout = time.Second
	}
	return &Engine{
		src:  src,
		dst:  dst,
		opts: opts,
		log:  logger,
	}
}

// State returns the step the engine has reached.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.log.Debug().Stringer("state", s).Msg("state change")
}

// Migrate copies every source key matching the pattern that the destination
// lacks (or every matching key, with Overwrite). Only a failure to resolve
// the key set, or cancellation of ctx, is returned as an error; per-key
// failures show up in Summary.Errored.
func (e *Engine) Migrate(ctx context.Context) (Summary, error) {
	e.log.Info().
		Str("pattern", e.opts.Pattern).
		Int("workers", e.opts.Workers).
		Bool("overwrite", e.opts.Overwrite).
		Stringer("no_expiry", e.opts.NoExpiry).
		Msg("starting migration")

	e.setState(StateResolvingKeys)
	res, err := Resolve(ctx, e.src, e.dst, e.opts.Pattern, e.opts.Overwrite, e.log)
	if err != nil {
		return Summary{}, err
	}

	return e.run(ctx, res.Pending, copyKey(e.src, e.dst, e.opts, e.log))
}

// run queues keys and drains them with the worker pool.
func (e *Engine) run(ctx context.Context, keys []string, op keyOp) (Summary, error) {
	e.setState(StateQueueing)
	q := NewQueue(len(keys))
	for _, k := range keys {
		q.Put(k)
	}
	m := NewMetrics(len(keys), e.opts.ReportEvery, e.log)

	if len(keys) > 0 {
		workers := min(e.opts.Workers, len(keys))
		e.setState(StateRunning)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				runWorker(ctx, id, q, op, m, e.opts.DequeueTimeout, e.log)
			}(i)
		}
		wg.Wait()
	}
	e.setState(StateJoined)

	sum := m.Summary()
	e.log.Info().
		Int("copied", sum.Copied).
		Int("errored", sum.Errored).
		Int("skipped", sum.Skipped).
		Int("total", sum.Total).
		Dur("elapsed", sum.Elapsed).
		Float64("keys_per_sec", sum.KeysPerSecond()).
		Msg("run complete")
	e.setState(StateReported)

	return sum, ctx.Err()
}
