package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrUnsafePattern is returned when a delete would match the whole keyspace.
var ErrUnsafePattern = errors.New("migrate: refusing to delete with an empty or match-all pattern")

// DeleteDestination removes every destination key matching the pattern.
// The pattern must select something narrower than all keys. After listing,
// the count and a sample are logged and written to Notice, then the engine
// waits DeleteDelay before touching anything; cancelling ctx in that window
// aborts with no deletes.
func (e *Engine) DeleteDestination(ctx context.Context) (Summary, error) {
	if strings.Trim(e.opts.Pattern, "*") == "" {
		return Summary{}, fmt.Errorf("%w: %q", ErrUnsafePattern, e.opts.Pattern)
	}

	e.log.Warn().Str("pattern", e.opts.Pattern).Msg("starting destination delete")

	e.setState(StateResolvingKeys)
	start := time.Now()
	keys, err := e.dst.Keys(ctx, e.opts.Pattern)
	if err != nil {
		return Summary{}, fmt.Errorf("listing destination keys: %w", err)
	}
	keys = difference(keys, nil)
	e.log.Info().
		Int("destination", len(keys)).
		Dur("elapsed", time.Since(start)).
		Msg("enumerated keys")

	if len(keys) > 0 {
		sample := keys[:min(len(keys), e.opts.DeleteSample)]
		e.log.Warn().
			Int("count", len(keys)).
			Strs("sample", sample).
			Dur("delay", e.opts.DeleteDelay).
			Msgf("about to delete %d keys, interrupt to abort", len(keys))
		e.notice(keys, sample)
		if err := e.confirm(ctx); err != nil {
			e.log.Warn().Msg("delete aborted")
			return Summary{Total: len(keys)}, err
		}
	}

	return e.run(ctx, keys, deleteKey(e.dst))
}

// confirm waits out the delete delay, ticking a countdown to
// opts.Countdown when one is set.
func (e *Engine) confirm(ctx context.Context) error {
	delay := e.opts.DeleteDelay
	if delay <= 0 {
		return ctx.Err()
	}

	deadline := time.NewTimer(delay)
	defer deadline.Stop()
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	left := delay.Round(time.Second)
	e.countdown(left)
	for {
		select {
		case <-ctx.Done():
			e.countdownDone()
			return ctx.Err()
		case <-deadline.C:
			e.countdownDone()
			return nil
		case <-tick.C:
			left -= time.Second
			if left > 0 {
				e.countdown(left)
			}
		}
	}
}

func (e *Engine) notice(keys, sample []string) {
	w := e.opts.Notice
	if w == nil {
		return
	}
	fmt.Fprintf(w, "About to delete %s keys matching %q from the destination in %s. Interrupt to abort.\n",
		humanize.Comma(int64(len(keys))), e.opts.Pattern, e.opts.DeleteDelay)
	for _, k := range sample {
		fmt.Fprintf(w, "  %s\n", k)
	}
	if more := len(keys) - len(sample); more > 0 {
		fmt.Fprintf(w, "  ... and %s more\n", humanize.Comma(int64(more)))
	}
}

func (e *Engine) countdown(left time.Duration) {
	if e.opts.Countdown != nil {
		fmt.Fprintf(e.opts.Countdown, "\rdeleting in %s... ", left)
	}
}

func (e *Engine) countdownDone() {
	if e.opts.Countdown != nil {
		fmt.Fprintln(e.opts.Countdown)
	}
}
