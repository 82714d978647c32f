package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eager/redis-to-cluster/internal/store"
)

// Resolution is the pending key set for a run plus what it took to get it.
type Resolution struct {
	Pending          []string
	SourceKeys       int
	DestinationKeys  int
	EnumerateElapsed time.Duration
	DiffElapsed      time.Duration
}

// Resolve lists source keys matching pattern and, unless overwrite is set,
// destination keys too, concurrently. The pending set is source minus
// destination. In overwrite mode the destination listing would go unused,
// so it is skipped and every source key is pending.
func Resolve(ctx context.Context, src, dst store.Handle, pattern string, overwrite bool, logger zerolog.Logger) (Resolution, error) {
	var (
		res     Resolution
		srcKeys []string
		dstKeys []string
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keys, err := src.Keys(gctx, pattern)
		if err != nil {
			return fmt.Errorf("listing source keys: %w", err)
		}
		srcKeys = keys
		return nil
	})
	if !overwrite {
		g.Go(func() error {
			keys, err := dst.Keys(gctx, pattern)
			if err != nil {
				return fmt.Errorf("listing destination keys: %w", err)
			}
			dstKeys = keys
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}
	res.EnumerateElapsed = time.Since(start)
	res.SourceKeys = len(srcKeys)
	res.DestinationKeys = len(dstKeys)
	logger.Info().
		Int("source", res.SourceKeys).
		Int("destination", res.DestinationKeys).
		Bool("overwrite", overwrite).
		Dur("elapsed", res.EnumerateElapsed).
		Msg("enumerated keys")

	start = time.Now()
	res.Pending = difference(srcKeys, dstKeys)
	res.DiffElapsed = time.Since(start)
	logger.Info().
		Int("pending", len(res.Pending)).
		Dur("elapsed", res.DiffElapsed).
		Msg("computed pending keys")

	return res, nil
}

// difference returns the distinct elements of a that are not in b.
func difference(a, b []string) []string {
	exclude := make(map[string]struct{}, len(b)+len(a))
	for _, k := range b {
		exclude[k] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, k := range a {
		if _, ok := exclude[k]; ok {
			continue
		}
		exclude[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
