package migrate

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Summary is the outcome of a run.
type Summary struct {
	Total   int
	Copied  int // keys restored, or deleted in delete mode
	Errored int
	Skipped int // keys that vanished before they could be processed
	Elapsed time.Duration
}

// Processed returns how many keys were handled in any way.
func (s Summary) Processed() int {
	return s.Copied + s.Errored + s.Skipped
}

// KeysPerSecond returns the processing rate over the whole run.
func (s Summary) KeysPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Processed()) / s.Elapsed.Seconds()
}

// Metrics counts per-key outcomes for one run. It is safe for concurrent
// use: every Record call takes the same lock, and the periodic progress line
// is written under it, so each milestone is reported exactly once.
type Metrics struct {
	mu      sync.Mutex
	total   int
	every   int
	copied  int
	errored int
	skipped int
	start   time.Time
	log     zerolog.Logger
}

// NewMetrics starts the clock for a run over total keys. A progress line is
// logged every `every` processed keys; every <= 0 disables it.
func NewMetrics(total, every int, logger zerolog.Logger) *Metrics {
	return &Metrics{
		total: total,
		every: every,
		start: time.Now(),
		log:   logger,
	}
}

// RecordSuccess counts a key that was copied (or deleted).
func (m *Metrics) RecordSuccess() {
	m.record(&m.copied)
}

// RecordFailure counts a key whose operation failed.
func (m *Metrics) RecordFailure() {
	m.record(&m.errored)
}

// RecordSkip counts a key that no longer existed on the source.
func (m *Metrics) RecordSkip() {
	m.record(&m.skipped)
}

func (m *Metrics) record(counter *int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*counter++
	if n := m.copied + m.errored + m.skipped; m.every > 0 && n%m.every == 0 {
		m.report(n)
	}
}

// report logs throughput and ETA. Must hold m.mu.
func (m *Metrics) report(count int) {
	elapsed := time.Since(m.start)
	perKey := elapsed / time.Duration(count)
	remaining := perKey * time.Duration(m.total-count)

	m.log.Info().
		Int("count", count).
		Int("total", m.total).
		Int("errors", m.errored).
		Dur("elapsed", elapsed).
		Float64("avg_ms", float64(perKey)/float64(time.Millisecond)).
		Dur("remaining", remaining).
		Msgf("Count: %s/%s Errors: %s Elapsed: %s Avg: %.3fms Remaining: %s",
			humanize.Comma(int64(count)), humanize.Comma(int64(m.total)),
			humanize.Comma(int64(m.errored)), elapsed.Round(time.Millisecond),
			float64(perKey)/float64(time.Millisecond), remaining.Round(time.Second))
}

// Summary returns a snapshot of the counters.
func (m *Metrics) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Summary{
		Total:   m.total,
		Copied:  m.copied,
		Errored: m.errored,
		Skipped: m.skipped,
		Elapsed: time.Since(m.start),
	}
}
