package migrate

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eager/redis-to-cluster/internal/store"
)

func TestDeleteDestination_Guard(t *testing.T) {
	for _, pattern := range []string{"", "*", "**"} {
		t.Run("pattern="+pattern, func(t *testing.T) {
			dst := newMemStore()
			dst.put("a", store.TTL{Kind: store.NoExpiry})

			opts := testOptions()
			opts.Pattern = pattern
			_, err := New(nil, dst, opts, nopLogger()).DeleteDestination(context.Background())
			require.ErrorIs(t, err, ErrUnsafePattern)

			keyCalls, _ := dst.calls()
			assert.Zero(t, keyCalls)
			assert.Empty(t, dst.deleteCalls())
		})
	}
}

func TestDeleteDestination_MatchingOnly(t *testing.T) {
	dst := newMemStore()
	for _, k := range []string{"session:1", "session:2", "session:3", "user:1"} {
		dst.put(k, store.TTL{Kind: store.NoExpiry})
	}

	opts := testOptions()
	opts.Pattern = "session:*"
	opts.Workers = 2
	sum, err := New(nil, dst, opts, nopLogger()).DeleteDestination(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Copied)
	assert.Equal(t, []string{"session:1", "session:2", "session:3"}, dst.deleteCalls())
	assert.True(t, dst.has("user:1"))
}

func TestDeleteDestination_FailuresCounted(t *testing.T) {
	dst := newMemStore()
	dst.put("tmp:1", store.TTL{Kind: store.NoExpiry})
	dst.put("tmp:2", store.TTL{Kind: store.NoExpiry})
	dst.fail("tmp:2", errBoom)

	opts := testOptions()
	opts.Pattern = "tmp:*"
	sum, err := New(nil, dst, opts, nopLogger()).DeleteDestination(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Copied)
	assert.Equal(t, 1, sum.Errored)
}

func TestDeleteDestination_CancelDuringDelay(t *testing.T) {
	dst := newMemStore()
	dst.put("tmp:1", store.TTL{Kind: store.NoExpiry})

	opts := testOptions()
	opts.Pattern = "tmp:*"
	opts.DeleteDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := New(nil, dst, opts, nopLogger()).DeleteDestination(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Empty(t, dst.deleteCalls())
	assert.True(t, dst.has("tmp:1"))
}

func TestDeleteDestination_WaitsAndCountsDown(t *testing.T) {
	dst := newMemStore()
	dst.put("tmp:1", store.TTL{Kind: store.NoExpiry})

	var countdown bytes.Buffer
	opts := testOptions()
	opts.Pattern = "tmp:*"
	opts.DeleteDelay = 1100 * time.Millisecond
	opts.Countdown = &countdown

	start := time.Now()
	sum, err := New(nil, dst, opts, nopLogger()).DeleteDestination(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), opts.DeleteDelay)
	assert.Equal(t, 1, sum.Copied)
	assert.Contains(t, countdown.String(), "deleting in 1s")
}

func TestDeleteDestination_NothingToDelete(t *testing.T) {
	opts := testOptions()
	opts.Pattern = "tmp:*"
	opts.DeleteDelay = time.Hour

	sum, err := New(nil, newMemStore(), opts, nopLogger()).DeleteDestination(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.Total)
}

func TestDeleteDestination_Notice(t *testing.T) {
	dst := newMemStore()
	for _, k := range []string{"tmp:1", "tmp:2", "tmp:3"} {
		dst.put(k, store.TTL{Kind: store.NoExpiry})
	}

	var notice bytes.Buffer
	opts := testOptions()
	opts.Pattern = "tmp:*"
	opts.DeleteSample = 2
	opts.Notice = &notice

	_, err := New(nil, dst, opts, nopLogger()).DeleteDestination(context.Background())
	require.NoError(t, err)

	out := notice.String()
	assert.Contains(t, out, `About to delete 3 keys matching "tmp:*"`)
	assert.Contains(t, out, "  tmp:1\n")
	assert.Contains(t, out, "  tmp:2\n")
	assert.NotContains(t, out, "  tmp:3\n")
	assert.Contains(t, out, "... and 1 more")
}

func TestDeleteDestination_NoNoticeWhenNothingMatches(t *testing.T) {
	var notice bytes.Buffer
	opts := testOptions()
	opts.Pattern = "tmp:*"
	opts.Notice = &notice

	_, err := New(nil, newMemStore(), opts, nopLogger()).DeleteDestination(context.Background())
	require.NoError(t, err)
	assert.Empty(t, notice.String())
}
