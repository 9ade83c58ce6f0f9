package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitSpacesSameHost(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		delays []string
	)
	l := New(Config{
		PerHostRPS: 10,
		Burst:      1,
		OnDelay: func(host string, _ time.Duration) {
			mu.Lock()
			delays = append(delays, host)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://Reports.example.com/a.pdf"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://reports.example.com/b.pdf"))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Another host has its own bucket.
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://other.example.com/c.pdf"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"reports.example.com"}, delays)
}

func TestWaitUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com/x.pdf"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.com/a.pdf"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://example.com/b.pdf"))
}

type countingDownloader struct{ calls int }

func (c *countingDownloader) Download(context.Context, string, string) (int64, error) {
	c.calls++
	return 1, nil
}

func TestDownloaderSkipsNextWhenWaitFails(t *testing.T) {
	t.Parallel()

	next := &countingDownloader{}
	d := Wrap(next, New(Config{}))

	n, err := d.Download(context.Background(), "https://example.com/a.pdf", "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Download(ctx, "https://example.com/b.pdf", "b.pdf")
	require.Error(t, err)
	assert.Equal(t, 1, next.calls)
}

func TestHostOf(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "example.com", hostOf(" https://EXAMPLE.com:8443/x "))
	assert.Equal(t, "unknown", hostOf("not a url"))
}
