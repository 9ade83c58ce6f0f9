// Package ratelimit spaces out direct downloads that hit the same host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/report-harvester/internal/harvest"
)

// Config holds rate limiter configuration.
type Config struct {
	// PerHostRPS is the steady request rate per host; <= 0 disables limiting.
	PerHostRPS float64
	Burst      int
	// OnDelay, when set, receives every wait longer than a millisecond.
	OnDelay func(host string, waited time.Duration)
}

// Limiter manages one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	onDelay  func(string, time.Duration)
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		onDelay:  cfg.OnDelay,
	}
}

// Wait blocks until rawURL's host may be contacted, or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond && l.onDelay != nil {
		l.onDelay(host, waited)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Downloader waits on the limiter before delegating each download.
type Downloader struct {
	next    harvest.Downloader
	limiter *Limiter
}

// Wrap puts next behind limiter.
func Wrap(next harvest.Downloader, limiter *Limiter) *Downloader {
	return &Downloader{next: next, limiter: limiter}
}

// Download implements harvest.Downloader.
func (d *Downloader) Download(ctx context.Context, rawURL, path string) (int64, error) {
	if err := d.limiter.Wait(ctx, rawURL); err != nil {
		return 0, err
	}
	return d.next.Download(ctx, rawURL, path)
}
