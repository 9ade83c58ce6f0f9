// Package headless renders HTML report pages to PDF with headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const defaultTimeout = 60 * time.Second

// ErrConverterClosed is returned by Convert after Close.
var ErrConverterClosed = errors.New("converter closed")

// Config controls the behavior of the headless converter.
type Config struct {
	MaxParallel int
	UserAgent   string
	// Timeout bounds one conversion from navigation to the last PDF byte.
	Timeout         time.Duration
	PrintBackground bool
	Landscape       bool
	// ExecPath overrides the Chrome binary chromedp would otherwise locate.
	ExecPath string
	// NoSandbox disables the Chrome sandbox, which root containers require.
	NoSandbox bool
}

// Converter implements harvest.Converter using chromedp and headless Chrome.
// A single browser allocator is shared; each conversion gets its own tab.
type Converter struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	closed      atomic.Bool
}

// NewChromedp creates a converter backed by chromedp. Chrome is not started
// until the first conversion.
func NewChromedp(cfg Config) (*Converter, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Converter{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts down the browser. Subsequent conversions fail.
func (c *Converter) Close() {
	c.closed.Store(true)
	c.allocCancel()
}

// Convert navigates to rawURL, prints the rendered page, and writes the PDF
// to path, replacing any existing file. A document response of 400 or above
// is treated as a failed conversion rather than printed.
func (c *Converter) Convert(ctx context.Context, rawURL, path string) error {
	if c.closed.Load() {
		return ErrConverterClosed
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	tabCtx, tabCancel := chromedp.NewContext(c.allocator)
	defer tabCancel()

	taskCtx, cancel := context.WithTimeout(tabCtx, c.timeout())
	defer cancel()

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	pdf, err := c.render(taskCtx, rawURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("render %s: %w", rawURL, ctxErr)
		}
		return fmt.Errorf("render %s: %w", rawURL, err)
	}
	if status := meta.statusCode(); status >= http.StatusBadRequest {
		return fmt.Errorf("render %s: document status %d", rawURL, status)
	}
	if len(pdf) == 0 {
		return fmt.Errorf("render %s: empty pdf", rawURL)
	}
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (c *Converter) render(ctx context.Context, rawURL string) ([]byte, error) {
	var pdf []byte
	actions := []chromedp.Action{
		c.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(c.cfg.PrintBackground).
				WithLandscape(c.cfg.Landscape).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = buf
			return nil
		}),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return pdf, nil
}

func (c *Converter) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (c *Converter) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (c *Converter) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

func (c *Converter) timeout() time.Duration {
	if c.cfg.Timeout > 0 {
		return c.cfg.Timeout
	}
	return defaultTimeout
}

// responseMeta records the status of the top-level document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) statusCode() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// forwardCancel cancels the tab when the caller's context ends. The tab is
// rooted at the allocator context, so caller cancellation would not reach it
// otherwise.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
