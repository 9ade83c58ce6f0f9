// Package direct implements the direct download stage: a single HTTP GET
// streamed to disk in fixed-size chunks.
package direct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultChunkSize = 8 * 1024
)

// ErrBadStatus is wrapped by StatusError for any non-2xx response.
var ErrBadStatus = errors.New("unexpected http status")

// StatusError carries the status code of a rejected response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %d from %s", ErrBadStatus, e.Code, e.URL)
}

// Unwrap lets errors.Is match ErrBadStatus.
func (e *StatusError) Unwrap() error {
	return ErrBadStatus
}

// Config controls the downloader.
type Config struct {
	// Timeout bounds connecting, waiting for headers, and each gap between
	// body reads. It is not a cap on total transfer time.
	Timeout   time.Duration
	ChunkSize int
	UserAgent string
}

// Downloader streams direct PDF links to disk.
type Downloader struct {
	cfg    Config
	client *http.Client
}

// New builds a Downloader with its own connection-pooling transport.
func New(cfg Config) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Transport: newHTTPTransport(cfg.Timeout)},
	}
}

// Download GETs rawURL and writes the body to path, truncating any existing
// file. The file is only created once a 2xx response arrives; a transfer that
// fails midway leaves the partial file in place.
func (d *Downloader) Download(ctx context.Context, rawURL, path string) (int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/pdf,*/*;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http get: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}

	out, err := os.Create(path) // #nosec G304 -- path is built from the output dir and record id.
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}

	written, copyErr := d.stream(out, resp.Body, cancel)
	if closeErr := out.Close(); closeErr != nil && copyErr == nil {
		copyErr = fmt.Errorf("close %s: %w", path, closeErr)
	}
	if copyErr != nil {
		return written, copyErr
	}
	return written, nil
}

// stream copies body to dst one chunk at a time. An idle timer cancels the
// request when no bytes arrive within the configured timeout.
func (d *Downloader) stream(dst io.Writer, body io.Reader, cancel context.CancelFunc) (int64, error) {
	idle := time.AfterFunc(d.cfg.Timeout, cancel)
	defer idle.Stop()

	buf := make([]byte, d.cfg.ChunkSize)
	var written int64
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			idle.Reset(d.cfg.Timeout)
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, fmt.Errorf("write chunk: %w", writeErr)
			}
		}
		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read body: %w", readErr)
		}
	}
}

func newHTTPTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
