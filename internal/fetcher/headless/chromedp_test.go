package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/report-harvester/internal/validator"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	conv, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer conv.Close()
	assert.Equal(t, 2, cap(conv.limiter))
	assert.Equal(t, defaultTimeout, conv.cfg.Timeout)
}

func TestConverterTimeoutDefault(t *testing.T) {
	t.Parallel()

	conv := &Converter{}
	assert.Equal(t, 60*time.Second, conv.timeout())
	conv.cfg.Timeout = time.Second
	assert.Equal(t, time.Second, conv.timeout())
}

func TestConvertAfterCloseFails(t *testing.T) {
	t.Parallel()

	conv, err := NewChromedp(Config{})
	require.NoError(t, err)
	conv.Close()

	err = conv.Convert(context.Background(), "https://example.com", filepath.Join(t.TempDir(), "x.pdf"))
	assert.ErrorIs(t, err, ErrConverterClosed)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	conv, err := NewChromedp(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer conv.Close()

	require.NoError(t, conv.acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = conv.acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	conv.release()
	require.NoError(t, conv.acquire(context.Background()))
	conv.release()
}

func TestResponseMetaKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 500},
	})
	assert.Zero(t, meta.statusCode())

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://example.com/missing"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://example.com/iframe"},
	})
	assert.Equal(t, 404, meta.statusCode())
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child context was not canceled")
	}
}

func chromeBinary(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no chrome binary on PATH")
	return ""
}

func TestConvertPrintsRenderedPage(t *testing.T) {
	t.Parallel()

	exe := chromeBinary(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/report" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><h1>Annual report</h1><p>Figures for the year.</p></body></html>")
	}))
	t.Cleanup(srv.Close)

	conv, err := NewChromedp(Config{
		MaxParallel:     1,
		Timeout:         30 * time.Second,
		PrintBackground: true,
		ExecPath:        exe,
		NoSandbox:       os.Geteuid() == 0,
	})
	require.NoError(t, err)
	defer conv.Close()

	path := filepath.Join(t.TempDir(), "BR1.pdf")
	require.NoError(t, conv.Convert(context.Background(), srv.URL+"/report", path))
	assert.True(t, validator.New(nil).Valid("BR1", path))

	missing := filepath.Join(t.TempDir(), "BR2.pdf")
	err = conv.Convert(context.Background(), srv.URL+"/gone", missing)
	require.Error(t, err)
	assert.NoFileExists(t, missing)
}
