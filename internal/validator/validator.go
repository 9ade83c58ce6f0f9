// Package validator decides whether a downloaded file is an acceptable PDF.
package validator

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

// ErrNoPages is reported when a document parses but contains zero pages.
var ErrNoPages = errors.New("pdf has no pages")

var disableConfigDir sync.Once

// PDF validates files by parsing them with pdfcpu and counting pages.
type PDF struct {
	conf   *model.Configuration
	logger *zap.Logger
}

// New returns a PDF validator. pdfcpu's on-disk configuration directory is
// disabled so validation never writes outside the file under inspection.
func New(logger *zap.Logger) *PDF {
	if logger == nil {
		logger = zap.NewNop()
	}
	disableConfigDir.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &PDF{
		conf:   conf,
		logger: logger,
	}
}

// Valid reports whether path holds a parseable PDF with at least one page.
// Parse failures never escape; they are logged with the record identifier.
func (v *PDF) Valid(recordID, path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if _, err := v.PageCount(path); err != nil {
		v.logger.Warn("pdf failed validation",
			zap.String("record_id", recordID),
			zap.String("path", path),
			zap.Error(err),
		)
		return false
	}
	return true
}

// PageCount parses the file at path and returns its page count. A document
// with zero pages yields ErrNoPages.
func (v *PDF) PageCount(path string) (pages int, err error) {
	f, err := os.Open(path) // #nosec G304 -- path is built from the output dir and record id.
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close pdf: %w", closeErr)
		}
	}()
	defer func() {
		// pdfcpu panics on some malformed inputs instead of returning an error.
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	// Concurrent workers each parse against their own copy of the configuration.
	conf := *v.conf
	pages, err = api.PageCount(f, &conf)
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	if pages < 1 {
		return 0, ErrNoPages
	}
	return pages, nil
}
