// Package acquirer implements the two-stage acquisition of one report PDF:
// a direct download, then an HTML-to-PDF rendering of the fallback page.
package acquirer

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/report-harvester/internal/harvest"
)

// Acquirer runs the direct and fallback stages for one record at a time. It
// holds no per-record state and is safe for concurrent use.
type Acquirer struct {
	downloader harvest.Downloader
	converter  harvest.Converter
	validator  harvest.Validator
	observer   harvest.Observer
	logger     *zap.Logger
}

// New constructs an Acquirer. A nil converter disables the fallback stage.
func New(
	downloader harvest.Downloader,
	converter harvest.Converter,
	validator harvest.Validator,
	observer harvest.Observer,
	logger *zap.Logger,
) *Acquirer {
	if observer == nil {
		observer = harvest.NopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquirer{
		downloader: downloader,
		converter:  converter,
		validator:  validator,
		observer:   observer,
		logger:     logger,
	}
}

// Acquire writes at most one file, outDir/{id}.pdf, and reports how it got
// there. Failure is an ordinary outcome; nothing is returned as an error. An
// invalid file left behind by a failed record is removed. A record whose id
// is not a plain file name fails without touching the filesystem.
func (a *Acquirer) Acquire(ctx context.Context, rec harvest.Record, outDir string) harvest.Outcome {
	logger := a.logger.With(zap.String("record_id", rec.ID))
	if !harvest.SafeID(rec.ID) {
		logger.Warn("report not downloaded", zap.Error(harvest.ErrUnsafeID))
		return harvest.OutcomeFailed
	}
	path := rec.PathIn(outDir)

	if ctx.Err() != nil {
		logger.Warn("acquisition skipped", zap.Error(ctx.Err()))
		return harvest.OutcomeFailed
	}

	if a.direct(ctx, rec, path, logger) {
		logger.Info("report downloaded", zap.String("stage", string(harvest.StageDirect)), zap.String("path", path))
		return harvest.OutcomeDirect
	}
	if a.fallback(ctx, rec, path, logger) {
		logger.Info("report downloaded", zap.String("stage", string(harvest.StageFallback)), zap.String("path", path))
		return harvest.OutcomeFallback
	}

	a.discard(path, logger)
	logger.Warn("report not downloaded")
	return harvest.OutcomeFailed
}

func (a *Acquirer) direct(ctx context.Context, rec harvest.Record, path string, logger *zap.Logger) bool {
	logger = logger.With(zap.String("stage", string(harvest.StageDirect)), zap.String("url", rec.DirectURL))
	if !harvest.WellFormedURL(rec.DirectURL) {
		logger.Warn("direct url missing or malformed")
		return false
	}

	start := time.Now()
	if _, err := a.downloader.Download(ctx, rec.DirectURL, path); err != nil {
		a.observer.ObserveStage(harvest.StageDirect, false, time.Since(start))
		logger.Warn("direct download failed", zap.Error(err))
		return false
	}
	ok := a.validator.Valid(rec.ID, path)
	a.observer.ObserveStage(harvest.StageDirect, ok, time.Since(start))
	if !ok {
		logger.Warn("direct download is not a valid pdf")
	}
	return ok
}

func (a *Acquirer) fallback(ctx context.Context, rec harvest.Record, path string, logger *zap.Logger) bool {
	logger = logger.With(zap.String("stage", string(harvest.StageFallback)), zap.String("url", rec.FallbackURL))
	if !rec.HasFallback() {
		logger.Debug("fallback skipped", zap.Error(harvest.ErrNoFallback))
		return false
	}
	if a.converter == nil {
		logger.Debug("fallback skipped: no converter configured")
		return false
	}

	start := time.Now()
	if err := a.converter.Convert(ctx, rec.FallbackURL, path); err != nil {
		a.observer.ObserveStage(harvest.StageFallback, false, time.Since(start))
		logger.Warn("fallback conversion failed", zap.Error(err))
		return false
	}
	ok := a.validator.Valid(rec.ID, path)
	a.observer.ObserveStage(harvest.StageFallback, ok, time.Since(start))
	if !ok {
		logger.Warn("fallback conversion is not a valid pdf")
	}
	return ok
}

func (a *Acquirer) discard(path string, logger *zap.Logger) {
	err := os.Remove(path)
	switch {
	case err == nil:
		logger.Debug("removed invalid file", zap.String("path", path))
	case errors.Is(err, os.ErrNotExist):
	default:
		logger.Warn("remove invalid file failed", zap.String("path", path), zap.Error(err))
	}
}
