package harvest

import (
	"context"
	"time"
)

// Validator decides whether a file on disk is an acceptable PDF.
type Validator interface {
	Valid(recordID, path string) bool
}

// Downloader streams a direct URL to a local path.
type Downloader interface {
	Download(ctx context.Context, rawURL, path string) (int64, error)
}

// Converter renders an HTML page to a PDF at path.
type Converter interface {
	Convert(ctx context.Context, rawURL, path string) error
}

// Acquirer runs the two-stage acquisition for one record.
type Acquirer interface {
	Acquire(ctx context.Context, rec Record, outDir string) Outcome
}

// Observer receives pipeline measurements. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveStage(stage Stage, ok bool, took time.Duration)
	ObserveOutcome(outcome Outcome)
	WorkerStarted()
	WorkerFinished()
}

// NopObserver discards every observation.
type NopObserver struct{}

// ObserveStage implements Observer.
func (NopObserver) ObserveStage(Stage, bool, time.Duration) {}

// ObserveOutcome implements Observer.
func (NopObserver) ObserveOutcome(Outcome) {}

// WorkerStarted implements Observer.
func (NopObserver) WorkerStarted() {}

// WorkerFinished implements Observer.
func (NopObserver) WorkerFinished() {}
