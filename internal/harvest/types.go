// Package harvest defines the core types shared across the download pipeline.
package harvest

import (
	"errors"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrNoFallback indicates a record carries no usable fallback address.
var ErrNoFallback = errors.New("no fallback address")

// ErrUnsafeID indicates an identifier that cannot name a file inside the
// output directory.
var ErrUnsafeID = errors.New("record id is not a single file name")

// Stage names one acquisition attempt.
type Stage string

// Acquisition stages, in the order they are attempted.
const (
	StageDirect   Stage = "direct"
	StageFallback Stage = "fallback"
)

// Outcome is the terminal classification of one record's acquisition.
type Outcome string

// Outcome values. A record is downloaded when its outcome is Direct or Fallback.
const (
	OutcomeDirect   Outcome = "succeeded_direct"
	OutcomeFallback Outcome = "succeeded_fallback"
	OutcomeFailed   Outcome = "failed"
)

// Succeeded reports whether the outcome left a valid PDF on disk.
func (o Outcome) Succeeded() bool {
	return o == OutcomeDirect || o == OutcomeFallback
}

// Record is one row of input: a report identifier plus its two addresses.
type Record struct {
	ID          string
	DirectURL   string
	FallbackURL string
}

// FileName returns the on-disk name for the record's PDF.
func (r Record) FileName() string {
	return r.ID + ".pdf"
}

// SafeID reports whether id names exactly one file directly inside a
// directory: non-empty, local, and free of path separators.
func SafeID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, "/\\\x00") || strings.ContainsRune(id, filepath.Separator) {
		return false
	}
	return filepath.IsLocal(id + ".pdf")
}

// PathIn joins the record's file name onto dir.
func (r Record) PathIn(dir string) string {
	return filepath.Join(dir, r.FileName())
}

// HasFallback reports whether FallbackURL is a well-formed absolute http(s) address.
func (r Record) HasFallback() bool {
	return WellFormedURL(r.FallbackURL)
}

// WellFormedURL reports whether raw parses as an absolute http or https URL with a host.
func WellFormedURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}

// Batch is the ordered set of records processed in one run.
type Batch []Record

// Limit returns at most n records from the front of the batch. n <= 0 means no limit.
func (b Batch) Limit(n int) Batch {
	if n <= 0 || n >= len(b) {
		return b
	}
	return b[:n]
}

// IDs returns the record identifiers in batch order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b))
	for i, rec := range b {
		ids[i] = rec.ID
	}
	return ids
}

// Result attributes an Outcome back to its record. Err is set only when the
// record failed outside the normal acquisition paths (a worker crash or a
// canceled run).
type Result struct {
	RecordID string
	Outcome  Outcome
	Err      error
}
