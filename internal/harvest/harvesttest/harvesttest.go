// Package harvesttest provides PDF fixtures and fakes for pipeline tests.
package harvesttest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/report-harvester/internal/harvest"
)

// PDF returns a minimal, structurally valid PDF with the given number of blank pages.
func PDF(pages int) []byte {
	var (
		buf     bytes.Buffer
		offsets []int
	)
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	contentRef := 3 + pages
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> /Contents %d 0 R >>", contentRef))
	}
	content := "q Q"
	obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// Truncated returns the first half of a one-page PDF, which no parser accepts.
func Truncated() []byte {
	doc := PDF(1)
	return doc[:len(doc)/2]
}

// StaticValidator reports a file valid when it exists, starts with the PDF
// header and carries an end-of-file marker. It records every path it was
// asked about.
type StaticValidator struct {
	mu    sync.Mutex
	Calls []string
}

// Valid implements harvest.Validator.
func (v *StaticValidator) Valid(_ string, path string) bool {
	v.mu.Lock()
	v.Calls = append(v.Calls, path)
	v.mu.Unlock()
	data, err := os.ReadFile(path) // #nosec G304 -- test fixture paths.
	if err != nil {
		return false
	}
	return bytes.HasPrefix(data, []byte("%PDF-")) && bytes.Contains(data, []byte("%%EOF"))
}

// Converter writes Body to the output path for every URL listed in Pages and
// fails for everything else.
type Converter struct {
	mu    sync.Mutex
	Pages map[string][]byte
	Err   error
	Calls []string
}

// Convert implements harvest.Converter.
func (c *Converter) Convert(ctx context.Context, rawURL, path string) error {
	c.mu.Lock()
	c.Calls = append(c.Calls, rawURL)
	body, ok := c.Pages[rawURL]
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Err != nil {
		return c.Err
	}
	if !ok {
		return fmt.Errorf("render %s: page not found", rawURL)
	}
	return os.WriteFile(path, body, 0o600)
}

// Called returns the URLs the converter was asked to render.
func (c *Converter) Called() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Calls...)
}

// Observer counts observations for assertions.
type Observer struct {
	mu       sync.Mutex
	Stages   map[harvest.Stage][]bool
	Outcomes map[harvest.Outcome]int
	Started  int
	Finished int
}

// NewObserver returns an empty Observer.
func NewObserver() *Observer {
	return &Observer{
		Stages:   make(map[harvest.Stage][]bool),
		Outcomes: make(map[harvest.Outcome]int),
	}
}

// ObserveStage implements harvest.Observer.
func (o *Observer) ObserveStage(stage harvest.Stage, ok bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Stages[stage] = append(o.Stages[stage], ok)
}

// ObserveOutcome implements harvest.Observer.
func (o *Observer) ObserveOutcome(outcome harvest.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Outcomes[outcome]++
}

// WorkerStarted implements harvest.Observer.
func (o *Observer) WorkerStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Started++
}

// WorkerFinished implements harvest.Observer.
func (o *Observer) WorkerFinished() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Finished++
}

// OutcomeCount returns how many times outcome was observed.
func (o *Observer) OutcomeCount(outcome harvest.Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Outcomes[outcome]
}
