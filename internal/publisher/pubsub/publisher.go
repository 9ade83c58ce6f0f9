// Package pubsub announces per-record harvest results on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/report-harvester/internal/harvest"
)

// Attribute keys set on every message alongside the propagated trace context.
const (
	AttrRunID   = "run_id"
	AttrOutcome = "outcome"
)

// Event is the JSON payload published for each record.
type Event struct {
	RunID      string    `json:"run_id"`
	RecordID   string    `json:"record_id"`
	Outcome    string    `json:"outcome"`
	Downloaded bool      `json:"downloaded"`
	Error      string    `json:"error,omitempty"`
	SHA256     string    `json:"sha256,omitempty"`
	At         time.Time `json:"at"`
}

// NewEvent builds the payload for r. digest is the saved report's SHA-256,
// or empty.
func NewEvent(runID string, r harvest.Result, digest string, at time.Time) Event {
	ev := Event{
		RunID:      runID,
		RecordID:   r.RecordID,
		Outcome:    string(r.Outcome),
		Downloaded: r.Outcome.Succeeded(),
		SHA256:     digest,
		At:         at.UTC(),
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}
	return ev
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Publish marshals ev to JSON, publishes it, and waits for the
// server-assigned message id.
func (p *Publisher) Publish(ctx context.Context, ev Event) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attrs := propagation.MapCarrier{
		AttrRunID:   ev.RunID,
		AttrOutcome: ev.Outcome,
	}
	otel.GetTextMapPropagator().Inject(ctx, attrs)

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and stops the topic's background goroutines.
func (p *Publisher) Close() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
