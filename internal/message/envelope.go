// Package message defines the single envelope that travels through every
// pipeline queue, the index event and their wire codec.
package message

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/lepinkainen/coverhub/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Operation tells a handler what the vendor did with the identifier.
type Operation string

const (
	OpInsert          Operation = "insert"
	OpUpdate          Operation = "update"
	OpDelete          Operation = "delete"
	OpDeleteAndUpdate Operation = "delete-and-update"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete, OpDeleteAndUpdate:
		return true
	}
	return false
}

// Topic names a pipeline queue.
type Topic string

const (
	TopicVendorImage Topic = "vendor_image"
	TopicCoverStore  Topic = "cover_store"
	TopicSearch      Topic = "search"
	TopicIndex       Topic = "index"
	TopicDelete      Topic = "delete"
	TopicNoHit       Topic = "no_hit"
	TopicFailed      Topic = "failed"
)

// Topics lists the queues a worker consumes.
var Topics = []Topic{TopicVendorImage, TopicCoverStore, TopicSearch, TopicIndex, TopicDelete, TopicNoHit}

// Envelope is the message carried by the vendor_image, cover_store, search,
// delete and no_hit queues.
type Envelope struct {
	Operation      Operation            `json:"operation"`
	IdentifierType model.IdentifierType `json:"identifierType"`
	Identifier     string               `json:"identifier"`
	VendorID       int                  `json:"vendorId"`
	ImageID        *int64               `json:"imageId,omitempty"`
	UseSearchCache bool                 `json:"useSearchCache"`
	TraceID        string               `json:"traceId,omitempty"`

	// Redelivered is set by the transport, never serialized.
	Redelivered bool `json:"-"`
}

// New creates an envelope with search caching enabled and a fresh trace id
// unless ctx already carries one.
func New(ctx context.Context, op Operation, t model.IdentifierType, identifier string, vendorID int) Envelope {
	return Envelope{
		Operation:      op,
		IdentifierType: t,
		Identifier:     identifier,
		VendorID:       vendorID,
		UseSearchCache: true,
		TraceID:        TraceIDOr(ctx),
	}
}

// Next derives the follow-up message for the next pipeline stage, keeping
// the trace id and identifier.
func (e Envelope) Next(op Operation) Envelope {
	next := e
	next.Operation = op
	next.Redelivered = false
	return next
}

// WithImage returns a copy carrying imageID.
func (e Envelope) WithImage(imageID int64) Envelope {
	e.ImageID = &imageID
	return e
}

// Validate checks the fields every handler relies on.
func (e Envelope) Validate() error {
	if !e.Operation.Valid() {
		return fmt.Errorf("unknown operation %q", e.Operation)
	}
	if !e.IdentifierType.Valid() {
		return fmt.Errorf("unknown identifier type %q", e.IdentifierType)
	}
	if e.Identifier == "" {
		return fmt.Errorf("missing identifier")
	}
	return nil
}

// LogAttrs returns the correlation attributes for structured logging.
func (e Envelope) LogAttrs() []any {
	return []any{
		"identifier", e.Identifier,
		"identifier_type", string(e.IdentifierType),
		"vendor", e.VendorID,
		"operation", string(e.Operation),
		"trace_id", e.TraceID,
	}
}

// Logger derives a per-message logger for service.
func (e Envelope) Logger(base *slog.Logger, service string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(append([]any{"service", service}, e.LogAttrs()...)...)
}

// IndexEvent is published by the search handler when the datawell resolved
// the identifier.
type IndexEvent struct {
	Operation      Operation            `json:"operation"`
	VendorID       int                  `json:"vendorId"`
	ImageID        int64                `json:"imageId"`
	Identifier     string               `json:"identifier"`
	IdentifierType model.IdentifierType `json:"identifierType"`
	Material       model.Material       `json:"material"`
	TraceID        string               `json:"traceId,omitempty"`
}

// Envelope returns the correlation part of the event.
func (e IndexEvent) Envelope() Envelope {
	imageID := e.ImageID
	return Envelope{
		Operation:      e.Operation,
		IdentifierType: e.IdentifierType,
		Identifier:     e.Identifier,
		VendorID:       e.VendorID,
		ImageID:        &imageID,
		TraceID:        e.TraceID,
	}
}

// Encode serializes a message for the transport.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses and validates an envelope. Missing useSearchCache
// defaults to true.
func DecodeEnvelope(data []byte) (Envelope, error) {
	env := Envelope{UseSearchCache: true}
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	return env, nil
}

// DecodeIndexEvent parses and validates an index event.
func DecodeIndexEvent(data []byte) (IndexEvent, error) {
	var ev IndexEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return IndexEvent{}, fmt.Errorf("failed to decode index event: %w", err)
	}
	if err := ev.Envelope().Validate(); err != nil {
		return IndexEvent{}, fmt.Errorf("invalid index event: %w", err)
	}
	return ev, nil
}

// NewTraceID returns a random trace id.
func NewTraceID() string {
	return uuid.NewString()
}
