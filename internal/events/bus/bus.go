// Package bus provides event bus abstractions for the clarifier.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subjects published by the clarification service. Downstream consumers
// (solver dispatch, analytics) subscribe to "clarification.>".
const (
	SubjectSessionStarted   = "clarification.session.started"
	SubjectAnswerAccepted   = "clarification.answer.accepted"
	SubjectAnswerRejected   = "clarification.answer.rejected"
	SubjectFieldDefaulted   = "clarification.field.defaulted"
	SubjectFieldReopened    = "clarification.field.reopened"
	SubjectSessionCompleted = "clarification.session.completed"
	SubjectSessionAbandoned = "clarification.session.abandoned"
)

// Event represents a message on the event bus
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"` // Service that produced the event
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates a new event with a UUID and current timestamp
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler is a function that handles an event
type EventHandler func(ctx context.Context, event *Event) error

// Subscription represents an active subscription
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus interface for event bus operations
type EventBus interface {
	// Publish sends an event to a subject
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe creates a subscription to a subject pattern. Patterns use
	// NATS wildcards: * matches one token, > matches the rest.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// Close closes the connection
	Close()

	// IsConnected returns connection status
	IsConnected() bool
}
