// Package api provides HTTP handlers for the clarification API.
package api

import (
	v1 "github.com/creatoria/clarifier/pkg/api/v1"
)

// ClarifyRequest is the single request shape for the clarification endpoint.
// The endpoint multiplexes on field_id: absent means "start a session for
// this draft input", present means "here is the answer for that field".
type ClarifyRequest struct {
	SessionID   string          `json:"session_id,omitempty"`
	SolverInput *v1.SolverInput `json:"solver_input,omitempty"`

	// MissingFields lists extractor-declared ambiguous fields to clarify in
	// addition to the ones detected from the input itself.
	MissingFields []string `json:"missing_fields,omitempty"`

	FieldID string `json:"field_id,omitempty"`
	Answer  string `json:"answer,omitempty"`

	// ConversationHistory is accepted for wire compatibility with older
	// clients but ignored: the server's copy is authoritative.
	ConversationHistory []v1.Message `json:"conversation_history,omitempty"`
}

// ReopenRequest names the terminal field to put back under clarification.
type ReopenRequest struct {
	FieldID string `json:"field_id" binding:"required"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	EventBus string `json:"event_bus"`
}
