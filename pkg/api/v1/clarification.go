package v1

import "time"

// FieldStatus is the lifecycle state of one clarifiable field.
// The wire vocabulary is active|pending|resolved|default|conflict; display
// layers may relabel "active" as "missing" but that is presentation only.
type FieldStatus string

const (
	FieldStatusPending  FieldStatus = "pending"
	FieldStatusActive   FieldStatus = "active"
	FieldStatusResolved FieldStatus = "resolved"
	FieldStatusDefault  FieldStatus = "default"
	FieldStatusConflict FieldStatus = "conflict"
)

// Terminal reports whether the status counts toward session completion.
// A conflict field does not complete the session but also no longer blocks
// the question sequence.
func (s FieldStatus) Terminal() bool {
	return s == FieldStatusResolved || s == FieldStatusDefault
}

// Message roles in the clarification conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of the clarification conversation history.
// History is append-only and chronologically ordered; the server's copy is
// authoritative.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// FieldProgress is the per-field view sent with every response so a client
// can rebuild its status table without local bookkeeping.
type FieldProgress struct {
	ID          string      `json:"id"`
	Status      FieldStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
}

// ExpectedFormat describes the answer format for one field.
type ExpectedFormat struct {
	Hint     string   `json:"hint"`
	Examples []string `json:"examples"`
}

// ClarificationRequest is the server's prompt for the next answer. It always
// carries the entire ordered field view: the client is a read-through
// projection of this structure, never an independent state holder.
type ClarificationRequest struct {
	Questions         []string                  `json:"questions"`
	CurrentField      string                    `json:"current_field,omitempty"`
	OrderedMissing    []FieldProgress           `json:"ordered_missing"`
	ExpectedFormat    map[string]ExpectedFormat `json:"expected_format,omitempty"`
	SuggestedDefaults map[string]any            `json:"suggested_defaults,omitempty"`
	AttemptsLeft      int                       `json:"attempts_left"`
	Missing           []string                  `json:"missing,omitempty"`
	Conflicts         []string                  `json:"conflicts,omitempty"`
}

// ClarificationResponse is the single response shape for every clarification
// operation. Expected disambiguation outcomes (rejections, defaults) are
// reported in-band here, never as transport errors.
type ClarificationResponse struct {
	SessionID         string                `json:"session_id,omitempty"`
	NeedClarification bool                  `json:"need_clarification"`
	Accepted          *bool                 `json:"accepted,omitempty"`
	AutoDefault       bool                  `json:"auto_default,omitempty"`
	DefaultValue      any                   `json:"default_value,omitempty"`
	Reason            string                `json:"reason,omitempty"`
	ConflictWith      string                `json:"conflict_with,omitempty"`
	Attempts          *int                  `json:"attempts,omitempty"`
	Request           *ClarificationRequest `json:"clarification_request,omitempty"`
	SolverInput       *SolverInput          `json:"solver_input,omitempty"`
	History           []Message             `json:"conversation_history,omitempty"`
}
