// Package session implements the per-field clarification state machine and
// the session that sequences it.
//
// A session owns an ordered list of field states, the working solver input
// and the conversation history. Exactly one field is active at a time until
// every field reaches a terminal state. The order is fixed at creation and
// never changes; reopening a field is the only sanctioned deviation from
// strict sequencing.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creatoria/clarifier/internal/clarify/registry"
	"github.com/creatoria/clarifier/internal/clarify/validate"
	"github.com/creatoria/clarifier/internal/common/errors"
	v1 "github.com/creatoria/clarifier/pkg/api/v1"
)

// FieldState tracks one field's lifecycle within a session.
type FieldState struct {
	ID          string            `json:"id"`
	Status      v1.FieldStatus    `json:"status"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	Value       any               `json:"value,omitempty"`  // raw accepted answer or applied default
	Merged      *validate.Receipt `json:"merged,omitempty"` // exactly what this field added to the input
}

// Session is one clarification dialogue from start to completion.
type Session struct {
	ID         string          `json:"id"`
	Fields     []*FieldState   `json:"fields"`
	Input      *v1.SolverInput `json:"input"`
	History    []v1.Message    `json:"history"`
	CreatedAt  time.Time       `json:"created_at"`
	LastActive time.Time       `json:"last_active"`
}

// Outcome describes what happened to a single submitted answer.
type Outcome struct {
	Accepted     bool
	AutoDefault  bool
	DefaultValue any
	Reason       string
	ConflictWith string
	Attempts     int
}

// New creates a session for the given draft input. The field order is
// computed once here and stays stable for the session's lifetime. Returns nil
// if the draft leaves nothing to clarify.
func New(input *v1.SolverInput, declared []string, maxAttempts int) *Session {
	specs := registry.MissingFields(input, declared)
	if len(specs) == 0 {
		return nil
	}
	if input == nil {
		input = &v1.SolverInput{}
	}
	if maxAttempts <= 0 {
		maxAttempts = registry.DefaultMaxAttempts
	}

	now := time.Now().UTC()
	s := &Session{
		ID:         uuid.New().String(),
		Input:      input,
		CreatedAt:  now,
		LastActive: now,
	}
	for i, spec := range specs {
		status := v1.FieldStatusPending
		if i == 0 {
			status = v1.FieldStatusActive
		}
		s.Fields = append(s.Fields, &FieldState{
			ID:          spec.ID,
			Status:      status,
			MaxAttempts: maxAttempts,
		})
	}
	return s
}

// ActiveField returns the field currently being asked about, or nil.
func (s *Session) ActiveField() *FieldState {
	for _, f := range s.Fields {
		if f.Status == v1.FieldStatusActive {
			return f
		}
	}
	return nil
}

// Field returns the state for a field id, or nil.
func (s *Session) Field(id string) *FieldState {
	for _, f := range s.Fields {
		if f.ID == id {
			return f
		}
	}
	return nil
}

// Clone returns a deep copy of the session, safe to read or mutate without
// affecting the original.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := &Session{
		ID:         s.ID,
		Input:      s.Input.Clone(),
		History:    append([]v1.Message(nil), s.History...),
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive,
	}
	out.Fields = make([]*FieldState, len(s.Fields))
	for i, f := range s.Fields {
		c := *f
		if f.Merged != nil {
			c.Merged = &validate.Receipt{
				Variables:   append([]string(nil), f.Merged.Variables...),
				Constraints: append([]v1.Constraint(nil), f.Merged.Constraints...),
			}
		}
		out.Fields[i] = &c
	}
	return out
}

// Complete reports whether every field reached resolved or default. A field
// stuck in conflict keeps the session open for a manual override.
func (s *Session) Complete() bool {
	for _, f := range s.Fields {
		if !f.Status.Terminal() {
			return false
		}
	}
	return true
}

// Conflicts returns the ids of fields currently in conflict.
func (s *Session) Conflicts() []string {
	var ids []string
	for _, f := range s.Fields {
		if f.Status == v1.FieldStatusConflict {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// SubmitAnswer validates one answer for the active field and applies the
// resulting state transition. Answers for any other field are rejected with a
// stale field error and leave the session untouched.
func (s *Session) SubmitAnswer(fieldID, raw string) (*Outcome, error) {
	active := s.ActiveField()
	if active == nil || active.ID != fieldID {
		activeID := ""
		if active != nil {
			activeID = active.ID
		}
		return nil, errors.StaleField(fieldID, activeID)
	}

	spec, ok := registry.Lookup(fieldID)
	if !ok {
		return nil, errors.InternalError(fmt.Sprintf("no field spec for '%s'", fieldID), nil)
	}
	spec.MaxAttempts = active.MaxAttempts

	s.touch()
	s.say(v1.RoleUser, raw)

	value, rej := validate.Answer(spec, raw, s.Input)
	switch {
	case rej == nil:
		active.Merged = validate.Merge(spec, value, s.Input)
		active.Status = v1.FieldStatusResolved
		active.Value = strings.TrimSpace(raw)
		s.say(v1.RoleAssistant, "✅ Answer accepted")
		s.advance()
		return &Outcome{Accepted: true, Attempts: active.Attempts}, nil

	case rej.IsConflict():
		// Conflicts do not consume an attempt: they usually point at a bad
		// extraction, not a user mistake.
		s.say(v1.RoleAssistant, fmt.Sprintf("❌ %s (conflicts with '%s')", rej.Reason, rej.ConflictWith))
		return &Outcome{
			Reason:       rej.Reason,
			ConflictWith: rej.ConflictWith,
			Attempts:     active.Attempts,
		}, nil

	default:
		active.Attempts++
		if active.Attempts < active.MaxAttempts {
			s.say(v1.RoleAssistant, fmt.Sprintf("❌ %s. %s", rej.Reason, spec.Hint))
			return &Outcome{Reason: rej.Reason, Attempts: active.Attempts}, nil
		}
		return s.exhaust(active, spec, rej), nil
	}
}

// exhaust handles a field whose retry budget just ran out: fill the first
// suggested default if one exists, otherwise mark the field conflicting.
// Either way the session moves on to the next pending field.
func (s *Session) exhaust(state *FieldState, spec *registry.FieldSpec, rej *validate.Rejection) *Outcome {
	if def, ok := registry.DefaultFor(spec, state.Attempts); ok {
		s.applyDefault(state, spec, def)
		s.advance()
		return &Outcome{
			AutoDefault:  true,
			DefaultValue: def,
			Reason:       rej.Reason,
			Attempts:     state.Attempts,
		}
	}

	state.Status = v1.FieldStatusConflict
	s.say(v1.RoleSystem, fmt.Sprintf(
		"Field '%s' could not be resolved after %d attempts and has no default; it is marked as conflicting.",
		state.ID, state.Attempts))
	s.advance()
	return &Outcome{Reason: rej.Reason, Attempts: state.Attempts}
}

// applyDefault merges a suggested default exactly as if it were an accepted
// answer, recorded as a system message rather than attributed to the user.
func (s *Session) applyDefault(state *FieldState, spec *registry.FieldSpec, def string) {
	if value, rej := validate.Answer(spec, def, s.Input); rej == nil {
		state.Merged = validate.Merge(spec, value, s.Input)
	}
	state.Status = v1.FieldStatusDefault
	state.Value = def
	s.say(v1.RoleSystem, fmt.Sprintf(
		"No valid answer for '%s' after %d attempts, using suggested default '%s'.",
		state.ID, state.Attempts, def))
}

// Reopen puts a resolved, defaulted or conflicting field back to active so
// the user can edit it. The previously merged value is removed, and any field
// that derived from the reopened value is reset to pending rather than left
// holding a stale answer.
func (s *Session) Reopen(fieldID string) error {
	state := s.Field(fieldID)
	if state == nil {
		return errors.NotFound("field", fieldID)
	}
	switch state.Status {
	case v1.FieldStatusResolved, v1.FieldStatusDefault, v1.FieldStatusConflict:
	default:
		return errors.FieldNotReopenable(fieldID)
	}

	s.touch()

	if active := s.ActiveField(); active != nil {
		active.Status = v1.FieldStatusPending
	}

	s.invalidate(state, v1.FieldStatusActive)
	s.say(v1.RoleSystem, fmt.Sprintf("Field '%s' reopened for editing.", fieldID))
	return nil
}

// invalidate resets one field to the given status, unmerging exactly what
// the field contributed to the input, then transitively resets dependents of
// that field to pending. Values merged by sibling fields are untouched.
func (s *Session) invalidate(state *FieldState, to v1.FieldStatus) {
	spec, ok := registry.Lookup(state.ID)
	if ok && state.Status.Terminal() {
		validate.Unmerge(spec, state.Merged, s.Input)
	}
	state.Status = to
	state.Attempts = 0
	state.Value = nil
	state.Merged = nil

	for _, f := range s.Fields {
		if f.Status == v1.FieldStatusPending || f.Status == v1.FieldStatusActive {
			continue
		}
		if fspec, ok := registry.Lookup(f.ID); ok && dependsOn(fspec, state.ID) {
			s.invalidate(f, v1.FieldStatusPending)
		}
	}
}

func dependsOn(spec *registry.FieldSpec, fieldID string) bool {
	for _, dep := range spec.DependsOn {
		if dep == fieldID {
			return true
		}
	}
	return false
}

// advance activates the first pending field if nothing is active.
func (s *Session) advance() {
	if s.ActiveField() != nil {
		return
	}
	for _, f := range s.Fields {
		if f.Status == v1.FieldStatusPending {
			f.Status = v1.FieldStatusActive
			return
		}
	}
}

// Request builds the wire projection of the session: the full ordered field
// view plus the current question. Clients rebuild their entire display from
// this, so it must always be complete.
func (s *Session) Request() *v1.ClarificationRequest {
	req := &v1.ClarificationRequest{
		OrderedMissing:    make([]v1.FieldProgress, 0, len(s.Fields)),
		ExpectedFormat:    make(map[string]v1.ExpectedFormat),
		SuggestedDefaults: make(map[string]any),
	}

	for _, f := range s.Fields {
		req.OrderedMissing = append(req.OrderedMissing, v1.FieldProgress{
			ID:          f.ID,
			Status:      f.Status,
			Attempts:    f.Attempts,
			MaxAttempts: f.MaxAttempts,
		})
		switch f.Status {
		case v1.FieldStatusActive, v1.FieldStatusPending:
			req.Missing = append(req.Missing, f.ID)
		case v1.FieldStatusConflict:
			req.Conflicts = append(req.Conflicts, f.ID)
		}
	}

	active := s.ActiveField()
	if active == nil {
		return req
	}

	spec, ok := registry.Lookup(active.ID)
	if !ok {
		return req
	}

	req.CurrentField = active.ID
	req.Questions = []string{spec.Question}
	req.ExpectedFormat[active.ID] = v1.ExpectedFormat{Hint: spec.Hint, Examples: spec.Examples}
	if spec.HasDefault() {
		req.SuggestedDefaults[active.ID] = spec.Defaults[0]
	}
	req.AttemptsLeft = active.MaxAttempts - active.Attempts
	return req
}

// say appends one message to the conversation history. History is
// append-only and chronological; nothing ever reorders or prunes it.
func (s *Session) say(role, content string) {
	s.History = append(s.History, v1.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Session) touch() {
	s.LastActive = time.Now().UTC()
}
