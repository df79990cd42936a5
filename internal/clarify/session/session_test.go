package session

import (
	"strings"
	"testing"

	"github.com/creatoria/clarifier/internal/common/errors"
	v1 "github.com/creatoria/clarifier/pkg/api/v1"
)

func TestNewOrdersFields(t *testing.T) {
	s := New(&v1.SolverInput{}, nil, 3)
	if s == nil {
		t.Fatal("expected a session for an empty input")
	}

	if len(s.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(s.Fields))
	}
	if s.Fields[0].ID != "variables" || s.Fields[0].Status != v1.FieldStatusActive {
		t.Errorf("expected variables active first, got %s/%s", s.Fields[0].ID, s.Fields[0].Status)
	}
	if s.Fields[1].ID != "objectives" || s.Fields[1].Status != v1.FieldStatusPending {
		t.Errorf("expected objectives pending second, got %s/%s", s.Fields[1].ID, s.Fields[1].Status)
	}
	if s.Complete() {
		t.Error("new session should not be complete")
	}
}

func TestNewReturnsNilWhenNothingMissing(t *testing.T) {
	lo, hi := 0.0, 10.0
	input := &v1.SolverInput{
		Variables:  []v1.Variable{{Name: "x1", LowerBound: &lo, UpperBound: &hi}},
		Objectives: []v1.Objective{{Type: "minimize", Target: "cost"}},
	}
	if s := New(input, nil, 3); s != nil {
		t.Errorf("expected nil session, got %d fields", len(s.Fields))
	}
}

func TestSubmitAnswerAccepted(t *testing.T) {
	input := &v1.SolverInput{
		Variables:  []v1.Variable{{Name: "x1"}},
		Objectives: []v1.Objective{{Type: "minimize", Target: "cost"}},
	}
	s := New(input, nil, 3)
	if got := s.ActiveField().ID; got != "bounds_for_x1" {
		t.Fatalf("expected bounds_for_x1 active, got %s", got)
	}

	out, err := s.SubmitAnswer("bounds_for_x1", "0..10")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if !out.Accepted {
		t.Fatalf("expected acceptance, got reason %q", out.Reason)
	}
	if out.Attempts != 0 {
		t.Errorf("accepted first try should report 0 attempts, got %d", out.Attempts)
	}

	v := s.Input.Variable("x1")
	if !v.HasBounds() || *v.LowerBound != 0 || *v.UpperBound != 10 {
		t.Errorf("bounds not merged: %+v", v)
	}
	if s.Field("bounds_for_x1").Status != v1.FieldStatusResolved {
		t.Errorf("field should be resolved, got %s", s.Field("bounds_for_x1").Status)
	}
	if !s.Complete() {
		t.Error("session should be complete")
	}

	last := s.History[len(s.History)-1]
	if last.Role != v1.RoleAssistant || last.Content != "✅ Answer accepted" {
		t.Errorf("missing acceptance ack, got %s/%q", last.Role, last.Content)
	}
}

func TestFormatRejectionConsumesAttempts(t *testing.T) {
	s := New(&v1.SolverInput{}, nil, 3)

	out, err := s.SubmitAnswer("variables", "??")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if out.Accepted || out.AutoDefault {
		t.Fatal("malformed answer should be rejected without defaulting")
	}
	if out.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", out.Attempts)
	}
	if got := s.ActiveField().ID; got != "variables" {
		t.Errorf("field should stay active after rejection, active is %s", got)
	}
}

func TestAutoDefaultOnExhaustion(t *testing.T) {
	s := New(&v1.SolverInput{}, nil, 3)

	var out *Outcome
	for i := 0; i < 3; i++ {
		var err error
		out, err = s.SubmitAnswer("variables", "??")
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	if !out.AutoDefault {
		t.Fatal("third rejection should trigger the default")
	}
	if out.DefaultValue != "x1" {
		t.Errorf("expected default x1, got %v", out.DefaultValue)
	}
	if out.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", out.Attempts)
	}

	state := s.Field("variables")
	if state.Status != v1.FieldStatusDefault {
		t.Errorf("expected status default, got %s", state.Status)
	}
	if s.Input.Variable("x1") == nil {
		t.Error("default value not merged into the input")
	}
	if got := s.ActiveField().ID; got != "objectives" {
		t.Errorf("session should have advanced to objectives, active is %s", got)
	}

	var sawSystem bool
	for _, m := range s.History {
		if m.Role == v1.RoleSystem && strings.Contains(m.Content, "default") {
			sawSystem = true
		}
	}
	if !sawSystem {
		t.Error("default application should be recorded as a system message")
	}
}

func TestExhaustionWithoutDefaultMarksConflict(t *testing.T) {
	input := &v1.SolverInput{
		Variables:  []v1.Variable{{Name: "x1"}},
		Objectives: []v1.Objective{{Type: "minimize", Target: "cost"}},
	}
	// bounds_for_x1 comes first, then the declared constraints field.
	s := New(input, []string{"constraints"}, 3)
	if _, err := s.SubmitAnswer("bounds_for_x1", "0..10"); err != nil {
		t.Fatalf("bounds: %v", err)
	}

	var out *Outcome
	for i := 0; i < 3; i++ {
		var err error
		out, err = s.SubmitAnswer("constraints", "not a constraint")
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	if out.AutoDefault {
		t.Fatal("constraints has no default, nothing should be filled in")
	}
	if s.Field("constraints").Status != v1.FieldStatusConflict {
		t.Errorf("expected conflict status, got %s", s.Field("constraints").Status)
	}
	if s.ActiveField() != nil {
		t.Errorf("no field should be active, got %s", s.ActiveField().ID)
	}
	if s.Complete() {
		t.Error("a conflicting field must keep the session incomplete")
	}
	if got := s.Conflicts(); len(got) != 1 || got[0] != "constraints" {
		t.Errorf("Conflicts() = %v", got)
	}
}

func TestConflictRejectionKeepsAttempts(t *testing.T) {
	input := &v1.SolverInput{
		Variables:  []v1.Variable{{Name: "x1"}},
		Objectives: []v1.Objective{{Type: "minimize", Target: "cost"}},
		Units:      map[string]string{"pressure": ""},
	}
	s := New(input, []string{"pressure_bounds"}, 3)

	if _, err := s.SubmitAnswer("bounds_for_x1", "0..10"); err != nil {
		t.Fatalf("bounds: %v", err)
	}
	if out, err := s.SubmitAnswer("pressure_unit", "bar"); err != nil || !out.Accepted {
		t.Fatalf("unit answer should be accepted: %+v %v", out, err)
	}

	out, err := s.SubmitAnswer("pressure_bounds", "0-500 psi")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if out.Accepted {
		t.Fatal("mismatched unit should be rejected")
	}
	if out.ConflictWith != "pressure_unit" {
		t.Errorf("expected conflict with pressure_unit, got %q", out.ConflictWith)
	}
	if out.Attempts != 0 {
		t.Errorf("conflict rejection must not consume attempts, got %d", out.Attempts)
	}
	if got := s.ActiveField().ID; got != "pressure_bounds" {
		t.Errorf("field should stay active, got %s", got)
	}

	// A consistent answer still goes through afterwards.
	out, err = s.SubmitAnswer("pressure_bounds", "0..500 bar")
	if err != nil || !out.Accepted {
		t.Fatalf("consistent range should be accepted: %+v %v", out, err)
	}
	if len(s.Input.Constraints) != 2 {
		t.Errorf("expected 2 derived constraints, got %d", len(s.Input.Constraints))
	}
}

func TestStaleAnswerLeavesStateUntouched(t *testing.T) {
	s := New(&v1.SolverInput{}, nil, 3)
	before := len(s.History)

	_, err := s.SubmitAnswer("objectives", "minimize cost")
	if err == nil {
		t.Fatal("answering a pending field should fail")
	}
	if !errors.IsStaleField(err) {
		t.Fatalf("expected a stale field error, got %v", err)
	}
	if len(s.History) != before {
		t.Error("stale answer must not touch the history")
	}
	if s.Field("objectives").Attempts != 0 {
		t.Error("stale answer must not consume attempts")
	}
	if got := s.ActiveField().ID; got != "variables" {
		t.Errorf("active field changed to %s", got)
	}
}

func TestReopenResetsDependents(t *testing.T) {
	lo, hi := 0.0, 10.0
	input := &v1.SolverInput{
		Variables:  []v1.Variable{{Name: "x1", LowerBound: &lo, UpperBound: &hi}},
		Objectives: []v1.Objective{{Type: "minimize", Target: "cost"}},
		Units:      map[string]string{"pressure": ""},
	}
	s := New(input, []string{"pressure_bounds"}, 3)

	steps := []struct{ field, answer string }{
		{"pressure_unit", "bar"},
		{"pressure_bounds", "0..500"},
	}
	for _, step := range steps {
		if out, err := s.SubmitAnswer(step.field, step.answer); err != nil || !out.Accepted {
			t.Fatalf("%s: %+v %v", step.field, out, err)
		}
	}
	if !s.Complete() {
		t.Fatal("session should be complete before reopening")
	}

	if err := s.Reopen("pressure_unit"); err != nil {
		t.Fatalf("Reopen: %v", err)
	}

	if got := s.ActiveField().ID; got != "pressure_unit" {
		t.Errorf("reopened field should be active, got %s", got)
	}
	if s.Field("pressure_unit").Attempts != 0 {
		t.Error("reopen should reset attempts")
	}
	if st := s.Field("pressure_bounds").Status; st != v1.FieldStatusPending {
		t.Errorf("dependent bounds field should be pending again, got %s", st)
	}
	if s.Input.Units["pressure"] != "" {
		t.Errorf("unit should be unmerged, got %q", s.Input.Units["pressure"])
	}
	if len(s.Input.Constraints) != 0 {
		t.Errorf("derived range constraints should be unmerged, got %+v", s.Input.Constraints)
	}
	if s.Complete() {
		t.Error("session must be incomplete after reopening")
	}

	// Answering the reopened field works and the range question comes back.
	if out, err := s.SubmitAnswer("pressure_unit", "psi"); err != nil || !out.Accepted {
		t.Fatalf("reanswer: %+v %v", out, err)
	}
	if got := s.ActiveField().ID; got != "pressure_bounds" {
		t.Errorf("expected the range question next, got %s", got)
	}
}

func TestReopenKeepsSiblingMerges(t *testing.T) {
	lo, hi := 0.0, 10.0
	input := &v1.SolverInput{
		Variables:  []v1.Variable{{Name: "x1", LowerBound: &lo, UpperBound: &hi}},
		Objectives: []v1.Objective{{Type: "minimize", Target: "cost"}},
		Units:      map[string]string{"pressure": ""},
	}
	s := New(input, []string{"constraints", "pressure_bounds"}, 3)

	steps := []struct{ field, answer string }{
		{"pressure_unit", "bar"},
		{"constraints", "x1 <= 5"},
		{"pressure_bounds", "0..500"},
	}
	for _, step := range steps {
		if out, err := s.SubmitAnswer(step.field, step.answer); err != nil || !out.Accepted {
			t.Fatalf("%s: %+v %v", step.field, out, err)
		}
	}
	if len(s.Input.Constraints) != 3 {
		t.Fatalf("expected 3 merged constraints, got %+v", s.Input.Constraints)
	}

	// Reopening constraints removes only its own contribution; the range
	// constraints merged by the still-resolved pressure_bounds field stay.
	if err := s.Reopen("constraints"); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if st := s.Field("pressure_bounds").Status; st != v1.FieldStatusResolved {
		t.Errorf("pressure_bounds should stay resolved, got %s", st)
	}
	if len(s.Input.Constraints) != 2 {
		t.Fatalf("expected the 2 range constraints to survive, got %+v", s.Input.Constraints)
	}
	for _, c := range s.Input.Constraints {
		if c.Variable != "pressure" {
			t.Errorf("unexpected surviving constraint %+v", c)
		}
	}

	// The other direction holds too: resetting the range field through a
	// unit reopen leaves the user's own constraints alone.
	if out, err := s.SubmitAnswer("constraints", "x1 >= 1"); err != nil || !out.Accepted {
		t.Fatalf("reanswer: %+v %v", out, err)
	}
	if err := s.Reopen("pressure_unit"); err != nil {
		t.Fatalf("Reopen unit: %v", err)
	}
	if st := s.Field("pressure_bounds").Status; st != v1.FieldStatusPending {
		t.Errorf("pressure_bounds should be pending again, got %s", st)
	}
	if len(s.Input.Constraints) != 1 || s.Input.Constraints[0].Variable != "x1" {
		t.Errorf("user constraints should survive, got %+v", s.Input.Constraints)
	}
}

func TestReopenPendingFieldFails(t *testing.T) {
	s := New(&v1.SolverInput{}, nil, 3)
	if err := s.Reopen("objectives"); err == nil {
		t.Error("reopening a pending field should fail")
	}
	if err := s.Reopen("no_such_field"); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRequestProjection(t *testing.T) {
	s := New(&v1.SolverInput{}, nil, 3)
	if _, err := s.SubmitAnswer("variables", "??"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	req := s.Request()
	if req.CurrentField != "variables" {
		t.Errorf("current_field = %q", req.CurrentField)
	}
	if len(req.Questions) != 1 || req.Questions[0] == "" {
		t.Errorf("questions = %v", req.Questions)
	}
	if req.AttemptsLeft != 2 {
		t.Errorf("attempts_left = %d", req.AttemptsLeft)
	}
	if len(req.OrderedMissing) != 2 {
		t.Fatalf("ordered_missing has %d entries", len(req.OrderedMissing))
	}
	if req.OrderedMissing[0].Attempts != 1 {
		t.Errorf("ordered_missing[0].attempts = %d", req.OrderedMissing[0].Attempts)
	}
	if def, ok := req.SuggestedDefaults["variables"]; !ok || def != "x1" {
		t.Errorf("suggested_defaults = %v", req.SuggestedDefaults)
	}
	if ef, ok := req.ExpectedFormat["variables"]; !ok || ef.Hint == "" {
		t.Errorf("expected_format = %v", req.ExpectedFormat)
	}
	if len(req.Missing) != 2 {
		t.Errorf("missing = %v", req.Missing)
	}
}
