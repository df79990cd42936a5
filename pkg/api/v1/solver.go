// Package v1 contains the shared wire types for the clarifier API.
package v1

// SolverInput is the structured optimization problem exchanged with the
// extractor upstream and the numerical solver downstream. The clarification
// loop completes a partially-filled SolverInput.
type SolverInput struct {
	Variables   []Variable        `json:"variables,omitempty"`
	Objectives  []Objective       `json:"objectives,omitempty"`
	Constraints []Constraint      `json:"constraints,omitempty"`
	Materials   []string          `json:"materials,omitempty"`
	Units       map[string]string `json:"units,omitempty"` // quantity name -> unit symbol
	Domain      string            `json:"domain,omitempty"`
	Context     string            `json:"context,omitempty"`
}

// Variable is a single decision variable of the optimization problem.
type Variable struct {
	Name        string   `json:"name"`
	Type        string   `json:"type,omitempty"` // continuous, integer, binary
	Description string   `json:"description,omitempty"`
	LowerBound  *float64 `json:"lower_bound,omitempty"`
	UpperBound  *float64 `json:"upper_bound,omitempty"`
	Unit        string   `json:"unit,omitempty"`
}

// HasBounds reports whether both bounds of the variable are set.
func (v *Variable) HasBounds() bool {
	return v.LowerBound != nil && v.UpperBound != nil
}

// Objective is one optimization goal (minimize or maximize a target quantity).
type Objective struct {
	Type        string   `json:"type"` // minimize, maximize
	Target      string   `json:"target"`
	Description string   `json:"description,omitempty"`
	Weight      *float64 `json:"weight,omitempty"`
}

// Constraint restricts a variable or derived quantity.
type Constraint struct {
	Variable    string  `json:"variable"`
	Operator    string  `json:"operator"` // <=, >=, ==
	Value       float64 `json:"value"`
	Units       string  `json:"units,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Clone returns a deep copy of the solver input.
func (s *SolverInput) Clone() *SolverInput {
	if s == nil {
		return nil
	}
	out := &SolverInput{
		Domain:  s.Domain,
		Context: s.Context,
	}
	if s.Variables != nil {
		out.Variables = make([]Variable, len(s.Variables))
		copy(out.Variables, s.Variables)
		for i := range out.Variables {
			out.Variables[i].LowerBound = copyFloat(out.Variables[i].LowerBound)
			out.Variables[i].UpperBound = copyFloat(out.Variables[i].UpperBound)
		}
	}
	if s.Objectives != nil {
		out.Objectives = make([]Objective, len(s.Objectives))
		copy(out.Objectives, s.Objectives)
		for i := range out.Objectives {
			out.Objectives[i].Weight = copyFloat(out.Objectives[i].Weight)
		}
	}
	if s.Constraints != nil {
		out.Constraints = make([]Constraint, len(s.Constraints))
		copy(out.Constraints, s.Constraints)
	}
	if s.Materials != nil {
		out.Materials = append([]string(nil), s.Materials...)
	}
	if s.Units != nil {
		out.Units = make(map[string]string, len(s.Units))
		for k, v := range s.Units {
			out.Units[k] = v
		}
	}
	return out
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Variable returns the variable with the given name, or nil.
func (s *SolverInput) Variable(name string) *Variable {
	for i := range s.Variables {
		if s.Variables[i].Name == name {
			return &s.Variables[i]
		}
	}
	return nil
}
