// Package registry holds the static catalog of clarifiable fields: their
// questions, expected answer formats, suggested defaults and retry budgets.
package registry

import (
	"fmt"
	"regexp"
	"sort"

	v1 "github.com/creatoria/clarifier/pkg/api/v1"
)

// DefaultMaxAttempts is the per-field retry budget unless overridden.
const DefaultMaxAttempts = 3

// FieldKind selects the parsing and merge behavior for a field.
type FieldKind string

const (
	KindVariables      FieldKind = "variables"
	KindObjectives     FieldKind = "objectives"
	KindConstraints    FieldKind = "constraints"
	KindBounds         FieldKind = "bounds"          // bounds_for_<var>
	KindUnit           FieldKind = "unit"            // <quantity>_unit
	KindQuantityBounds FieldKind = "quantity_bounds" // <quantity>_bounds
)

// FieldSpec describes one clarifiable field.
type FieldSpec struct {
	ID          string
	Kind        FieldKind
	Question    string
	Hint        string
	Examples    []string
	Defaults    []string // ordered literal values; first one is the auto-default
	MaxAttempts int
	DependsOn   []string // field ids whose resolved values this field derives from

	// Var is set for KindBounds, Quantity for KindUnit and KindQuantityBounds.
	Var      string
	Quantity string
}

// HasDefault reports whether the field has at least one suggested default.
func (f *FieldSpec) HasDefault() bool {
	return len(f.Defaults) > 0
}

// DefaultFor returns the auto-default value for a field given its attempt
// count. It is a pure function of (spec, attempts): a value is returned only
// when the attempt budget is exhausted and a default exists.
func DefaultFor(spec *FieldSpec, attempts int) (string, bool) {
	if attempts < spec.MaxAttempts || !spec.HasDefault() {
		return "", false
	}
	return spec.Defaults[0], true
}

// UnitsByQuantity maps known quantity names to their accepted unit symbols.
// The first entry of each list is the suggested default.
var UnitsByQuantity = map[string][]string{
	"pressure":    {"bar", "psi", "Pa", "kPa", "MPa", "atm"},
	"length":      {"m", "mm", "cm", "in"},
	"mass":        {"kg", "g", "t", "lb"},
	"temperature": {"C", "K", "F"},
	"force":       {"N", "kN", "lbf"},
}

var (
	boundsPattern   = regexp.MustCompile(`^bounds_for_(.+)$`)
	unitPattern     = regexp.MustCompile(`^(.+)_unit$`)
	quantityPattern = regexp.MustCompile(`^(.+)_bounds$`)
)

var staticFields = map[string]*FieldSpec{
	"variables": {
		ID:          "variables",
		Kind:        KindVariables,
		Question:    "What variables should be optimized?",
		Hint:        "Comma-separated variable names, or a JSON array of names",
		Examples:    []string{"x1, x2", `["x1","x2"]`},
		Defaults:    []string{"x1"},
		MaxAttempts: DefaultMaxAttempts,
	},
	"objectives": {
		ID:          "objectives",
		Kind:        KindObjectives,
		Question:    "What are your optimization objectives?",
		Hint:        "One or more of 'minimize <target>' or 'maximize <target>', comma-separated",
		Examples:    []string{"minimize cost", "minimize mass, maximize strength"},
		Defaults:    []string{"minimize cost"},
		MaxAttempts: DefaultMaxAttempts,
	},
	"constraints": {
		ID:          "constraints",
		Kind:        KindConstraints,
		Question:    "What constraints apply to the problem?",
		Hint:        "Comma-separated comparisons like '<variable> <= <value>'",
		Examples:    []string{"x1 <= 5", "x1 >= 0, x2 <= 100"},
		MaxAttempts: DefaultMaxAttempts,
	},
}

// Lookup resolves a field id to its spec. Dynamic ids (bounds_for_<var>,
// <quantity>_unit, <quantity>_bounds) are derived from their patterns; the
// returned spec is a fresh copy the caller may adjust.
func Lookup(id string) (*FieldSpec, bool) {
	if spec, ok := staticFields[id]; ok {
		c := *spec
		return &c, true
	}

	if m := boundsPattern.FindStringSubmatch(id); m != nil {
		return BoundsField(m[1]), true
	}
	// <q>_unit must be checked before <q>_bounds: "pressure_unit" only
	// matches the unit pattern, but ids like "unit_bounds" would otherwise
	// be ambiguous.
	if m := unitPattern.FindStringSubmatch(id); m != nil {
		return UnitField(m[1]), true
	}
	if m := quantityPattern.FindStringSubmatch(id); m != nil {
		return QuantityBoundsField(m[1]), true
	}
	return nil, false
}

// BoundsField builds the spec for the bounds of one variable.
func BoundsField(varName string) *FieldSpec {
	return &FieldSpec{
		ID:          "bounds_for_" + varName,
		Kind:        KindBounds,
		Var:         varName,
		Question:    fmt.Sprintf("What are the bounds for variable '%s'?", varName),
		Hint:        "Use '<lower>..<upper>' or 'min=<x>,max=<y>'",
		Examples:    []string{"0..10", "min=0,max=10"},
		Defaults:    []string{"0..10"},
		MaxAttempts: DefaultMaxAttempts,
		DependsOn:   []string{"variables"},
	}
}

// UnitField builds the spec for a quantity's unit of measure.
func UnitField(quantity string) *FieldSpec {
	spec := &FieldSpec{
		ID:          quantity + "_unit",
		Kind:        KindUnit,
		Quantity:    quantity,
		Question:    fmt.Sprintf("Which unit of measure should be used for %s?", quantity),
		Hint:        "A single unit symbol",
		Examples:    []string{"bar", "psi"},
		MaxAttempts: DefaultMaxAttempts,
	}
	if units, ok := UnitsByQuantity[quantity]; ok {
		spec.Examples = append([]string(nil), units...)
		spec.Defaults = []string{units[0]}
	}
	return spec
}

// QuantityBoundsField builds the spec for the allowed range of a quantity.
// It has no default on purpose: a wrong range is worse than an open one, so
// exhausting the budget surfaces a conflict instead of guessing.
func QuantityBoundsField(quantity string) *FieldSpec {
	return &FieldSpec{
		ID:          quantity + "_bounds",
		Kind:        KindQuantityBounds,
		Quantity:    quantity,
		Question:    fmt.Sprintf("What is the allowed range for %s?", quantity),
		Hint:        "Use '<lower>..<upper>' or '<lower>-<upper>', optionally followed by a unit",
		Examples:    []string{"0..500", "0-500 bar"},
		MaxAttempts: DefaultMaxAttempts,
		DependsOn:   []string{quantity + "_unit"},
	}
}

// MissingFields computes the ordered list of fields a draft solver input
// leaves missing or ambiguous. The order is fixed here and stays stable for
// the session's lifetime: variables, objectives, per-variable bounds, unit
// fields, then any extractor-declared fields not already detected.
func MissingFields(input *v1.SolverInput, declared []string) []*FieldSpec {
	var fields []*FieldSpec
	seen := make(map[string]bool)

	add := func(spec *FieldSpec) {
		if spec == nil || seen[spec.ID] {
			return
		}
		seen[spec.ID] = true
		fields = append(fields, spec)
	}

	if input == nil {
		input = &v1.SolverInput{}
	}

	if len(input.Variables) == 0 {
		spec, _ := Lookup("variables")
		add(spec)
	}
	if len(input.Objectives) == 0 {
		spec, _ := Lookup("objectives")
		add(spec)
	}
	for i := range input.Variables {
		if !input.Variables[i].HasBounds() {
			add(BoundsField(input.Variables[i].Name))
		}
	}
	for _, quantity := range unitGaps(input) {
		add(UnitField(quantity))
	}

	// Extractor-declared ambiguities (advisory): keep declared order, skip
	// unknown ids so a buggy extractor cannot wedge the session.
	for _, id := range declared {
		if spec, ok := Lookup(id); ok {
			add(spec)
		}
	}

	return fields
}

// unitGaps returns quantities referenced by the input whose unit is unknown,
// sorted so the session field order is deterministic.
func unitGaps(input *v1.SolverInput) []string {
	var gaps []string
	for quantity, unit := range input.Units {
		if unit == "" {
			gaps = append(gaps, quantity)
		}
	}
	sort.Strings(gaps)
	return gaps
}
