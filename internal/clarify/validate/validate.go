// Package validate parses submitted answers, checks them against the working
// solver input for conflicts, and merges accepted values.
//
// The two rejection modes are deliberately distinct: a format rejection
// consumes one of the field's attempts, a conflict rejection does not. A
// conflict usually means the upstream extraction was wrong, and the user
// should not burn retries paying for that.
package validate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/creatoria/clarifier/internal/clarify/registry"
	v1 "github.com/creatoria/clarifier/pkg/api/v1"
)

// Rejection is returned when an answer cannot be accepted.
type Rejection struct {
	Reason       string
	ConflictWith string // field id this answer contradicts; empty for format rejections
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.ConflictWith != "" {
		return fmt.Sprintf("conflicts with %s: %s", r.ConflictWith, r.Reason)
	}
	return r.Reason
}

// IsConflict reports whether the rejection is a conflict rejection.
func (r *Rejection) IsConflict() bool {
	return r.ConflictWith != ""
}

func reject(format string, args ...any) *Rejection {
	return &Rejection{Reason: fmt.Sprintf(format, args...)}
}

func conflict(fieldID, format string, args ...any) *Rejection {
	return &Rejection{Reason: fmt.Sprintf(format, args...), ConflictWith: fieldID}
}

// Bounds is a parsed numeric range, optionally carrying a unit symbol.
type Bounds struct {
	Lower float64
	Upper float64
	Unit  string
}

// Answer validates one raw answer against a field spec and the working input.
// It returns the parsed value on success, or a *Rejection. A panicking parser
// is converted into a generic format rejection so a bug in one field's
// validator cannot take the session down with it.
func Answer(spec *registry.FieldSpec, raw string, input *v1.SolverInput) (value any, rej *Rejection) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			rej = reject("could not interpret the answer, please rephrase it")
		}
	}()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, reject("the answer is empty")
	}

	switch spec.Kind {
	case registry.KindVariables:
		return parseVariables(raw, input)
	case registry.KindObjectives:
		return parseObjectives(raw)
	case registry.KindConstraints:
		return parseConstraints(raw, input)
	case registry.KindBounds:
		return parseVarBounds(spec.Var, raw)
	case registry.KindUnit:
		return parseUnit(spec.Quantity, raw)
	case registry.KindQuantityBounds:
		return parseQuantityBounds(spec.Quantity, raw, input)
	default:
		return nil, reject("unknown field kind %q", spec.Kind)
	}
}

// Receipt records exactly what Merge added to the working input. Fields that
// append to shared lists (variables, constraints) need it so a later Unmerge
// removes their own contribution and nothing merged by sibling fields.
type Receipt struct {
	Variables   []string        `json:"variables,omitempty"`
	Constraints []v1.Constraint `json:"constraints,omitempty"`
}

// Merge applies an accepted value to the working input and returns a receipt
// of what was added. Only accepted values reach this point; rejected answers
// never mutate the input.
func Merge(spec *registry.FieldSpec, value any, input *v1.SolverInput) *Receipt {
	switch spec.Kind {
	case registry.KindVariables:
		var added []string
		for _, name := range value.([]string) {
			if input.Variable(name) == nil {
				input.Variables = append(input.Variables, v1.Variable{Name: name, Type: "continuous"})
				added = append(added, name)
			}
		}
		return &Receipt{Variables: added}
	case registry.KindObjectives:
		input.Objectives = value.([]v1.Objective)
	case registry.KindConstraints:
		constraints := value.([]v1.Constraint)
		input.Constraints = append(input.Constraints, constraints...)
		return &Receipt{Constraints: append([]v1.Constraint(nil), constraints...)}
	case registry.KindBounds:
		b := value.(Bounds)
		if v := input.Variable(spec.Var); v != nil {
			lower, upper := b.Lower, b.Upper
			v.LowerBound = &lower
			v.UpperBound = &upper
		}
	case registry.KindUnit:
		if input.Units == nil {
			input.Units = make(map[string]string)
		}
		input.Units[spec.Quantity] = value.(string)
	case registry.KindQuantityBounds:
		b := value.(Bounds)
		unit := b.Unit
		if unit == "" {
			unit = input.Units[spec.Quantity]
		}
		constraints := []v1.Constraint{
			{Variable: spec.Quantity, Operator: ">=", Value: b.Lower, Units: unit},
			{Variable: spec.Quantity, Operator: "<=", Value: b.Upper, Units: unit},
		}
		input.Constraints = append(input.Constraints, constraints...)
		return &Receipt{Constraints: constraints}
	}
	return nil
}

// Unmerge removes a field's previously merged value from the working input.
// Used when a resolved or defaulted field is reopened for editing. List-
// appending kinds consult the receipt; kinds that own their slot outright
// (objectives, bounds, units) clear it directly.
func Unmerge(spec *registry.FieldSpec, receipt *Receipt, input *v1.SolverInput) {
	switch spec.Kind {
	case registry.KindVariables:
		if receipt == nil {
			return
		}
		for _, name := range receipt.Variables {
			removeVariable(input, name)
		}
	case registry.KindObjectives:
		input.Objectives = nil
	case registry.KindConstraints, registry.KindQuantityBounds:
		if receipt == nil {
			return
		}
		for _, c := range receipt.Constraints {
			removeConstraint(input, c)
		}
	case registry.KindBounds:
		if v := input.Variable(spec.Var); v != nil {
			v.LowerBound = nil
			v.UpperBound = nil
		}
	case registry.KindUnit:
		if input.Units != nil {
			input.Units[spec.Quantity] = ""
		}
	}
}

func removeVariable(input *v1.SolverInput, name string) {
	for i := range input.Variables {
		if input.Variables[i].Name == name {
			input.Variables = append(input.Variables[:i], input.Variables[i+1:]...)
			return
		}
	}
}

// removeConstraint drops the first constraint equal to c, so duplicates
// contributed by another field survive.
func removeConstraint(input *v1.SolverInput, c v1.Constraint) {
	for i := range input.Constraints {
		if input.Constraints[i] == c {
			input.Constraints = append(input.Constraints[:i], input.Constraints[i+1:]...)
			return
		}
	}
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func parseVariables(raw string, input *v1.SolverInput) (any, *Rejection) {
	var names []string

	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			return nil, reject("expected a JSON array of names: %v", err)
		}
	} else {
		for _, tok := range strings.Split(raw, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				names = append(names, tok)
			}
		}
	}

	if len(names) == 0 {
		return nil, reject("no variable names found")
	}

	seen := make(map[string]bool)
	for _, name := range names {
		if !namePattern.MatchString(name) {
			return nil, reject("'%s' is not a valid variable name", name)
		}
		if seen[name] {
			return nil, reject("variable '%s' is listed twice", name)
		}
		seen[name] = true
		if input.Variable(name) != nil {
			return nil, conflict("variables", "variable '%s' already exists", name)
		}
	}

	return names, nil
}

func parseObjectives(raw string) (any, *Rejection) {
	var objectives []v1.Objective
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		parts := strings.Fields(tok)
		if len(parts) < 2 {
			return nil, reject("'%s' should look like 'minimize cost' or 'maximize strength'", tok)
		}
		kind := strings.ToLower(parts[0])
		if kind != "minimize" && kind != "maximize" {
			return nil, reject("'%s' must start with 'minimize' or 'maximize'", tok)
		}
		objectives = append(objectives, v1.Objective{
			Type:   kind,
			Target: strings.Join(parts[1:], " "),
		})
	}
	if len(objectives) == 0 {
		return nil, reject("no objectives found")
	}
	return objectives, nil
}

var constraintPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(<=|>=|==|<|>)\s*(-?\d+(?:\.\d+)?)\s*([A-Za-z]*)$`)

func parseConstraints(raw string, input *v1.SolverInput) (any, *Rejection) {
	var constraints []v1.Constraint
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		m := constraintPattern.FindStringSubmatch(tok)
		if m == nil {
			return nil, reject("'%s' should look like 'x1 <= 5'", tok)
		}
		value, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			return nil, reject("'%s' has a malformed number", tok)
		}
		c := v1.Constraint{Variable: m[1], Operator: normalizeOperator(m[2]), Value: value, Units: m[4]}

		// A constraint on a bounded variable must be satisfiable inside
		// those bounds, otherwise it contradicts the earlier answer.
		if v := input.Variable(c.Variable); v != nil && v.HasBounds() {
			if rej := checkConstraintWithinBounds(&c, v); rej != nil {
				return nil, rej
			}
		}
		constraints = append(constraints, c)
	}
	if len(constraints) == 0 {
		return nil, reject("no constraints found")
	}
	return constraints, nil
}

func normalizeOperator(op string) string {
	switch op {
	case "<":
		return "<="
	case ">":
		return ">="
	default:
		return op
	}
}

func checkConstraintWithinBounds(c *v1.Constraint, v *v1.Variable) *Rejection {
	boundsField := "bounds_for_" + v.Name
	switch c.Operator {
	case "<=", "==":
		if c.Value < *v.LowerBound {
			return conflict(boundsField, "'%s %s %g' is below the lower bound %g", c.Variable, c.Operator, c.Value, *v.LowerBound)
		}
	}
	switch c.Operator {
	case ">=", "==":
		if c.Value > *v.UpperBound {
			return conflict(boundsField, "'%s %s %g' is above the upper bound %g", c.Variable, c.Operator, c.Value, *v.UpperBound)
		}
	}
	return nil
}

var (
	rangePattern  = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)\s*(?:\.\.|-)\s*(-?\d+(?:\.\d+)?)\s*([A-Za-z]*)$`)
	minMaxPattern = regexp.MustCompile(`^min\s*=\s*(-?\d+(?:\.\d+)?)\s*,\s*max\s*=\s*(-?\d+(?:\.\d+)?)$`)
)

// parseBounds handles "<lower>..<upper>", "<lower>-<upper>" and
// "min=<x>,max=<y>", with an optional trailing unit token on the range forms.
func parseBounds(raw string) (Bounds, *Rejection) {
	var lower, upper, unit string

	if m := rangePattern.FindStringSubmatch(raw); m != nil {
		lower, upper, unit = m[1], m[2], m[3]
	} else if m := minMaxPattern.FindStringSubmatch(strings.ToLower(raw)); m != nil {
		lower, upper = m[1], m[2]
	} else {
		return Bounds{}, reject("expected '<lower>..<upper>' or 'min=<x>,max=<y>', got '%s'", raw)
	}

	lo, err := strconv.ParseFloat(lower, 64)
	if err != nil {
		return Bounds{}, reject("'%s' is not a number", lower)
	}
	hi, err := strconv.ParseFloat(upper, 64)
	if err != nil {
		return Bounds{}, reject("'%s' is not a number", upper)
	}
	if lo >= hi {
		return Bounds{}, reject("lower bound %g must be less than upper bound %g", lo, hi)
	}
	return Bounds{Lower: lo, Upper: hi, Unit: unit}, nil
}

func parseVarBounds(varName, raw string) (any, *Rejection) {
	// Allow the "<var>: 0..10" template the UI offers.
	if prefix := varName + ":"; strings.HasPrefix(raw, prefix) {
		raw = strings.TrimSpace(strings.TrimPrefix(raw, prefix))
	}
	b, rej := parseBounds(raw)
	if rej != nil {
		return nil, rej
	}
	if b.Unit != "" {
		return nil, reject("variable bounds should not carry a unit, got '%s'", b.Unit)
	}
	return b, nil
}

func parseUnit(quantity, raw string) (any, *Rejection) {
	unit := strings.TrimSpace(raw)
	if len(strings.Fields(unit)) != 1 {
		return nil, reject("expected a single unit symbol, got '%s'", raw)
	}
	if known, ok := registry.UnitsByQuantity[quantity]; ok {
		for _, u := range known {
			if strings.EqualFold(unit, u) {
				return u, nil
			}
		}
		return nil, reject("'%s' is not a known %s unit (try one of: %s)", unit, quantity, strings.Join(known, ", "))
	}
	if !namePattern.MatchString(unit) {
		return nil, reject("'%s' is not a valid unit symbol", unit)
	}
	return unit, nil
}

func parseQuantityBounds(quantity, raw string, input *v1.SolverInput) (any, *Rejection) {
	b, rej := parseBounds(raw)
	if rej != nil {
		return nil, rej
	}
	if b.Unit != "" {
		if resolved := input.Units[quantity]; resolved != "" && !strings.EqualFold(b.Unit, resolved) {
			return nil, conflict(quantity+"_unit",
				"range is given in '%s' but %s was resolved to '%s'", b.Unit, quantity, resolved)
		}
	}
	return b, nil
}
