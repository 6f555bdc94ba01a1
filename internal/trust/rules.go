package trust

import (
	"fmt"
	"strconv"
)

// Rule is a hard bound on one numeric field.
type Rule struct {
	Field  string  `json:"field" yaml:"field"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	Reason string  `json:"reason" yaml:"reason"`
}

// DefaultRules returns the physiological bounds applied when none are configured.
func DefaultRules() []Rule {
	return []Rule{
		{Field: "age", Min: 0, Max: 120, Reason: "invalid age"},
		{Field: "heart_rate", Min: 30, Max: 220, Reason: "lethal heart rate"},
	}
}

// Validate checks that the bounds are ordered and the rule is named.
func (r Rule) Validate() error {
	if r.Field == "" {
		return fmt.Errorf("rule has no field")
	}
	if !(r.Min <= r.Max) {
		return fmt.Errorf("rule %s: min %v above max %v", r.Field, r.Min, r.Max)
	}
	return nil
}

// check returns a rejection reason for value, or "" when it is within bounds.
// A value that is not a finite number is always out of bounds.
func (r Rule) check(value string) string {
	v, ok := parseCell([]string{value}, 0)
	if ok && v >= r.Min && v <= r.Max {
		return ""
	}

	reason := r.Reason
	if reason == "" {
		reason = "out of range"
	}

	return fmt.Sprintf("%s: %s=%s outside [%s, %s]", reason, r.Field, value, formatBound(r.Min), formatBound(r.Max))
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// boundRule is a rule resolved against a dataset's columns.
type boundRule struct {
	Rule
	col int
}

// bindRules resolves every rule field to a column position.
func bindRules(ds Dataset, rules []Rule) ([]boundRule, error) {
	bound := make([]boundRule, len(rules))

	for i, r := range rules {
		col := ds.Index(r.Field)
		if col < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, r.Field)
		}
		bound[i] = boundRule{Rule: r, col: col}
	}

	return bound, nil
}

// firstViolation evaluates rules in order and returns the first failing reason.
func firstViolation(row []string, rules []boundRule) string {
	for _, r := range rules {
		value := ""
		if r.col < len(row) {
			value = row[r.col]
		}
		if reason := r.check(value); reason != "" {
			return reason
		}
	}
	return ""
}
