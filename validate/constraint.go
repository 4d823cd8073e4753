package validate

import (
	"fmt"
	"reflect"
	"regexp"
)

// ConstraintFunc checks a single field value and returns a non-empty
// message if the constraint is violated.
type ConstraintFunc func(value any, param string) (violated bool, message string)

var registry = map[string]ConstraintFunc{
	"required":  requiredConstraint,
	"positive":  positiveConstraint,
	"minLength": minLengthConstraint,
	"maxLength": maxLengthConstraint,
	"pattern":   patternConstraint,
	"oneOf":     oneOfConstraint,
}

// RegisterConstraint adds or overrides a named constraint in the
// global registry, replacing the annotation-scanning approach with an
// explicit, pluggable registry keyed by constraint tag.
func RegisterConstraint(name string, fn ConstraintFunc) {
	registry[name] = fn
}

func lookupConstraint(name string) (ConstraintFunc, bool) {
	fn, ok := registry[name]
	return fn, ok
}

func requiredConstraint(value any, _ string) (bool, string) {
	if value == nil {
		return true, "value is required"
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.String:
		if rv.String() == "" {
			return true, "value is required"
		}
	case reflect.Slice, reflect.Map:
		if rv.Len() == 0 {
			return true, "value is required"
		}
	}
	return false, ""
}

func positiveConstraint(value any, _ string) (bool, string) {
	f, ok := toFloat(value)
	if !ok {
		return false, ""
	}
	if f <= 0 {
		return true, "value must be positive"
	}
	return false, ""
}

func minLengthConstraint(value any, param string) (bool, string) {
	var min int
	fmt.Sscanf(param, "%d", &min)
	s, ok := toStringLen(value)
	if !ok {
		return false, ""
	}
	if s < min {
		return true, fmt.Sprintf("length must be at least %d", min)
	}
	return false, ""
}

func maxLengthConstraint(value any, param string) (bool, string) {
	var max int
	fmt.Sscanf(param, "%d", &max)
	s, ok := toStringLen(value)
	if !ok {
		return false, ""
	}
	if s > max {
		return true, fmt.Sprintf("length must be at most %d", max)
	}
	return false, ""
}

func patternConstraint(value any, param string) (bool, string) {
	str, ok := value.(string)
	if !ok {
		return false, ""
	}
	re, err := regexp.Compile(param)
	if err != nil {
		return true, fmt.Sprintf("invalid pattern %q", param)
	}
	if !re.MatchString(str) {
		return true, fmt.Sprintf("value does not match pattern %q", param)
	}
	return false, ""
}

func oneOfConstraint(value any, param string) (bool, string) {
	str := fmt.Sprintf("%v", value)
	var options []string
	for _, opt := range splitComma(param) {
		options = append(options, opt)
	}
	for _, opt := range options {
		if opt == str {
			return false, ""
		}
	}
	return true, fmt.Sprintf("value must be one of %v", options)
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func toStringLen(value any) (int, bool) {
	if s, ok := value.(string); ok {
		return len(s), true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map {
		return rv.Len(), true
	}
	return 0, false
}
