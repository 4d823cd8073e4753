package validate

import (
	"reflect"
	"strconv"
	"strings"
)

// FieldRule binds one or more named constraints (with optional params,
// e.g. "minLength=3") to a field, addressed by its JSON tag name (or Go
// field name if untagged) and, for nested values, a dotted path.
type FieldRule struct {
	Path        string
	Constraints []string // "required", "positive", "minLength=3", ...
}

// Spec is a builder-time registry of field rules for a struct type,
// consumed by Struct[T] in place of annotation scanning, so constraints
// live in one explicit place instead of struct tags.
type Spec struct {
	Rules []FieldRule
}

// Struct validates T by checking each FieldRule of the configured Spec
// against the value found at the rule's dotted path. A rule reaches a
// slice element only through an explicit numeric index (e.g.
// "items.0.sku"); fields and elements not named by a rule are not
// checked.
type Struct[T any] struct {
	spec *Spec
}

// NewStruct returns a Validator[T] bound to spec.
func NewStruct[T any](spec *Spec) *Struct[T] {
	return &Struct[T]{spec: spec}
}

// Validate implements Validator[T].
func (s *Struct[T]) Validate(value T, opts Options) []ConstraintViolation {
	var violations []ConstraintViolation
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			break
		}
		rv = rv.Elem()
	}

	for _, rule := range s.spec.Rules {
		fieldValue, found := lookupPath(rv, rule.Path)
		if !found {
			if opts.SkipMissing {
				continue
			}
		}
		for _, c := range rule.Constraints {
			name, param := splitConstraint(c)
			fn, ok := lookupConstraint(name)
			if !ok {
				continue
			}
			violated, msg := fn(fieldValue, param)
			if !violated {
				continue
			}
			v := ConstraintViolation{
				PropertyPath:   rule.Path,
				ConstraintName: name,
				Message:        msg,
			}
			if opts.IncludeValue {
				v.OffendingValue = fieldValue
			}
			violations = append(violations, v)
			if opts.StopAtFirst {
				return violations
			}
		}
	}
	return violations
}

// Groups is a no-op hook kept for symmetry with Options.Groups;
// per-rule group scoping is left to callers composing separate Specs
// per group, which keeps Struct itself simple.
func (r FieldRule) Groups(Options) []string { return nil }

func splitConstraint(c string) (name, param string) {
	if i := strings.IndexByte(c, '='); i >= 0 {
		return c[:i], c[i+1:]
	}
	return c, ""
}

// lookupPath resolves a dotted path (with numeric indices for sequence
// positions, e.g. "items.0.sku") against a struct value using JSON tag
// names where present.
func lookupPath(rv reflect.Value, path string) (any, bool) {
	segments := strings.Split(path, ".")
	current := rv
	for _, seg := range segments {
		if idx, err := strconv.Atoi(seg); err == nil {
			for current.Kind() == reflect.Ptr {
				current = current.Elem()
			}
			if current.Kind() != reflect.Slice && current.Kind() != reflect.Array {
				return nil, false
			}
			if idx < 0 || idx >= current.Len() {
				return nil, false
			}
			current = current.Index(idx)
			continue
		}

		for current.Kind() == reflect.Ptr {
			if current.IsNil() {
				return nil, false
			}
			current = current.Elem()
		}
		if current.Kind() != reflect.Struct {
			return nil, false
		}
		field, ok := fieldByJSONName(current, seg)
		if !ok {
			return nil, false
		}
		current = field
	}
	if !current.IsValid() {
		return nil, false
	}
	return current.Interface(), true
}

func fieldByJSONName(rv reflect.Value, name string) (reflect.Value, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		tag := sf.Tag.Get("json")
		tagName := strings.Split(tag, ",")[0]
		if tagName == name || (tagName == "" && sf.Name == name) {
			return rv.Field(i), true
		}
	}
	return reflect.Value{}, false
}
