package problem

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Fallbacks substituted for missing members of a raw failure record.
const (
	FallbackMessage = "Unknown error"
	FallbackKind    = "validation.error"
)

// DefaultConstraintKeys is the context allow-list used when building
// constraint summaries. Callers extend or replace it per build with
// WithConstraintKeys.
var DefaultConstraintKeys = []string{"min_length", "max_length", "ge", "le", "pattern"}

// constraintValueLimit guards against embedding oversized or
// data-carrying context values in a constraint summary.
const constraintValueLimit = 100

// RawFailure is one validation failure as produced by an upstream
// validation engine. Message is typed any because engines emit
// non-string messages; it is coerced to its printed form.
type RawFailure struct {
	Location []any
	Message  any
	Kind     string
	Context  map[string]any
}

// FieldError is one canonicalized failure inside a ValidationProblem.
type FieldError struct {
	// Pointer is the RFC 6901 location; empty when the failure had no
	// location path.
	Pointer string

	Message string
	Kind    string

	// Value is deliberately never populated from input. Raw values may
	// be secrets and are not echoed to the wire.
	Value any

	// Constraint is a short "key=value, key=value" summary of the safe
	// subset of the failure context, or empty when nothing survived the
	// allow-list.
	Constraint string
}

// NewFieldError validates and builds one field error. Kind must be
// non-empty after trimming.
func NewFieldError(pointer, message, kind, constraint string) (*FieldError, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return nil, &InvalidFieldError{Field: "kind", Value: kind, Reason: "must not be empty"}
	}
	return &FieldError{
		Pointer:    pointer,
		Message:    message,
		Kind:       kind,
		Constraint: constraint,
	}, nil
}

// ValidationProblem is a 4xx document carrying per-field failures in
// input order. Count always equals len(Errors).
type ValidationProblem struct {
	Problem
	Errors []*FieldError
	Count  int
	Source string
}

// BuildOption configures a single call to BuildValidationProblem or
// NewValidationProblem.
type BuildOption func(*buildOptions)

type buildOptions struct {
	instance       string
	problemType    string
	source         string
	constraintKeys []string
	status         int
}

// WithValidationInstance sets the occurrence URI of the built document.
func WithValidationInstance(instance string) BuildOption {
	return func(o *buildOptions) { o.instance = instance }
}

// WithProblemType overrides the document-level type URI.
func WithProblemType(problemType string) BuildOption {
	return func(o *buildOptions) { o.problemType = problemType }
}

// WithSource tags where the failures originated: "body", "query",
// "path" and so on.
func WithSource(source string) BuildOption {
	return func(o *buildOptions) { o.source = source }
}

// WithConstraintKeys replaces the context allow-list for this build.
func WithConstraintKeys(keys ...string) BuildOption {
	return func(o *buildOptions) { o.constraintKeys = keys }
}

// WithValidationStatus overrides the 400 default. Must stay in 4xx.
func WithValidationStatus(status int) BuildOption {
	return func(o *buildOptions) { o.status = status }
}

// BuildValidationProblem converts raw failures into a canonical
// ValidationProblem, in input order. Missing members are absorbed by
// the documented fallbacks, inputs are never mutated, and every call
// returns freshly allocated field errors, so concurrent calls are
// safe.
func BuildValidationProblem(failures []RawFailure, opts ...BuildOption) (*ValidationProblem, error) {
	o := buildOptions{
		problemType:    TypeValidation,
		constraintKeys: DefaultConstraintKeys,
		status:         http.StatusBadRequest,
	}
	for _, opt := range opts {
		opt(&o)
	}

	fieldErrors := make([]*FieldError, 0, len(failures))
	for _, failure := range failures {
		pointer := EncodePointer(failure.Location)

		message := FallbackMessage
		if failure.Message != nil {
			message = fmt.Sprint(failure.Message)
		}

		kind := failure.Kind
		if kind == "" {
			kind = FallbackKind
		}

		fe, err := NewFieldError(pointer, message, kind, constraintSummary(failure.Context, o.constraintKeys))
		if err != nil {
			return nil, err
		}
		fieldErrors = append(fieldErrors, fe)
	}

	return NewValidationProblem(summaryDetail(len(fieldErrors)), fieldErrors, opts...)
}

// NewValidationProblem builds the document around already-canonical
// field errors. Count is forced equal to len(errors) regardless of any
// caller intent, and the status must stay in the 4xx range.
func NewValidationProblem(detail string, errors []*FieldError, opts ...BuildOption) (*ValidationProblem, error) {
	o := buildOptions{
		problemType: TypeValidation,
		status:      http.StatusBadRequest,
	}
	for _, opt := range opts {
		opt(&o)
	}

	p, err := New(o.problemType, "Validation Failed", o.status, detail, WithInstance(o.instance))
	if err != nil {
		return nil, err
	}
	if err := validateStatus(p.Status, 400, 499); err != nil {
		return nil, err
	}
	return &ValidationProblem{
		Problem: *p,
		Errors:  errors,
		Count:   len(errors),
		Source:  o.source,
	}, nil
}

func summaryDetail(n int) string {
	if n == 1 {
		return "1 validation error occurred"
	}
	return fmt.Sprintf("%d validation errors occurred", n)
}

// constraintSummary formats the allow-listed context keys as
// "key=value" pairs joined with ", ". Keys whose printed value reaches
// the length ceiling are skipped. Returns "" when nothing survives.
func constraintSummary(ctx map[string]any, allowed []string) string {
	if len(ctx) == 0 {
		return ""
	}
	var parts []string
	for _, key := range allowed {
		value, ok := ctx[key]
		if !ok {
			continue
		}
		s := fmt.Sprint(value)
		if utf8.RuneCountInString(s) >= constraintValueLimit {
			continue
		}
		parts = append(parts, key+"="+s)
	}
	return strings.Join(parts, ", ")
}

func (v *ValidationProblem) Wire() (Wire, error)           { return v.wire(false, false) }
func (v *ValidationProblem) WireWithLegacy() (Wire, error) { return v.wire(true, true) }

func (v *ValidationProblem) wire(includeLegacy, includeNulls bool) (Wire, error) {
	m, err := v.Problem.wire(includeLegacy, includeNulls)
	if err != nil {
		return nil, err
	}

	entries := make([]Wire, 0, len(v.Errors))
	for _, fe := range v.Errors {
		entry := Wire{
			"field":   fe.Pointer,
			"message": fe.Message,
			"type":    fe.Kind,
		}
		putString(entry, "constraint", fe.Constraint, includeNulls)
		if includeNulls {
			entry["value"] = fe.Value
		}
		entries = append(entries, entry)
	}

	m["errors"] = entries
	m["error_count"] = len(v.Errors)
	putString(m, "error_source", v.Source, includeNulls)
	return m, nil
}
