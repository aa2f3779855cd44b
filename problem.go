// Package problem implements RFC 7807 "Problem Details" documents for
// HTTP APIs, with a validation-failure mapper (RFC 6901 field pointers)
// and pure converters to the legacy wire shapes kept alive during a
// format migration. Client detection and rollout policy live in the
// compat subpackage; transport adapters live under middleware and
// adapters.
package problem

import (
	"fmt"
	"strings"
	"time"
)

// Wire is a serialized problem document ready for a codec. Converters
// in format.go operate on this shape rather than on concrete problem
// types so they stay independent of the model.
type Wire = map[string]any

// Wirer is implemented by every problem document. Wire returns the
// strict RFC 7807 object; WireWithLegacy additionally forces the
// legacy compatibility fields and null members into the output.
type Wirer interface {
	Wire() (Wire, error)
	WireWithLegacy() (Wire, error)
	GetStatus() int
}

// InvalidFieldError reports a document invariant violation at
// construction time, carrying the offending field name and value.
type InvalidFieldError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("problem: invalid %s: %s (got %v)", e.Field, e.Reason, e.Value)
}

// SerializationError indicates a required wire member was absent after
// the exclusion rules ran. Given the constructor invariants this is
// unreachable from correct construction and signals a model bug.
type SerializationError struct {
	Field string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("problem: serialized document is missing required member %q", e.Field)
}

// Problem is the base RFC 7807 document. The legacy fields are only
// serialized by WireWithLegacy and exist to keep pre-migration API
// contracts alive.
type Problem struct {
	// Type is a URI reference identifying the problem category. It must
	// start with "http://", "https://", "urn:", "#" or "/".
	Type string

	// Title is a short, stable summary of the problem type.
	Title string

	// Status is the HTTP status code, 100-599. Concrete variants narrow
	// this range further.
	Status int

	// Detail is a human-readable explanation of this occurrence.
	Detail string

	// Instance optionally identifies the specific occurrence, usually
	// for correlation.
	Instance string

	// LegacyCode, Timestamp and RequestID predate the RFC 7807 rollout
	// and are excluded from strict serialization.
	LegacyCode string
	Timestamp  time.Time
	RequestID  string
}

// Option mutates a Problem during construction.
type Option func(*Problem)

// WithInstance sets the occurrence URI.
func WithInstance(instance string) Option {
	return func(p *Problem) { p.Instance = instance }
}

// WithStatus overrides the default status code of a constructor. The
// constructor still enforces its own range.
func WithStatus(status int) Option {
	return func(p *Problem) { p.Status = status }
}

// WithLegacyCode sets the pre-migration error code.
func WithLegacyCode(code string) Option {
	return func(p *Problem) { p.LegacyCode = code }
}

// WithRequestID sets the legacy request correlation id. The timestamp
// is filled in automatically when a request id is tracked without one.
func WithRequestID(id string) Option {
	return func(p *Problem) { p.RequestID = id }
}

// WithTimestamp sets the legacy occurrence timestamp.
func WithTimestamp(ts time.Time) Option {
	return func(p *Problem) { p.Timestamp = ts }
}

// New builds and validates a base Problem.
func New(problemType, title string, status int, detail string, opts ...Option) (*Problem, error) {
	p := &Problem{
		Type:   strings.TrimSpace(problemType),
		Title:  title,
		Status: status,
		Detail: detail,
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Timestamp.IsZero() && p.RequestID != "" {
		p.Timestamp = time.Now().UTC()
	}
	return p, nil
}

// Validate enforces the document invariants. Constructors call this;
// it is exported for callers that fill in struct literals directly.
func (p *Problem) Validate() error {
	if err := validateType(p.Type); err != nil {
		return err
	}
	if err := validateStatus(p.Status, 100, 599); err != nil {
		return err
	}
	if strings.TrimSpace(p.Title) == "" {
		return &InvalidFieldError{Field: "title", Value: p.Title, Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.Detail) == "" {
		return &InvalidFieldError{Field: "detail", Value: p.Detail, Reason: "must not be empty"}
	}
	return nil
}

func validateType(v string) error {
	for _, prefix := range []string{"http://", "https://", "urn:", "#", "/"} {
		if strings.HasPrefix(v, prefix) {
			return nil
		}
	}
	return &InvalidFieldError{Field: "type", Value: v, Reason: "must be a URI reference"}
}

func validateStatus(v, lo, hi int) error {
	if v < lo || v > hi {
		return &InvalidFieldError{
			Field:  "status",
			Value:  v,
			Reason: fmt.Sprintf("must be in [%d, %d]", lo, hi),
		}
	}
	return nil
}

// Error satisfies the error interface so a problem can travel through
// error-returning call chains.
func (p *Problem) Error() string {
	return p.Detail
}

// GetStatus returns the HTTP status code for the response writer.
func (p *Problem) GetStatus() int {
	return p.Status
}

// ContentType upgrades generic media types to their problem-specific
// counterparts after the codec has been negotiated.
func (p *Problem) ContentType(ct string) string {
	switch ct {
	case "application/json":
		return "application/problem+json"
	case "application/cbor":
		return "application/problem+cbor"
	}
	return ct
}

// Wire emits the strict RFC 7807 object: legacy fields and null
// members are excluded.
func (p *Problem) Wire() (Wire, error) {
	return p.wire(false, false)
}

// WireWithLegacy emits the migration-era object: legacy compatibility
// fields and null members are forced into the output.
func (p *Problem) WireWithLegacy() (Wire, error) {
	return p.wire(true, true)
}

func (p *Problem) wire(includeLegacy, includeNulls bool) (Wire, error) {
	m := Wire{
		"type":   p.Type,
		"title":  p.Title,
		"status": p.Status,
		"detail": p.Detail,
	}
	putString(m, "instance", p.Instance, includeNulls)
	if includeLegacy {
		putString(m, "legacy_code", p.LegacyCode, includeNulls)
		putString(m, "request_id", p.RequestID, includeNulls)
		if !p.Timestamp.IsZero() {
			m["timestamp"] = p.Timestamp.Format(time.RFC3339)
		} else if includeNulls {
			m["timestamp"] = nil
		}
	}
	return m, assertRequired(m)
}

// assertRequired is the defensive serialization contract check: the
// four mandatory RFC 7807 members must survive the exclusion rules.
func assertRequired(m Wire) error {
	for _, key := range []string{"type", "title", "status", "detail"} {
		if v, ok := m[key]; !ok || v == nil || v == "" {
			return &SerializationError{Field: key}
		}
	}
	return nil
}

func putString(m Wire, key, value string, includeNulls bool) {
	if value != "" {
		m[key] = value
	} else if includeNulls {
		m[key] = nil
	}
}
