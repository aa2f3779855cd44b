package problem

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Well-known problem type URIs for the documents this package builds.
const (
	TypeValidation          = "https://api.example.com/errors/validation"
	TypeAuthentication      = "https://api.example.com/errors/authentication"
	TypeAuthorization       = "https://api.example.com/errors/authorization"
	TypeConflict            = "https://api.example.com/errors/conflict"
	TypeRateLimit           = "https://api.example.com/errors/rate-limit"
	TypeInternalServerError = "https://api.example.com/errors/internal-server-error"
	TypeBadRequest          = "https://api.example.com/errors/bad-request"
	TypeNotFound            = "https://api.example.com/errors/not-found"
	TypeForbidden           = "https://api.example.com/errors/forbidden"
)

// AuthenticationProblem is a 401 document carrying the challenge
// information a client needs to retry with credentials.
type AuthenticationProblem struct {
	Problem
	ChallengeScheme string
	Realm           string
	RequiredScopes  []string
}

// NewAuthenticationProblem builds a 401 problem. Challenge fields are
// set on the returned value as needed.
func NewAuthenticationProblem(detail string, opts ...Option) (*AuthenticationProblem, error) {
	p, err := New(TypeAuthentication, "Unauthorized", http.StatusUnauthorized, detail, opts...)
	if err != nil {
		return nil, err
	}
	if err := validateStatus(p.Status, 401, 401); err != nil {
		return nil, err
	}
	return &AuthenticationProblem{Problem: *p}, nil
}

func (a *AuthenticationProblem) Wire() (Wire, error)           { return a.wire(false, false) }
func (a *AuthenticationProblem) WireWithLegacy() (Wire, error) { return a.wire(true, true) }

func (a *AuthenticationProblem) wire(includeLegacy, includeNulls bool) (Wire, error) {
	m, err := a.Problem.wire(includeLegacy, includeNulls)
	if err != nil {
		return nil, err
	}
	putString(m, "challenge_scheme", a.ChallengeScheme, includeNulls)
	putString(m, "realm", a.Realm, includeNulls)
	if len(a.RequiredScopes) > 0 {
		m["required_scopes"] = append([]string(nil), a.RequiredScopes...)
	} else if includeNulls {
		m["required_scopes"] = nil
	}
	return m, nil
}

// AuthorizationProblem is a 403 document describing the missing
// permission.
type AuthorizationProblem struct {
	Problem
	RequiredRole string
	CurrentRole  string
	Resource     string
}

func NewAuthorizationProblem(detail string, opts ...Option) (*AuthorizationProblem, error) {
	p, err := New(TypeAuthorization, "Forbidden", http.StatusForbidden, detail, opts...)
	if err != nil {
		return nil, err
	}
	if err := validateStatus(p.Status, 403, 403); err != nil {
		return nil, err
	}
	return &AuthorizationProblem{Problem: *p}, nil
}

func (a *AuthorizationProblem) Wire() (Wire, error)           { return a.wire(false, false) }
func (a *AuthorizationProblem) WireWithLegacy() (Wire, error) { return a.wire(true, true) }

func (a *AuthorizationProblem) wire(includeLegacy, includeNulls bool) (Wire, error) {
	m, err := a.Problem.wire(includeLegacy, includeNulls)
	if err != nil {
		return nil, err
	}
	putString(m, "required_role", a.RequiredRole, includeNulls)
	putString(m, "current_role", a.CurrentRole, includeNulls)
	putString(m, "resource", a.Resource, includeNulls)
	return m, nil
}

// ConflictProblem is a 409 document for requests that clash with
// current state, e.g. duplicate identifiers.
type ConflictProblem struct {
	Problem
	ConflictField string
	// ExistingValue should be masked by the caller when sensitive.
	ExistingValue string
}

func NewConflictProblem(detail string, opts ...Option) (*ConflictProblem, error) {
	p, err := New(TypeConflict, "Conflict", http.StatusConflict, detail, opts...)
	if err != nil {
		return nil, err
	}
	if err := validateStatus(p.Status, 409, 409); err != nil {
		return nil, err
	}
	return &ConflictProblem{Problem: *p}, nil
}

func (c *ConflictProblem) Wire() (Wire, error)           { return c.wire(false, false) }
func (c *ConflictProblem) WireWithLegacy() (Wire, error) { return c.wire(true, true) }

func (c *ConflictProblem) wire(includeLegacy, includeNulls bool) (Wire, error) {
	m, err := c.Problem.wire(includeLegacy, includeNulls)
	if err != nil {
		return nil, err
	}
	putString(m, "conflict_field", c.ConflictField, includeNulls)
	putString(m, "existing_value", c.ExistingValue, includeNulls)
	return m, nil
}

// RateLimitProblem is a 429 document carrying the limiter state the
// client needs to back off correctly.
type RateLimitProblem struct {
	Problem
	RetryAfterSeconds int
	Limit             int
	WindowSeconds     int
	Remaining         int
	ResetAt           time.Time
}

// NewRateLimitProblem builds a 429 problem with a generated detail
// line describing the limit.
func NewRateLimitProblem(limit, windowSeconds, retryAfterSeconds int, opts ...Option) (*RateLimitProblem, error) {
	detail := fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %d seconds.", limit, windowSeconds)
	p, err := New(TypeRateLimit, "Too Many Requests", http.StatusTooManyRequests, detail, opts...)
	if err != nil {
		return nil, err
	}
	if err := validateStatus(p.Status, 429, 429); err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, &InvalidFieldError{Field: "limit", Value: limit, Reason: "must be >= 1"}
	}
	if windowSeconds < 1 {
		return nil, &InvalidFieldError{Field: "window_seconds", Value: windowSeconds, Reason: "must be >= 1"}
	}
	if retryAfterSeconds < 1 {
		return nil, &InvalidFieldError{Field: "retry_after_seconds", Value: retryAfterSeconds, Reason: "must be >= 1"}
	}
	return &RateLimitProblem{
		Problem:           *p,
		RetryAfterSeconds: retryAfterSeconds,
		Limit:             limit,
		WindowSeconds:     windowSeconds,
	}, nil
}

func (r *RateLimitProblem) Wire() (Wire, error)           { return r.wire(false, false) }
func (r *RateLimitProblem) WireWithLegacy() (Wire, error) { return r.wire(true, true) }

func (r *RateLimitProblem) wire(includeLegacy, includeNulls bool) (Wire, error) {
	m, err := r.Problem.wire(includeLegacy, includeNulls)
	if err != nil {
		return nil, err
	}
	m["retry_after_seconds"] = r.RetryAfterSeconds
	m["limit"] = r.Limit
	m["window_seconds"] = r.WindowSeconds
	m["remaining"] = r.Remaining
	if !r.ResetAt.IsZero() {
		m["reset_at"] = r.ResetAt.Format(time.RFC3339)
	} else if includeNulls {
		m["reset_at"] = nil
	}
	return m, nil
}

// InternalServerErrorProblem is a 5xx document. The detail should stay
// generic; the ErrorID is what support staff correlate with logs.
type InternalServerErrorProblem struct {
	Problem
	ErrorID    string
	SupportURL string
}

// NewInternalServerErrorProblem builds a 5xx problem. An empty detail
// gets the generic text, and a fresh ErrorID is generated when none is
// supplied. Use WithStatus for codes other than 500.
func NewInternalServerErrorProblem(detail string, opts ...Option) (*InternalServerErrorProblem, error) {
	if detail == "" {
		detail = "An unexpected error occurred"
	}
	p, err := New(TypeInternalServerError, "Internal Server Error", http.StatusInternalServerError, detail, opts...)
	if err != nil {
		return nil, err
	}
	if err := validateStatus(p.Status, 500, 599); err != nil {
		return nil, err
	}
	return &InternalServerErrorProblem{
		Problem: *p,
		ErrorID: uuid.NewString(),
	}, nil
}

func (i *InternalServerErrorProblem) Wire() (Wire, error)           { return i.wire(false, false) }
func (i *InternalServerErrorProblem) WireWithLegacy() (Wire, error) { return i.wire(true, true) }

func (i *InternalServerErrorProblem) wire(includeLegacy, includeNulls bool) (Wire, error) {
	m, err := i.Problem.wire(includeLegacy, includeNulls)
	if err != nil {
		return nil, err
	}
	putString(m, "error_id", i.ErrorID, includeNulls)
	putString(m, "support_url", i.SupportURL, includeNulls)
	return m, nil
}
