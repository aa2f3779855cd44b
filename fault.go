package problem

import (
	"errors"
	"fmt"
	"net/http"
)

// Fault is a closed classification of failure conditions, decoupled
// from any language or framework exception hierarchy. Calling code
// maps its own errors into a Fault before handing them to this
// package; the interceptors then select status, title and type URI
// from it.
type Fault int

const (
	FaultInternal Fault = iota
	FaultInvalidInput
	FaultNotFound
	FaultUnauthorized
	FaultForbidden
	FaultConflict
	FaultRateLimited
)

func (f Fault) String() string {
	switch f {
	case FaultInvalidInput:
		return "invalid_input"
	case FaultNotFound:
		return "not_found"
	case FaultUnauthorized:
		return "unauthorized"
	case FaultForbidden:
		return "forbidden"
	case FaultConflict:
		return "conflict"
	case FaultRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Status returns the HTTP status code for the fault.
func (f Fault) Status() int {
	switch f {
	case FaultInvalidInput:
		return http.StatusBadRequest
	case FaultNotFound:
		return http.StatusNotFound
	case FaultUnauthorized:
		return http.StatusUnauthorized
	case FaultForbidden:
		return http.StatusForbidden
	case FaultConflict:
		return http.StatusConflict
	case FaultRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Title returns the stable problem title for the fault.
func (f Fault) Title() string {
	switch f {
	case FaultInvalidInput:
		return "Bad Request"
	case FaultNotFound:
		return "Not Found"
	case FaultUnauthorized:
		return "Unauthorized"
	case FaultForbidden:
		return "Forbidden"
	case FaultConflict:
		return "Conflict"
	case FaultRateLimited:
		return "Too Many Requests"
	default:
		return "Internal Server Error"
	}
}

// TypeURI returns the problem type URI for the fault.
func (f Fault) TypeURI() string {
	switch f {
	case FaultInvalidInput:
		return TypeBadRequest
	case FaultNotFound:
		return TypeNotFound
	case FaultUnauthorized:
		return TypeAuthentication
	case FaultForbidden:
		return TypeForbidden
	case FaultConflict:
		return TypeConflict
	case FaultRateLimited:
		return TypeRateLimit
	default:
		return TypeInternalServerError
	}
}

// SafeDetail is the generic client-facing message substituted for the
// underlying error text when internal details must not leak.
func (f Fault) SafeDetail() string {
	switch f {
	case FaultInvalidInput:
		return "Invalid input or operation"
	case FaultNotFound:
		return "Resource not found"
	case FaultUnauthorized:
		return "Authentication required"
	case FaultForbidden:
		return "You do not have permission to access this resource"
	case FaultConflict:
		return "The request conflicts with the current state"
	case FaultRateLimited:
		return "Rate limit exceeded"
	default:
		return "An internal server error occurred"
	}
}

// FaultError tags an underlying error with a fault category so the
// interceptor can classify it without inspecting concrete types.
type FaultError struct {
	Fault Fault
	Err   error
}

func (e *FaultError) Error() string {
	if e.Err == nil {
		return e.Fault.String()
	}
	return e.Err.Error()
}

func (e *FaultError) Unwrap() error { return e.Err }

// Faultf builds a fault-tagged error from a format string.
func Faultf(f Fault, format string, args ...any) error {
	return &FaultError{Fault: f, Err: fmt.Errorf(format, args...)}
}

// AsFault extracts the fault category from an error chain. Untagged
// errors classify as FaultInternal with ok=false.
func AsFault(err error) (Fault, bool) {
	var fe *FaultError
	if errors.As(err, &fe) {
		return fe.Fault, true
	}
	return FaultInternal, false
}

// NewFaultProblem builds the problem document appropriate for a fault.
// Internal faults get an InternalServerErrorProblem with a fresh
// error id; everything else gets a base Problem.
func NewFaultProblem(f Fault, detail string, opts ...Option) (Wirer, error) {
	if detail == "" {
		detail = f.SafeDetail()
	}
	if f == FaultInternal {
		return NewInternalServerErrorProblem(detail, opts...)
	}
	return New(f.TypeURI(), f.Title(), f.Status(), detail, opts...)
}
