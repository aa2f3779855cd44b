package problem

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultStatus(t *testing.T) {
	cases := []struct {
		fault  Fault
		status int
		title  string
	}{
		{FaultInternal, 500, "Internal Server Error"},
		{FaultInvalidInput, 400, "Bad Request"},
		{FaultNotFound, 404, "Not Found"},
		{FaultUnauthorized, 401, "Unauthorized"},
		{FaultForbidden, 403, "Forbidden"},
		{FaultConflict, 409, "Conflict"},
		{FaultRateLimited, 429, "Too Many Requests"},
	}
	for _, c := range cases {
		t.Run(c.fault.String(), func(t *testing.T) {
			assert.Equal(t, c.status, c.fault.Status())
			assert.Equal(t, c.title, c.fault.Title())
			assert.NotEmpty(t, c.fault.TypeURI())
			assert.NotEmpty(t, c.fault.SafeDetail())
		})
	}
}

func TestAsFault(t *testing.T) {
	err := Faultf(FaultNotFound, "order %d not found", 42)
	f, ok := AsFault(err)
	assert.True(t, ok)
	assert.Equal(t, FaultNotFound, f)
	assert.Equal(t, "order 42 not found", err.Error())

	wrapped := fmt.Errorf("handling request: %w", err)
	f, ok = AsFault(wrapped)
	assert.True(t, ok)
	assert.Equal(t, FaultNotFound, f)

	f, ok = AsFault(errors.New("plain"))
	assert.False(t, ok)
	assert.Equal(t, FaultInternal, f)
}

func TestFaultErrorUnwrap(t *testing.T) {
	sentinel := errors.New("row not found")
	err := &FaultError{Fault: FaultNotFound, Err: sentinel}
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, "row not found", err.Error())

	bare := &FaultError{Fault: FaultConflict}
	assert.Equal(t, "conflict", bare.Error())
}

func TestNewFaultProblem(t *testing.T) {
	w, err := NewFaultProblem(FaultNotFound, "")
	require.NoError(t, err)
	assert.Equal(t, 404, w.GetStatus())

	wire, err := w.Wire()
	require.NoError(t, err)
	assert.Equal(t, "Resource not found", wire["detail"])
	assert.Equal(t, TypeNotFound, wire["type"])
}

func TestNewFaultProblemInternal(t *testing.T) {
	w, err := NewFaultProblem(FaultInternal, "")
	require.NoError(t, err)

	ise, ok := w.(*InternalServerErrorProblem)
	require.True(t, ok)
	assert.Equal(t, 500, ise.GetStatus())
	assert.NotEmpty(t, ise.ErrorID)
	assert.Equal(t, "An internal server error occurred", ise.Detail)
}
