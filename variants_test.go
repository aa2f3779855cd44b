package problem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticationProblem(t *testing.T) {
	p, err := NewAuthenticationProblem("Token expired")
	require.NoError(t, err)
	assert.Equal(t, 401, p.GetStatus())
	assert.Equal(t, TypeAuthentication, p.Type)

	p.ChallengeScheme = "Bearer"
	p.Realm = "api"
	p.RequiredScopes = []string{"orders:read"}

	wire, err := p.Wire()
	require.NoError(t, err)
	assert.Equal(t, "Bearer", wire["challenge_scheme"])
	assert.Equal(t, "api", wire["realm"])
	assert.Equal(t, []string{"orders:read"}, wire["required_scopes"])

	_, err = NewAuthenticationProblem("nope", WithStatus(403))
	assert.Error(t, err)
}

func TestAuthorizationProblem(t *testing.T) {
	p, err := NewAuthorizationProblem("Admin role required")
	require.NoError(t, err)
	assert.Equal(t, 403, p.GetStatus())

	p.RequiredRole = "admin"
	p.CurrentRole = "viewer"
	p.Resource = "/orders"

	wire, err := p.Wire()
	require.NoError(t, err)
	assert.Equal(t, "admin", wire["required_role"])
	assert.Equal(t, "viewer", wire["current_role"])
	assert.Equal(t, "/orders", wire["resource"])
}

func TestConflictProblem(t *testing.T) {
	p, err := NewConflictProblem("Email already registered")
	require.NoError(t, err)
	assert.Equal(t, 409, p.GetStatus())

	p.ConflictField = "email"
	wire, err := p.Wire()
	require.NoError(t, err)
	assert.Equal(t, "email", wire["conflict_field"])
	_, hasExisting := wire["existing_value"]
	assert.False(t, hasExisting)
}

func TestRateLimitProblem(t *testing.T) {
	p, err := NewRateLimitProblem(100, 60, 30)
	require.NoError(t, err)
	assert.Equal(t, 429, p.GetStatus())
	assert.Equal(t, "Rate limit exceeded. Maximum 100 requests per 60 seconds.", p.Detail)

	p.Remaining = 0
	p.ResetAt = time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)
	wire, err := p.Wire()
	require.NoError(t, err)
	assert.Equal(t, 30, wire["retry_after_seconds"])
	assert.Equal(t, 100, wire["limit"])
	assert.Equal(t, 60, wire["window_seconds"])
	assert.Equal(t, 0, wire["remaining"])
	assert.Equal(t, "2024-05-01T12:01:00Z", wire["reset_at"])
}

func TestRateLimitProblemRejectsNonPositive(t *testing.T) {
	_, err := NewRateLimitProblem(0, 60, 30)
	assert.Error(t, err)
	_, err = NewRateLimitProblem(100, 0, 30)
	assert.Error(t, err)
	_, err = NewRateLimitProblem(100, 60, 0)
	assert.Error(t, err)
}

func TestInternalServerErrorProblem(t *testing.T) {
	p, err := NewInternalServerErrorProblem("")
	require.NoError(t, err)
	assert.Equal(t, 500, p.GetStatus())
	assert.Equal(t, "An unexpected error occurred", p.Detail)
	assert.NotEmpty(t, p.ErrorID)

	other, err := NewInternalServerErrorProblem("")
	require.NoError(t, err)
	assert.NotEqual(t, p.ErrorID, other.ErrorID)

	p.SupportURL = "https://support.example.com"
	wire, err := p.Wire()
	require.NoError(t, err)
	assert.Equal(t, p.ErrorID, wire["error_id"])
	assert.Equal(t, "https://support.example.com", wire["support_url"])
}

func TestInternalServerErrorProblemStatusRange(t *testing.T) {
	p, err := NewInternalServerErrorProblem("upstream timed out", WithStatus(503))
	require.NoError(t, err)
	assert.Equal(t, 503, p.GetStatus())

	_, err = NewInternalServerErrorProblem("nope", WithStatus(404))
	assert.Error(t, err)
}
