package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetServiceErrorUnwraps(t *testing.T) {
	cause := stderrors.New("row missing")
	wrapped := fmt.Errorf("lookup: %w", NotFound("account not found", cause))

	se := GetServiceError(wrapped)
	require.NotNil(t, se)
	assert.Equal(t, http.StatusNotFound, se.HTTPStatus)
	assert.Equal(t, CodeNotFound, se.Code)
	assert.ErrorIs(t, wrapped, cause)
}

func TestGetServiceErrorPlain(t *testing.T) {
	assert.Nil(t, GetServiceError(stderrors.New("boom")))
}

func TestWithDetailsCopies(t *testing.T) {
	base := Unauthorized("")
	detailed := base.WithDetails("reason", "expired")

	assert.Nil(t, base.Details)
	assert.Equal(t, "expired", detailed.Details["reason"])
	assert.Equal(t, "Unauthorized", detailed.Message)
}

func TestRateLimitExceededDetails(t *testing.T) {
	err := RateLimitExceeded(60, "1m")
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus)
	assert.Equal(t, 60, err.Details["limit"])
	assert.Equal(t, "1m", err.Details["window"])
}
