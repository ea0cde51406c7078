package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		errType    ErrorType
		statusCode int
	}{
		{"validation", NewValidationError("Missing sid"), ErrorTypeValidation, http.StatusBadRequest},
		{"authentication", NewAuthenticationError("Unauthorized"), ErrorTypeAuthentication, http.StatusUnauthorized},
		{"not found", NewNotFoundError("Not found"), ErrorTypeNotFound, http.StatusNotFound},
		{"unavailable", NewUnavailableError("DATABASE_URL not configured"), ErrorTypeUnavailable, http.StatusServiceUnavailable},
		{"internal", NewInternalError("query failed", stderrors.New("conn reset")), ErrorTypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.errType, tt.err.Type)
			assert.Equal(t, tt.statusCode, tt.err.StatusCode)
		})
	}
}

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := stderrors.New("conn reset")
	err := NewInternalError("query failed", cause)

	assert.Equal(t, "internal: query failed (conn reset)", err.Error())
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "not_found: Not found", NewNotFoundError("Not found").Error())
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("loading session: %w", NewNotFoundError("Not found"))
	assert.Equal(t, http.StatusNotFound, As(wrapped).StatusCode)

	plain := As(stderrors.New("boom"))
	assert.Equal(t, ErrorTypeInternal, plain.Type)
	assert.Equal(t, http.StatusInternalServerError, plain.StatusCode)
}
