package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDomainError(t *testing.T) {
	err := fmt.Errorf("start signing: %w", FieldRequired("Login"))

	appErr := From(err)
	require.NotNil(t, appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.Status)
	assert.Equal(t, CodeValidation, appErr.Code)
	require.Len(t, appErr.Details, 1)
	assert.Equal(t, "Login", appErr.Details[0].Field)
}

func TestFromUnknownErrorHidesCause(t *testing.T) {
	cause := errors.New("pq: connection refused on 10.0.0.3")

	appErr := From(cause)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Equal(t, CodeInternal, appErr.Code)
	assert.Equal(t, InternalMessage, appErr.Message)
	assert.NotContains(t, appErr.Message, "10.0.0.3")
	assert.ErrorIs(t, appErr, cause)
}

func TestFromNil(t *testing.T) {
	assert.Nil(t, From(nil))
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, NotFound("x").Status)
	assert.Equal(t, http.StatusBadRequest, StateConflict("x").Status)
	assert.Equal(t, http.StatusBadRequest, Unconfirmed("", "x").Status)
	assert.Equal(t, CodeUnconfirmed, Unconfirmed("", "x").Code)
	assert.Equal(t, "UnconfirmedCertificateIssueStatusError", Unconfirmed("UnconfirmedCertificateIssueStatusError", "x").Code)
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", StateConflict("not signed yet"))
	assert.True(t, Is(err, CodeStateConflict))
	assert.False(t, Is(err, CodeNotFound))
	assert.False(t, Is(errors.New("plain"), CodeStateConflict))
}

func TestWrapKeepsPublicMessage(t *testing.T) {
	cause := errors.New("disk full")
	err := NotFound("Operation not found.").Wrap(cause)
	assert.Equal(t, "Operation not found.", err.Message)
	assert.ErrorIs(t, err, cause)
}
