package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesClassificationFromCode(t *testing.T) {
	err := New(ErrCodeSessionFileNotFound, "session file not found", nil)

	assert.Equal(t, ErrCodeSessionFileNotFound, err.Code)
	assert.Equal(t, CategoryIO, err.Category)
	assert.Equal(t, SeverityError, err.Severity)
	assert.False(t, err.Retryable)
	assert.Equal(t, "[ERR_201_SESSION_FILE_NOT_FOUND] session file not found", err.Error())
}

func TestNew_CategoryRanges(t *testing.T) {
	assert.Equal(t, CategoryConfig, New(ErrCodeConfigNotFound, "", nil).Category)
	assert.Equal(t, CategoryIO, New(ErrCodeFilePermission, "", nil).Category)
	assert.Equal(t, CategoryProtocol, New(ErrCodeSocketUnavailable, "", nil).Category)
	assert.Equal(t, CategoryValidation, New(ErrCodeInvalidIdentity, "", nil).Category)
	assert.Equal(t, CategoryInternal, New(ErrCodeWatchConflict, "", nil).Category)
	assert.Equal(t, CategoryInternal, New("BAD", "", nil).Category)
}

func TestNew_RetryableCodes(t *testing.T) {
	assert.True(t, New(ErrCodeSocketUnavailable, "", nil).Retryable)
	assert.True(t, New(ErrCodeRequestTimeout, "", nil).Retryable)
	assert.True(t, New(ErrCodeIndexNotReady, "", nil).Retryable)
	assert.False(t, New(ErrCodeInternal, "", nil).Retryable)
	assert.False(t, New(ErrCodeFileNotEdited, "", nil).Retryable)
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := stderrors.New("permission denied")
	err := Wrap(ErrCodeFilePermission, cause)

	require.NotNil(t, err)
	assert.Equal(t, "permission denied", err.Message)
	assert.ErrorIs(t, err, cause)
}

func TestWrap_NilError(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeWatchConflict, "one", nil)
	b := New(ErrCodeWatchConflict, "other", nil)
	c := New(ErrCodeEngineClosed, "", nil)

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, c)
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeInvalidIdentity, "bad identity", nil).
		WithDetail("project", "/p").
		WithDetail("session", "s1")

	assert.Equal(t, "/p", err.Details["project"])
	assert.Equal(t, "s1", err.Details["session"])
}

func TestAccessors_ForeignErrors(t *testing.T) {
	plain := stderrors.New("plain")

	assert.Equal(t, "", GetCode(plain))
	assert.Equal(t, Category(""), GetCategory(plain))
	assert.False(t, IsRetryable(plain))
}

func TestAccessors_LensErrors(t *testing.T) {
	err := New(ErrCodeRequestTimeout, "timed out", nil)

	assert.Equal(t, ErrCodeRequestTimeout, GetCode(err))
	assert.Equal(t, CategoryProtocol, GetCategory(err))
	assert.True(t, IsRetryable(err))
}
