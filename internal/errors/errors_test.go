package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryFromCode(t *testing.T) {
	tests := []struct {
		code     string
		category Category
	}{
		{ErrCodeInvalidInput, CategoryInput},
		{ErrCodeProviderUnavailable, CategoryProvider},
		{ErrCodeJobStore, CategoryPersistence},
		{ErrCodeMissingCredentials, CategoryConfig},
		{ErrCodeInternal, CategoryInternal},
		{"garbage", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
		})
	}
}

func TestError_Format(t *testing.T) {
	err := New(ErrCodeEmbeddingFailed, "backend down", nil)
	assert.Equal(t, "[ERR_204_EMBEDDING_FAILED] backend down", err.Error())
}

func TestError_UnwrapChain(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrCodeProviderUnavailable, cause)

	require.NotNil(t, err)
	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, cause.Error(), err.Message)
}

func TestError_IsMatchesByCode(t *testing.T) {
	a := New(ErrCodeVectorStore, "write failed", nil)
	b := New(ErrCodeVectorStore, "different message", nil)
	c := New(ErrCodeJobStore, "write failed", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ProviderError("timeout", nil)))
	assert.True(t, IsRetryable(New(ErrCodeVectorStore, "disk", nil)))
	assert.False(t, IsRetryable(InputError("bad vector", nil)))
	assert.False(t, IsRetryable(stderrors.New("plain")))

	// Retryable survives wrapping with %w.
	wrapped := fmt.Errorf("processing job 7: %w", ProviderError("timeout", nil))
	assert.True(t, IsRetryable(wrapped))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeKeywordIndex, "index corrupt", nil).
		WithDetail("path", "/tmp/idx").
		WithDetail("kind", "guide")

	assert.Equal(t, "/tmp/idx", err.Details["path"])
	assert.Equal(t, "guide", err.Details["kind"])
}
