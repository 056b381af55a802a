package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    string
	}{
		{Unknown, "unknown"},
		{Network, "network"},
		{Timeout, "timeout"},
		{RateLimit, "rate_limit"},
		{Auth, "auth"},
		{NotFound, "not_found"},
		{ServerError, "server_error"},
		{ClientError, "client_error"},
		{Parse, "parse"},
		{Archive, "archive"},
		{Storage, "storage"},
		{Validation, "validation"},
		{Cancelled, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.errType.String())
		})
	}
}

func TestErrorType_IsRetryable(t *testing.T) {
	tests := []struct {
		errType   ErrorType
		retryable bool
	}{
		{Network, true},
		{Timeout, true},
		{RateLimit, true},
		{ServerError, true},
		{Auth, false},
		{NotFound, false},
		{ClientError, false},
		{Parse, false},
		{Archive, false},
		{Storage, false},
		{Validation, false},
		{Cancelled, false},
		{Unknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.errType.String(), func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.errType.IsRetryable())
		})
	}
}

func TestScanError_Error(t *testing.T) {
	err := New(Network, "https://example.com", "fetch", "connection failed", nil)

	msg := err.Error()
	assert.Contains(t, msg, "network")
	assert.Contains(t, msg, "fetch")
	assert.Contains(t, msg, "https://example.com")
	assert.Contains(t, msg, "connection failed")
}

func TestScanError_Error_WithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := New(Network, "https://example.com", "fetch", "connection failed", cause)

	assert.Contains(t, err.Error(), "underlying error")
}

func TestScanError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(Network, "https://example.com", "fetch", "failed", cause)

	assert.Same(t, cause, err.Unwrap())
	assert.True(t, errors.Is(err, cause))
}

func TestScanError_Is(t *testing.T) {
	err1 := New(Network, "https://example.com", "fetch", "failed", nil)
	err2 := New(Network, "https://other.com", "request", "timeout", nil)
	err3 := New(Timeout, "https://example.com", "fetch", "timeout", nil)

	assert.True(t, errors.Is(err1, err2), "errors with same type should match")
	assert.False(t, errors.Is(err1, err3), "errors with different types should not match")
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *ScanError
		wantType   ErrorType
		wantStatus int
		retryable  bool
	}{
		{"network", NewNetworkError("u", "connect", nil), Network, 0, true},
		{"timeout", NewTimeoutError("u", "request", nil), Timeout, 0, true},
		{"rate limit", NewRateLimitError("u", 60), RateLimit, 429, true},
		{"auth", NewAuthError("u", 401, "unauthorized"), Auth, 401, false},
		{"not found", NewNotFoundError("u"), NotFound, 404, false},
		{"server", NewServerError("u", 503), ServerError, 503, true},
		{"client", NewClientError("u", 400), ClientError, 400, false},
		{"parse", NewParseError("u", "html_parse", nil), Parse, 0, false},
		{"archive", NewArchiveError("/tmp/a.zip", "extract", nil), Archive, 0, false},
		{"storage", NewStorageError("save_scan", nil), Storage, 0, false},
		{"validation", NewValidationError("target", "invalid URL"), Validation, 0, false},
		{"cancelled", NewCancelledError("u", "crawl"), Cancelled, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.StatusCode)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
		})
	}
}

func TestCategorize_ScanError(t *testing.T) {
	original := NewNetworkError("https://example.com", "fetch", nil)
	categorized := Categorize(original, "https://example.com")

	assert.Same(t, original, categorized)
}

func TestCategorize_Nil(t *testing.T) {
	assert.Nil(t, Categorize(nil, "https://example.com"))
}

func TestCategorize_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	categorized := Categorize(ctx.Err(), "https://example.com")
	require.NotNil(t, categorized)
	assert.Equal(t, Cancelled, categorized.Type)
}

func TestCategorize_DeadlineExceeded(t *testing.T) {
	categorized := Categorize(context.DeadlineExceeded, "https://example.com")
	require.NotNil(t, categorized)
	assert.Equal(t, Timeout, categorized.Type)
}

func TestCategorize_Unknown(t *testing.T) {
	categorized := Categorize(errors.New("some random error"), "https://example.com")
	require.NotNil(t, categorized)
	assert.Equal(t, Unknown, categorized.Type)
}

func TestCategorizeHTTPStatus(t *testing.T) {
	tests := []struct {
		status   int
		wantType ErrorType
		wantNil  bool
	}{
		{200, Unknown, true},
		{201, Unknown, true},
		{301, Unknown, true},
		{401, Auth, false},
		{403, Auth, false},
		{404, NotFound, false},
		{429, RateLimit, false},
		{400, ClientError, false},
		{418, ClientError, false},
		{500, ServerError, false},
		{502, ServerError, false},
		{503, ServerError, false},
	}

	for _, tt := range tests {
		err := CategorizeHTTPStatus(tt.status, "https://example.com")
		if tt.wantNil {
			assert.Nil(t, err, "status %d", tt.status)
			continue
		}
		require.NotNil(t, err, "status %d", tt.status)
		assert.Equal(t, tt.wantType, err.Type, "status %d", tt.status)
		assert.Equal(t, tt.status, err.StatusCode)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"network error", NewNetworkError("url", "op", nil), true},
		{"timeout error", NewTimeoutError("url", "op", nil), true},
		{"auth error", NewAuthError("url", 401, "unauth"), false},
		{"not found", NewNotFoundError("url"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestGetStatusCode(t *testing.T) {
	assert.Equal(t, 503, GetStatusCode(NewServerError("url", 503)))
	assert.Equal(t, 0, GetStatusCode(nil))
	assert.Equal(t, 0, GetStatusCode(errors.New("plain")))
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, Timeout, GetErrorType(NewTimeoutError("url", "op", nil)))
	assert.Equal(t, Unknown, GetErrorType(nil))
}
