package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKBError_Unwrap_PreservesCause(t *testing.T) {
	// Given: an underlying error
	cause := errors.New("open kb_chunks.jsonl: no such file or directory")

	// When: wrapping it
	err := New(ErrCodeKBNotFound, "corpus file missing", cause)

	// Then: the chain still reaches the cause
	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestKBError_Error_IncludesCode(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config", ErrCodeConfigInvalid, "bad backend", "[ERR_102_CONFIG_INVALID] bad backend"},
		{"kb", ErrCodeKBNotFound, "no corpus", "[ERR_201_KB_NOT_FOUND] no corpus"},
		{"provider", ErrCodeEmbedTimeout, "timed out", "[ERR_301_EMBED_TIMEOUT] timed out"},
		{"validation", ErrCodeQueryTooShort, "too short", "[ERR_403_QUERY_TOO_SHORT] too short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, tt.message, nil).Error())
		})
	}
}

func TestKBError_Is_MatchesByCode(t *testing.T) {
	a := New(ErrCodeCorpusMisaligned, "3 rows vs 4 chunks", nil)
	b := New(ErrCodeCorpusMisaligned, "other", nil)
	c := New(ErrCodeMatrixCorrupt, "other", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestKBError_DerivedFields(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityFatal, false},
		{ErrCodeKBNotFound, CategoryIO, SeverityWarning, false},
		{ErrCodeLockTimeout, CategoryIO, SeverityWarning, true},
		{ErrCodeEmbedTimeout, CategoryProvider, SeverityWarning, true},
		{ErrCodeDimensionMismatch, CategoryValidation, SeverityError, false},
		{ErrCodeScoreDrift, CategoryInternal, SeverityError, false},
		{"BAD", CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestHelpers_SeeThroughFmtWrapping(t *testing.T) {
	// Given: a KBError wrapped by fmt.Errorf
	inner := New(ErrCodeEmbedRateLimited, "429", nil)
	outer := fmt.Errorf("embedding query: %w", inner)

	// Then: helpers still find it
	assert.Equal(t, ErrCodeEmbedRateLimited, GetCode(outer))
	assert.Equal(t, CategoryProvider, GetCategory(outer))
	assert.True(t, IsRetryable(outer))
	assert.False(t, IsFatal(outer))
}

func TestHelpers_PlainErrors(t *testing.T) {
	err := errors.New("plain")

	assert.Empty(t, GetCode(err))
	assert.Empty(t, GetCategory(err))
	assert.False(t, IsRetryable(err))
	assert.False(t, IsRetryable(nil))
}

func TestKBError_WithDetailAndSuggestion(t *testing.T) {
	err := New(ErrCodeDimensionMismatch, "query has 3 dims", nil).
		WithDetail("expected", "768").
		WithSuggestion("use the model that built the matrix")

	assert.Equal(t, "768", err.Details["expected"])
	assert.Equal(t, "use the model that built the matrix", err.Suggestion)
}

func TestFormatForCLI(t *testing.T) {
	err := New(ErrCodeKBNotFound, "corpus file missing", nil).
		WithSuggestion("set kb.dir in .kbcontext.yaml")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: corpus file missing")
	assert.Contains(t, out, "Hint: set kb.dir in .kbcontext.yaml")
	assert.Contains(t, out, "Code: ERR_201_KB_NOT_FOUND")
	assert.Contains(t, FormatForCLI(errors.New("boom")), "ERR_501_INTERNAL")
	assert.Empty(t, FormatForCLI(nil))
}

func TestLogAttrs(t *testing.T) {
	err := New(ErrCodeMatrixCorrupt, "bad header", errors.New("eof")).
		WithDetail("path", "kb_embeddings.npy").
		WithDetail("bytes", "12")

	attrs := LogAttrs(err)

	keys := make([]string, len(attrs))
	for i, a := range attrs {
		keys[i] = a.Key
	}
	assert.Equal(t, []string{"error_code", "error", "category", "retryable", "cause", "detail_bytes", "detail_path"}, keys)
	assert.Len(t, LogArgs(err), len(attrs))
	assert.Equal(t, "error", LogAttrs(errors.New("x"))[0].Key)
	assert.Nil(t, LogAttrs(nil))
}
