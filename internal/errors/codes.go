// Package errors provides the coded error type shared by the knowledge base
// loader, the embedding providers and the retrieval service.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Knowledge base I/O errors (corpus, embedding matrix, locks)
//   - 3XX: Embedding provider errors
//   - 4XX: Validation errors (queries, vectors, k)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryIO         Category = "IO"
	CategoryProvider   Category = "PROVIDER"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal aborts the command that hit it. Never used inside retrieval.
	SeverityFatal Severity = "FATAL"
	// SeverityError means the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning means the operation continued in a degraded mode.
	SeverityWarning Severity = "WARNING"
)

const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Knowledge base errors (200-299)
	ErrCodeKBNotFound       = "ERR_201_KB_NOT_FOUND"
	ErrCodeKBUnreadable     = "ERR_202_KB_UNREADABLE"
	ErrCodeMatrixCorrupt    = "ERR_203_MATRIX_CORRUPT"
	ErrCodeCorpusMisaligned = "ERR_204_CORPUS_MISALIGNED"
	ErrCodeLockTimeout      = "ERR_205_LOCK_TIMEOUT"

	// Embedding provider errors (300-399)
	ErrCodeEmbedTimeout     = "ERR_301_EMBED_TIMEOUT"
	ErrCodeEmbedUnavailable = "ERR_302_EMBED_UNAVAILABLE"
	ErrCodeEmbedRateLimited = "ERR_303_EMBED_RATE_LIMITED"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryTooShort     = "ERR_403_QUERY_TOO_SHORT"
	ErrCodeInvalidK          = "ERR_404_INVALID_K"
	ErrCodeDegenerateVector  = "ERR_405_DEGENERATE_VECTOR"

	// Internal errors (500-599)
	ErrCodeInternal         = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed  = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSnapshotRejected = "ERR_503_SNAPSHOT_REJECTED"
	ErrCodeScoreDrift       = "ERR_504_SCORE_DRIFT"
)

// categoryFromCode reads the hundreds digit of the code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfigInvalid:
		return SeverityFatal
	case ErrCodeKBNotFound, ErrCodeCorpusMisaligned, ErrCodeMatrixCorrupt, ErrCodeSnapshotRejected:
		// The service keeps answering from the keyword path or the prior snapshot.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbedTimeout, ErrCodeEmbedUnavailable, ErrCodeEmbedRateLimited, ErrCodeLockTimeout:
		return true
	default:
		return false
	}
}
