// Package errors provides structured error handling for docsearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Input errors (blank text, mismatched vectors)
//   - 2XX: Provider errors (embedding backend unreachable, bad responses)
//   - 3XX: Persistence errors (job store, vector store, keyword index)
//   - 4XX: Configuration errors (missing credentials, invalid settings)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryInput indicates invalid caller input.
	CategoryInput Category = "INPUT"
	// CategoryProvider indicates embedding backend failures.
	CategoryProvider Category = "PROVIDER"
	// CategoryPersistence indicates storage failures (jobs, vectors, indexes).
	CategoryPersistence Category = "PERSISTENCE"
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Input errors (100-199)
	ErrCodeInvalidInput      = "ERR_101_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_102_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_103_QUERY_EMPTY"

	// Provider errors (200-299)
	ErrCodeProviderUnavailable = "ERR_201_PROVIDER_UNAVAILABLE"
	ErrCodeProviderTimeout     = "ERR_202_PROVIDER_TIMEOUT"
	ErrCodeProviderResponse    = "ERR_203_PROVIDER_RESPONSE"
	ErrCodeEmbeddingFailed     = "ERR_204_EMBEDDING_FAILED"

	// Persistence errors (300-399)
	ErrCodeJobStore     = "ERR_301_JOB_STORE"
	ErrCodeVectorStore  = "ERR_302_VECTOR_STORE"
	ErrCodeKeywordIndex = "ERR_303_KEYWORD_INDEX"

	// Configuration errors (400-499)
	ErrCodeConfigInvalid      = "ERR_401_CONFIG_INVALID"
	ErrCodeMissingCredentials = "ERR_402_MISSING_CREDENTIALS"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryInput
	case '2':
		return CategoryProvider
	case '3':
		return CategoryPersistence
	case '4':
		return CategoryConfig
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	if code == ErrCodeMissingCredentials {
		// Fatal for the provider being constructed, not the process; the
		// factory degrades to the no-op provider.
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Provider and persistence failures go back through the job retry cycle.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderUnavailable, ErrCodeProviderTimeout,
		ErrCodeProviderResponse, ErrCodeEmbeddingFailed,
		ErrCodeJobStore, ErrCodeVectorStore:
		return true
	default:
		return false
	}
}
