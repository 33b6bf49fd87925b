// Package errors provides structured error handling for cardrag.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO and data errors (files, partitions, entities)
//   - 3XX: External call errors (embedding, generation, reranking)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file, partition and entity lookup errors.
	CategoryIO Category = "IO"
	// CategoryExternal indicates failures of embedding, generation or rerank calls.
	CategoryExternal Category = "EXTERNAL"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
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
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO and data errors (200-299)
	ErrCodeFileNotFound     = "ERR_201_FILE_NOT_FOUND"
	ErrCodeCorruptIndex     = "ERR_205_CORRUPT_INDEX"
	ErrCodeEntityNotFound   = "ERR_207_ENTITY_NOT_FOUND"
	ErrCodeEntityNotIndexed = "ERR_208_ENTITY_NOT_INDEXED"
	ErrCodePartitionLoad    = "ERR_209_PARTITION_LOAD"
	ErrCodeIndexLocked      = "ERR_210_INDEX_LOCKED"

	// External call errors (300-399)
	ErrCodeNetworkTimeout = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeExternalCall   = "ERR_304_EXTERNAL_CALL"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeParse             = "ERR_407_PARSE"

	// Internal errors (500-599)
	ErrCodeInternal    = "ERR_501_INTERNAL"
	ErrCodeIndexFailed = "ERR_505_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
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
		return CategoryExternal
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodePartitionLoad, ErrCodeParse:
		// Both are absorbed by the caller: the category is treated as
		// empty, or the bad record is skipped.
		return SeverityWarning
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether a caller may reasonably retry.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeExternalCall, ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}
