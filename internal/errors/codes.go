// Package errors provides structured error handling for SessionLens.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (session files, disk)
//   - 3XX: Protocol errors (daemon socket)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates session file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryProtocol indicates daemon socket protocol errors.
	CategoryProtocol Category = "PROTOCOL"
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

	// IO errors (200-299)
	ErrCodeSessionFileNotFound = "ERR_201_SESSION_FILE_NOT_FOUND"
	ErrCodeFilePermission      = "ERR_202_FILE_PERMISSION"
	ErrCodeTranscriptCorrupt   = "ERR_203_TRANSCRIPT_CORRUPT"

	// Protocol errors (300-399)
	ErrCodeSocketUnavailable = "ERR_301_SOCKET_UNAVAILABLE"
	ErrCodeRequestTimeout    = "ERR_302_REQUEST_TIMEOUT"
	ErrCodeBadResponse       = "ERR_303_BAD_RESPONSE"

	// Validation errors (400-499)
	ErrCodeInvalidIdentity = "ERR_401_INVALID_IDENTITY"
	ErrCodeUnknownEvent    = "ERR_402_UNKNOWN_EVENT"
	ErrCodeFileNotEdited   = "ERR_403_FILE_NOT_EDITED"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodeWatchConflict = "ERR_502_WATCH_CONFLICT"
	ErrCodeEngineClosed  = "ERR_503_ENGINE_CLOSED"
	ErrCodeIndexNotReady = "ERR_504_INDEX_NOT_READY"
)

// categoryFromCode derives the category from the code's number range.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryProtocol
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives the default severity for a code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfigInvalid, ErrCodeEngineClosed:
		return SeverityFatal
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code are
// worth retrying.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeSocketUnavailable, ErrCodeRequestTimeout, ErrCodeIndexNotReady:
		return true
	default:
		return false
	}
}
