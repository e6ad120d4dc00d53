package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents internal error codes for blob operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeUnknownTenant   ErrorCode = 1001
	ErrCodeAlreadyExists   ErrorCode = 1002
	ErrCodeNotFound        ErrorCode = 1003

	// Storage errors
	ErrCodeIntegrityViolation ErrorCode = 2000
	ErrCodeIOFailure          ErrorCode = 2001
	ErrCodeDiskFull           ErrorCode = 2002
)

// String returns the taxonomy name of the code
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidArgument:
		return "InvalidArgument"
	case ErrCodeUnknownTenant:
		return "UnknownTenant"
	case ErrCodeAlreadyExists:
		return "AlreadyExists"
	case ErrCodeNotFound:
		return "NotFound"
	case ErrCodeIntegrityViolation:
		return "IntegrityViolation"
	case ErrCodeIOFailure:
		return "IOFailure"
	case ErrCodeDiskFull:
		return "DiskFull"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// StorageError represents a structured error with code and context
type StorageError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is reports a match against another StorageError carrying the same code, so
// callers can write errors.Is(err, &StorageError{Code: ErrCodeNotFound}).
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ExitCode maps the error code to a process exit status for the CLI
func (e *StorageError) ExitCode() int {
	switch e.Code {
	case ErrCodeOK:
		return 0
	case ErrCodeInvalidArgument:
		return 2
	case ErrCodeUnknownTenant:
		return 3
	case ErrCodeNotFound:
		return 4
	case ErrCodeAlreadyExists:
		return 5
	case ErrCodeIntegrityViolation:
		return 6
	case ErrCodeDiskFull:
		return 7
	default:
		return 1
	}
}

// NewStorageError creates a new StorageError
func NewStorageError(code ErrorCode, message string, cause error) *StorageError {
	return &StorageError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *StorageError) WithDetail(key string, value interface{}) *StorageError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, message, cause)
}

func InvalidTenantName(name, reason string) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, fmt.Sprintf("invalid tenant name '%s': %s", name, reason), nil).
		WithDetail("tenant", name).
		WithDetail("reason", reason)
}

func InvalidBlobID(raw string, cause error) *StorageError {
	return NewStorageError(ErrCodeInvalidArgument, fmt.Sprintf("invalid blob id '%s'", raw), cause).
		WithDetail("blob_id", raw)
}

func UnknownTenant(tenant string) *StorageError {
	return NewStorageError(ErrCodeUnknownTenant, fmt.Sprintf("unknown tenant: %s", tenant), nil).
		WithDetail("tenant", tenant)
}

func TenantExists(tenant string) *StorageError {
	return NewStorageError(ErrCodeAlreadyExists, fmt.Sprintf("tenant already exists: %s", tenant), nil).
		WithDetail("tenant", tenant)
}

func RecordExists(tenant, blobID string) *StorageError {
	return NewStorageError(ErrCodeAlreadyExists, fmt.Sprintf("metadata record already exists: %s/%s", tenant, blobID), nil).
		WithDetail("tenant", tenant).
		WithDetail("blob_id", blobID)
}

func BlobNotFound(tenant, blobID string) *StorageError {
	return NewStorageError(ErrCodeNotFound, fmt.Sprintf("blob not found: %s/%s", tenant, blobID), nil).
		WithDetail("tenant", tenant).
		WithDetail("blob_id", blobID)
}

func ChunkNotFound(blobID, path string) *StorageError {
	return NewStorageError(ErrCodeNotFound, fmt.Sprintf("chunk not found: %s", blobID), nil).
		WithDetail("blob_id", blobID).
		WithDetail("path", path)
}

func ChecksumMismatch(blobID, expected, actual string) *StorageError {
	return NewStorageError(ErrCodeIntegrityViolation, fmt.Sprintf("checksum mismatch for blob %s: expected %s, got %s", blobID, expected, actual), nil).
		WithDetail("blob_id", blobID).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

func IntegrityViolation(blobID, message string, cause error) *StorageError {
	return NewStorageError(ErrCodeIntegrityViolation, fmt.Sprintf("integrity violation for blob %s: %s", blobID, message), cause).
		WithDetail("blob_id", blobID)
}

func PathFailure(op, path string, cause error) *StorageError {
	return NewStorageError(ErrCodeIOFailure, fmt.Sprintf("%s %s", op, path), cause).
		WithDetail("op", op).
		WithDetail("path", path)
}

func KeyFailure(op, key string, cause error) *StorageError {
	return NewStorageError(ErrCodeIOFailure, fmt.Sprintf("%s key %q", op, key), cause).
		WithDetail("op", op).
		WithDetail("key", key)
}

func DiskFull(usagePercent float64, availableBytes uint64, cause error) *StorageError {
	return NewStorageError(ErrCodeDiskFull, fmt.Sprintf("disk full: %.2f%% used, %d bytes available", usagePercent, availableBytes), cause).
		WithDetail("usage_percent", usagePercent).
		WithDetail("available_bytes", availableBytes)
}

// IsStorageError checks if an error is, or wraps, a StorageError
func IsStorageError(err error) bool {
	var se *StorageError
	return stderrors.As(err, &se)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ErrCodeIOFailure
}

func IsUnknownTenant(err error) bool      { return GetCode(err) == ErrCodeUnknownTenant }
func IsAlreadyExists(err error) bool      { return GetCode(err) == ErrCodeAlreadyExists }
func IsNotFound(err error) bool           { return GetCode(err) == ErrCodeNotFound }
func IsIntegrityViolation(err error) bool { return GetCode(err) == ErrCodeIntegrityViolation }
func IsInvalidArgument(err error) bool    { return GetCode(err) == ErrCodeInvalidArgument }

// ExitCode returns the CLI exit status for any error
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *StorageError
	if stderrors.As(err, &se) {
		return se.ExitCode()
	}
	return 1
}
