package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/devrev/pairdb/blob-node/internal/errors"
	"github.com/google/uuid"
)

const (
	// MaxTenantNameSize bounds tenant names in bytes
	MaxTenantNameSize = 256

	// Fixed per-blob overhead on disk: checksum artifact plus metadata record
	blobOverheadBytes = 4096
)

// Validator validates inputs at the engine boundary
type Validator struct {
	maxTenantNameSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxTenantNameSize: MaxTenantNameSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxTenantNameSize int) *Validator {
	return &Validator{
		maxTenantNameSize: maxTenantNameSize,
	}
}

// ValidateTenantName validates a tenant name
func (v *Validator) ValidateTenantName(name string) error {
	if name == "" {
		return errors.InvalidTenantName(name, "tenant name cannot be empty")
	}

	if len(name) > v.maxTenantNameSize {
		return errors.InvalidTenantName(name, fmt.Sprintf("tenant name exceeds maximum size of %d bytes", v.maxTenantNameSize))
	}

	if !utf8.ValidString(name) {
		return errors.InvalidTenantName(name, "tenant name must be valid UTF-8")
	}

	// NUL separates the tenant from the blob id in metadata keys, so control
	// characters are rejected outright.
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.InvalidTenantName(name, "tenant name cannot contain control characters")
		}
	}

	if strings.TrimSpace(name) != name {
		return errors.InvalidTenantName(name, "tenant name cannot have leading or trailing whitespace")
	}

	return nil
}

// ParseBlobID parses the canonical UUID form used at the boundary
func ParseBlobID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, errors.InvalidBlobID(raw, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, errors.InvalidBlobID(raw, fmt.Errorf("nil uuid is reserved"))
	}
	return id, nil
}

// EstimateWriteSize estimates the disk space needed to store a blob of the
// given content size. Used by the disk manager before a write is accepted.
func EstimateWriteSize(contentSize int64) uint64 {
	if contentSize < 0 {
		contentSize = 0
	}
	return uint64(contentSize) + blobOverheadBytes
}
