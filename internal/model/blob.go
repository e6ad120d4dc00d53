package model

import (
	"time"

	"github.com/google/uuid"
)

// BlobRecord is the persisted metadata for one stored blob
type BlobRecord struct {
	ID        uuid.UUID `json:"id"`
	Tenant    string    `json:"tenant"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"` // lowercase hex SHA-256 of the exact content
	CreatedAt time.Time `json:"created_at"`
}

// ListOptions bounds a blob listing. After is an exclusive cursor; the zero
// UUID starts from the beginning. A Limit of zero means no limit.
type ListOptions struct {
	After uuid.UUID
	Limit int
}

// ChunkInfo describes a chunk found on disk, independent of any metadata
type ChunkInfo struct {
	ID      uuid.UUID
	Size    int64
	ModTime time.Time
	// ArtifactOnly marks a checksum artifact whose content file is gone.
	// Size is zero and ModTime is the artifact's.
	ArtifactOnly bool
}
