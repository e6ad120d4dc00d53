// Package chunkstore persists blob content on the local filesystem. Each
// chunk is a content file plus a checksum artifact holding the hex SHA-256
// digest captured at write time.
package chunkstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devrev/pairdb/blob-node/internal/errors"
	"github.com/devrev/pairdb/blob-node/internal/model"
	"github.com/devrev/pairdb/blob-node/internal/util"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

const (
	// ContentSuffix names the content file of a chunk
	ContentSuffix = ".blob"
	// ChecksumSuffix names the checksum artifact of a chunk
	ChecksumSuffix = ".blob.chk"

	tmpDirName    = ".tmp"
	tmpFilePrefix = "write-"

	// id collisions are astronomically unlikely; this only bounds the loop
	maxAllocAttempts = 3
)

// Config holds chunk store configuration
type Config struct {
	Dir string
	// VerifyBeforeStream hashes the content once before releasing any byte
	// to the sink, so a corrupt chunk never reaches the caller.
	VerifyBeforeStream bool
}

// WriteResult is returned by a successful Write
type WriteResult struct {
	ID     uuid.UUID
	Digest string
	Size   int64
}

// ReadResult is returned by a successful Read or Verify
type ReadResult struct {
	Digest string
	Size   int64
}

// Store stores chunks under a single directory
type Store struct {
	dir         string
	tmpDir      string
	verifyFirst bool
	logger      *zap.Logger

	newID func() uuid.UUID
}

// New creates the chunk directory if needed and returns a store rooted there
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, errors.InvalidArgument("chunk directory is required", nil)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.PathFailure("resolve", dir, err)
	}
	tmpDir := filepath.Join(abs, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, errors.PathFailure("mkdir", tmpDir, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		dir:         abs,
		tmpDir:      tmpDir,
		verifyFirst: cfg.VerifyBeforeStream,
		logger:      logger.With(zap.String("component", "chunkstore")),
		newID:       uuid.New,
	}, nil
}

// Dir returns the absolute chunk directory
func (s *Store) Dir() string {
	return s.dir
}

// ContentPath returns the content file path for id
func (s *Store) ContentPath(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+ContentSuffix)
}

// ChecksumPath returns the checksum artifact path for id
func (s *Store) ChecksumPath(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+ChecksumSuffix)
}

// Write streams r into a new chunk and returns its id, digest and size.
// The content is renamed into place only after it is fully written and
// synced; the checksum artifact is written after that.
func (s *Store) Write(ctx context.Context, r io.Reader) (WriteResult, error) {
	var zero WriteResult
	if r == nil {
		return zero, errors.InvalidArgument("content reader is required", nil)
	}
	if err := ctx.Err(); err != nil {
		return zero, errors.PathFailure("write", s.dir, err)
	}

	id, err := s.allocateID()
	if err != nil {
		return zero, err
	}

	tmp, err := os.CreateTemp(s.tmpDir, tmpFilePrefix+"*")
	if err != nil {
		return zero, errors.PathFailure("create temp", s.tmpDir, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	hw := util.NewHashingWriter(tmp)
	if _, err := io.Copy(hw, &contextReader{ctx: ctx, r: r}); err != nil {
		cleanup()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, errors.PathFailure("write", tmpPath, ctxErr)
		}
		return zero, errors.PathFailure("write", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return zero, errors.PathFailure("sync", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return zero, errors.PathFailure("close", tmpPath, err)
	}

	contentPath := s.ContentPath(id)
	if err := os.Rename(tmpPath, contentPath); err != nil {
		_ = os.Remove(tmpPath)
		return zero, errors.PathFailure("publish", contentPath, err)
	}
	if err := syncDir(s.dir); err != nil {
		s.logger.Warn("Failed to sync chunk directory", zap.String("path", s.dir), zap.Error(err))
	}

	digest := hw.Digest()
	checksumPath := s.ChecksumPath(id)
	if err := atomic.WriteFile(checksumPath, strings.NewReader(digest+"\n")); err != nil {
		if rmErr := os.Remove(contentPath); rmErr != nil {
			s.logger.Error("Failed to remove chunk after checksum write failure",
				zap.String("blob_id", id.String()),
				zap.String("path", contentPath),
				zap.Error(rmErr))
		}
		return zero, errors.PathFailure("write checksum", checksumPath, err)
	}

	s.logger.Debug("Wrote chunk",
		zap.String("blob_id", id.String()),
		zap.Int64("size", hw.Size()),
		zap.String("checksum", digest))

	return WriteResult{ID: id, Digest: digest, Size: hw.Size()}, nil
}

// Read streams the content of id into sink while recomputing its digest and
// compares it with the checksum artifact. In streaming mode a mismatch is
// reported after the bytes were delivered; callers must discard them.
func (s *Store) Read(ctx context.Context, id uuid.UUID, sink io.Writer) (ReadResult, error) {
	var zero ReadResult
	contentPath := s.ContentPath(id)
	if err := ctx.Err(); err != nil {
		return zero, errors.PathFailure("read", contentPath, err)
	}

	f, err := os.Open(contentPath)
	if stderrors.Is(err, fs.ErrNotExist) {
		return zero, errors.ChunkNotFound(id.String(), contentPath)
	} else if err != nil {
		return zero, errors.PathFailure("open", contentPath, err)
	}
	defer f.Close()

	expected, err := s.loadChecksum(id)
	if err != nil {
		return zero, err
	}

	if s.verifyFirst && sink != nil {
		if _, err := s.hashAndCompare(ctx, id, f, nil, expected); err != nil {
			return zero, err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return zero, errors.PathFailure("seek", contentPath, err)
		}
	}

	return s.hashAndCompare(ctx, id, f, sink, expected)
}

// Verify recomputes the digest of id without delivering its content
func (s *Store) Verify(ctx context.Context, id uuid.UUID) (ReadResult, error) {
	return s.Read(ctx, id, nil)
}

func (s *Store) hashAndCompare(ctx context.Context, id uuid.UUID, f *os.File, sink io.Writer, expected string) (ReadResult, error) {
	hw := util.NewHashingWriter(sink)
	if _, err := io.Copy(hw, &contextReader{ctx: ctx, r: f}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ReadResult{}, errors.PathFailure("read", f.Name(), ctxErr)
		}
		return ReadResult{}, errors.PathFailure("read", f.Name(), err)
	}

	actual := hw.Digest()
	if actual != expected {
		s.logger.Error("Checksum mismatch",
			zap.String("blob_id", id.String()),
			zap.String("expected", expected),
			zap.String("actual", actual))
		return ReadResult{}, errors.ChecksumMismatch(id.String(), expected, actual)
	}

	return ReadResult{Digest: actual, Size: hw.Size()}, nil
}

func (s *Store) loadChecksum(id uuid.UUID) (string, error) {
	path := s.ChecksumPath(id)
	raw, err := os.ReadFile(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return "", errors.IntegrityViolation(id.String(), "checksum artifact missing", err).
			WithDetail("path", path)
	} else if err != nil {
		return "", errors.PathFailure("read checksum", path, err)
	}

	digest, err := util.ParseDigest(string(raw))
	if err != nil {
		return "", errors.IntegrityViolation(id.String(), "checksum artifact malformed", err).
			WithDetail("path", path)
	}
	return digest, nil
}

// Delete removes both files of a chunk. It fails with NotFound only when
// neither exists.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	contentPath := s.ContentPath(id)
	if err := ctx.Err(); err != nil {
		return errors.PathFailure("remove", contentPath, err)
	}

	removed := 0
	for _, path := range []string{contentPath, s.ChecksumPath(id)} {
		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
		case stderrors.Is(err, fs.ErrNotExist):
		default:
			return errors.PathFailure("remove", path, err)
		}
	}
	if removed == 0 {
		return errors.ChunkNotFound(id.String(), contentPath)
	}

	if err := syncDir(s.dir); err != nil {
		s.logger.Warn("Failed to sync chunk directory", zap.String("path", s.dir), zap.Error(err))
	}
	return nil
}

// Exists reports whether the content file of id is present
func (s *Store) Exists(id uuid.UUID) (bool, error) {
	_, err := os.Stat(s.ContentPath(id))
	if err == nil {
		return true, nil
	}
	if stderrors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, errors.PathFailure("stat", s.ContentPath(id), err)
}

// Stat describes the content file of id
func (s *Store) Stat(id uuid.UUID) (model.ChunkInfo, error) {
	path := s.ContentPath(id)
	fi, err := os.Stat(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return model.ChunkInfo{}, errors.ChunkNotFound(id.String(), path)
	} else if err != nil {
		return model.ChunkInfo{}, errors.PathFailure("stat", path, err)
	}
	return model.ChunkInfo{ID: id, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Iterate yields every chunk content file in the directory, ordered by id,
// plus checksum artifacts left without content. Files that do not look like
// chunks are skipped.
func (s *Store) Iterate(ctx context.Context) iter.Seq2[model.ChunkInfo, error] {
	return func(yield func(model.ChunkInfo, error) bool) {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			yield(model.ChunkInfo{}, errors.PathFailure("list", s.dir, err))
			return
		}

		names := make(map[string]struct{}, len(entries))
		for _, entry := range entries {
			names[entry.Name()] = struct{}{}
		}

		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				yield(model.ChunkInfo{}, errors.PathFailure("list", s.dir, err))
				return
			}
			if entry.IsDir() {
				continue
			}

			name := entry.Name()
			var (
				raw          string
				artifactOnly bool
			)
			switch {
			case strings.HasSuffix(name, ContentSuffix):
				raw = strings.TrimSuffix(name, ContentSuffix)
			case strings.HasSuffix(name, ChecksumSuffix):
				raw = strings.TrimSuffix(name, ChecksumSuffix)
				if _, ok := names[raw+ContentSuffix]; ok {
					continue
				}
				artifactOnly = true
			default:
				continue
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				continue
			}

			fi, err := entry.Info()
			if stderrors.Is(err, fs.ErrNotExist) {
				// deleted since ReadDir
				continue
			} else if err != nil {
				if !yield(model.ChunkInfo{}, errors.PathFailure("stat", filepath.Join(s.dir, name), err)) {
					return
				}
				continue
			}

			info := model.ChunkInfo{ID: id, ModTime: fi.ModTime(), ArtifactOnly: artifactOnly}
			if !artifactOnly {
				info.Size = fi.Size()
			}
			if !yield(info, nil) {
				return
			}
		}
	}
}

// RemoveStaleTemp deletes temp files left behind by interrupted writes that
// are older than the given age, and returns how many were removed.
func (s *Store) RemoveStaleTemp(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(s.tmpDir)
	if err != nil {
		return 0, errors.PathFailure("list", s.tmpDir, err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), tmpFilePrefix) {
			continue
		}
		fi, err := entry.Info()
		if err != nil || fi.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.tmpDir, entry.Name())
		if err := os.Remove(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return removed, errors.PathFailure("remove", path, err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) allocateID() (uuid.UUID, error) {
	for i := 0; i < maxAllocAttempts; i++ {
		id := s.newID()
		exists, err := s.Exists(id)
		if err != nil {
			return uuid.Nil, err
		}
		if !exists {
			return id, nil
		}
		s.logger.Warn("Blob id collision, retrying", zap.String("blob_id", id.String()))
	}
	return uuid.Nil, errors.PathFailure("allocate id", s.dir,
		fmt.Errorf("no unique blob id after %d attempts", maxAllocAttempts))
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
