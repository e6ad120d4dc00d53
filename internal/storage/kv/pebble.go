package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/sstable"
	"github.com/cockroachdb/pebble/v2/vfs"
	"go.uber.org/zap"
)

// PebbleStore is a Store backed by a pebble database
type PebbleStore struct {
	db     *pebble.DB
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) a pebble database in dir
func Open(dir string, logger *zap.Logger) (*PebbleStore, error) {
	return open(dir, &pebble.Options{}, logger)
}

// OpenMemory opens a pebble database that lives entirely in memory
func OpenMemory(logger *zap.Logger) (*PebbleStore, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()}, logger)
}

func open(dir string, options *pebble.Options, logger *zap.Logger) (*PebbleStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "kv"))

	options.LoggerAndTracer = pebbleLogger{logger: logger.Sugar()}
	for i := range options.Levels {
		options.Levels[i].Compression = func() *sstable.CompressionProfile {
			return sstable.NoCompression
		}
	}

	db, err := pebble.Open(dir, options)
	if err != nil {
		return nil, fmt.Errorf("pebble: error opening database at %q: %w", dir, err)
	}

	logger.Info("Opened KV store", zap.String("path", dir))
	return &PebbleStore{db: db, logger: logger}, nil
}

// Get returns a copy of the value stored at key
func (s *PebbleStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := s.enter(ctx); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("pebble: error getting key: %w", err)
	}
	defer closer.Close()

	return slices.Clone(value), nil
}

// Set durably stores value at key
func (s *PebbleStore) Set(ctx context.Context, key, value []byte) error {
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble: error setting key: %w", err)
	}
	return nil
}

// Commit applies every operation in b atomically
func (s *PebbleStore) Commit(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	if err := s.enter(ctx); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	batch := s.db.NewBatch()
	for _, op := range b.ops {
		var err error
		if op.delete {
			err = batch.Delete(op.key, nil)
		} else {
			err = batch.Set(op.key, op.value, nil)
		}
		if err != nil {
			_ = batch.Close()
			return fmt.Errorf("pebble: error building batch: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		_ = batch.Close()
		return fmt.Errorf("pebble: error committing batch: %w", err)
	}
	return batch.Close()
}

// Scan yields every entry whose key starts with prefix and sorts strictly
// after the given key. A nil after starts at the beginning of the prefix.
func (s *PebbleStore) Scan(ctx context.Context, prefix, after []byte) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		if err := s.enter(ctx); err != nil {
			yield(Entry{}, err)
			return
		}
		defer s.mu.RUnlock()

		opts := &pebble.IterOptions{
			LowerBound: prefix,
			UpperBound: PrefixToUpperBound(prefix),
		}
		if after != nil {
			// the smallest key strictly greater than after
			lower := append(slices.Clone(after), 0)
			if slices.Compare(lower, prefix) > 0 {
				opts.LowerBound = lower
			}
			if opts.UpperBound != nil && slices.Compare(opts.LowerBound, opts.UpperBound) >= 0 {
				return
			}
		}

		for entry, err := range iterate(s.db, opts) {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// Close closes the database. Further calls fail with ErrClosed.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("pebble: error closing database: %w", err)
	}
	s.logger.Info("Closed KV store")
	return nil
}

// enter takes the read lock and leaves it held on success
func (s *PebbleStore) enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

func iterate(src pebble.Reader, opts *pebble.IterOptions) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		it, err := src.NewIter(opts)
		if err != nil {
			yield(Entry{}, err)
			return
		}

		for it.First(); it.Valid(); it.Next() {
			value, err := it.ValueAndErr()
			if err != nil {
				_ = it.Close()
				yield(Entry{}, err)
				return
			}

			entry := Entry{Key: slices.Clone(it.Key()), Value: slices.Clone(value)}
			if !yield(entry, nil) {
				_ = it.Close()
				return
			}
		}

		if err := it.Error(); err != nil {
			_ = it.Close()
			yield(Entry{}, err)
			return
		}

		if err := it.Close(); err != nil {
			yield(Entry{}, err)
		}
	}
}

// PrefixToUpperBound returns the exclusive upper bound of all keys with the
// given prefix, or nil when the prefix is all 0xff bytes.
func PrefixToUpperBound(prefix []byte) []byte {
	upperBound := slices.Clone(prefix)
	for i := len(upperBound) - 1; i >= 0; i-- {
		upperBound[i]++
		if upperBound[i] != 0 {
			return upperBound[:i+1]
		}
	}
	return nil
}

// pebbleLogger routes pebble's internal logging into zap
type pebbleLogger struct {
	logger *zap.SugaredLogger
}

func (l pebbleLogger) Infof(format string, args ...any)  { l.logger.Debugf(format, args...) }
func (l pebbleLogger) Errorf(format string, args ...any) { l.logger.Errorf(format, args...) }
func (l pebbleLogger) Fatalf(format string, args ...any) { l.logger.Fatalf(format, args...) }

func (pebbleLogger) Eventf(_ context.Context, _ string, _ ...any) {}
func (pebbleLogger) IsTracingEnabled(_ context.Context) bool      { return false }
