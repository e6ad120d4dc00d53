// Package kv is the embedded ordered key-value engine behind the metadata
// and tenant stores.
package kv

import (
	"context"
	"errors"
	"iter"
	"slices"
)

var (
	// ErrNotFound is returned by Get when the key does not exist
	ErrNotFound = errors.New("kv: key not found")

	// ErrClosed is returned by every operation after Close
	ErrClosed = errors.New("kv: store is closed")
)

// Entry is a single key/value pair yielded by Scan
type Entry struct {
	Key   []byte
	Value []byte
}

// Store is an ordered, durable key-value store. Keys compare bytewise.
type Store interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	Commit(ctx context.Context, b *Batch) error
	Scan(ctx context.Context, prefix, after []byte) iter.Seq2[Entry, error]
	Close() error
}

type op struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch collects writes that are applied atomically by Store.Commit
type Batch struct {
	ops []op
}

// NewBatch creates an empty batch
func NewBatch() *Batch {
	return &Batch{}
}

// Set queues a write of value at key
func (b *Batch) Set(key, value []byte) *Batch {
	b.ops = append(b.ops, op{key: slices.Clone(key), value: slices.Clone(value)})
	return b
}

// Delete queues removal of key
func (b *Batch) Delete(key []byte) *Batch {
	b.ops = append(b.ops, op{key: slices.Clone(key), delete: true})
	return b
}

// Len returns the number of queued operations
func (b *Batch) Len() int {
	return len(b.ops)
}
