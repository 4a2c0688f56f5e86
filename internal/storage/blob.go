package storage

import (
	"errors"
	"io"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: not found")

// BlobStore holds the run's side files (rewritten ledger, median snapshot).
// Put must be atomic: a reader sees either the old object or the complete new one.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Get(key string) (io.ReadCloser, error)
}
