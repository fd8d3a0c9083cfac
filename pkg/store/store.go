package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

const (
	// FinishMarker is the key whose first successful write designates the winner.
	FinishMarker = "race-finished"
)

var (
	// sentinel is the fixed value the finish marker is written with.
	sentinel = []byte("true")
)

// Outcome of an attempt to write the finish marker.
type Outcome int

const (
	// Committed means the write succeeded: the caller won the race.
	Committed Outcome = iota + 1
	// Rejected means another writer already holds the marker: the caller lost.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

// Handle is an open namespace. It must be closed once done with.
type Handle interface {
	// Namespace returns the human-readable namespace name (prefix + id).
	Namespace() string

	// InsertFinishMarker attempts the single atomic write of the finish marker.
	// A non-nil error is always a backend failure, never a lost race.
	InsertFinishMarker(ctx context.Context) (Outcome, error)

	// Close releases the handle. It does not affect committed writes.
	Close() error
}

// RaceStore gives access to the per-race namespaces of a backend.
type RaceStore interface {
	// Kind of the backend, e.g. "fs" or "etcd".
	Kind() string

	// Open returns a handle on the namespace of id, creating it if needed.
	// Concurrent calls for the same id attach to the same namespace.
	Open(ctx context.Context, id string) (Handle, error)

	// Destroy deletes the namespace of id along with its finish marker.
	// Destroying a namespace that does not exist is a no-op.
	Destroy(ctx context.Context, id string) error

	// Close releases the backend-wide resources (connections, clients).
	Close() error
}

// Namespace returns the namespace name of a race identifier.
func Namespace(prefix, id string) string {
	return prefix + id
}

// Hash computes the hash of the given namespace.
// It is used to get a standard identifier (both in size and format)
// while avoiding filesystem manipulation (e.g. path traversal) and
// key prefix overlaps between namespaces.
func Hash(ns string) string {
	sum := sha256.Sum256([]byte(ns))
	return hex.EncodeToString(sum[:])
}
