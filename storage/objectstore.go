// Package storage persists generated artifacts in a write-once, content-addressed
// layout and resolves them back through an ordered list of storage tiers.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrObjectNotFound is returned by an ObjectStore when the key does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrAlreadyExists guards write-once keys.
	ErrAlreadyExists = errors.New("object already exists")

	// ErrNotPersisted means no tier holds the artifact. Remedy: regenerate.
	ErrNotPersisted = errors.New("contract was never persisted")
	// ErrStorageAccess means the artifact exists but could not be served. Remedy: retry.
	ErrStorageAccess = errors.New("contract exists but storage is not reachable")
	// ErrWriteFailed wraps any failure while persisting an artifact.
	ErrWriteFailed = errors.New("failed to persist contract")
)

// ObjectStore is the narrow contract every storage tier implements.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, meta ObjectMeta) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ObjectMeta travels with a Put as object user metadata.
type ObjectMeta struct {
	ContentType string
	Hash        string
	Attributes  map[string]string
}

// Tier is a named ObjectStore with its own key derivation.
type Tier struct {
	Name  string
	Store ObjectStore
	Key   func(Locator) string
}
