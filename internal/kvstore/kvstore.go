// File: internal/kvstore/kvstore.go
package kvstore

import (
	"context"
	"errors"
)

// Namespace partitions keys inside a Store. The policy layer keeps two
// independent namespaces so the CSRF token survives the loss of either one.
type Namespace string

const (
	// Primary is the long-lived namespace.
	Primary Namespace = "local"
	// Secondary holds the replica copy.
	Secondary Namespace = "session"
)

// ErrNotFound is returned by Get when the key does not exist in the namespace.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a durable, namespaced key-value store.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, ns Namespace, key string) (string, error)
	Set(ctx context.Context, ns Namespace, key, value string) error
	Delete(ctx context.Context, ns Namespace, key string) error
	Close() error
}

// Bucket binds a Store to a single namespace.
type Bucket struct {
	Store     Store
	Namespace Namespace
}

// NewBucket returns a Bucket for ns on s.
func NewBucket(s Store, ns Namespace) Bucket {
	return Bucket{Store: s, Namespace: ns}
}

func (b Bucket) Get(ctx context.Context, key string) (string, error) {
	return b.Store.Get(ctx, b.Namespace, key)
}

func (b Bucket) Set(ctx context.Context, key, value string) error {
	return b.Store.Set(ctx, b.Namespace, key, value)
}

func (b Bucket) Delete(ctx context.Context, key string) error {
	return b.Store.Delete(ctx, b.Namespace, key)
}

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
