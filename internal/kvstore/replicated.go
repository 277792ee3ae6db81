// File: internal/kvstore/replicated.go
package kvstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Replicated writes every value through to a primary and a replica bucket and
// reads from the primary, falling back to the replica. Callers see a single
// store and never reason about the two copies.
type Replicated struct {
	primary Bucket
	replica Bucket
	log     *zap.Logger
}

// NewReplicated builds a write-through pair. The buckets may live on the same
// Store under different namespaces or on two different stores.
func NewReplicated(primary, replica Bucket, logger *zap.Logger) *Replicated {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replicated{
		primary: primary,
		replica: replica,
		log:     logger.Named("replicated"),
	}
}

// Get returns the primary copy when present and non-empty, otherwise the
// replica copy. ErrNotFound is returned only when neither side has the key.
func (r *Replicated) Get(ctx context.Context, key string) (string, error) {
	v, primaryErr := r.primary.Get(ctx, key)
	if primaryErr == nil && v != "" {
		return v, nil
	}
	if primaryErr != nil && !IsNotFound(primaryErr) {
		r.log.Warn("Primary read failed, trying replica", zap.String("key", key), zap.Error(primaryErr))
	}

	v, replicaErr := r.replica.Get(ctx, key)
	if replicaErr == nil && v != "" {
		return v, nil
	}

	switch {
	case primaryErr != nil && !IsNotFound(primaryErr):
		return "", fmt.Errorf("read %q: %w", key, primaryErr)
	case replicaErr != nil && !IsNotFound(replicaErr):
		return "", fmt.Errorf("read %q from replica: %w", key, replicaErr)
	}
	return "", ErrNotFound
}

// Set writes to both buckets. Both writes are attempted even if the first fails.
func (r *Replicated) Set(ctx context.Context, key, value string) error {
	var errs []error
	if err := r.primary.Set(ctx, key, value); err != nil {
		errs = append(errs, fmt.Errorf("write %q to primary: %w", key, err))
	}
	if err := r.replica.Set(ctx, key, value); err != nil {
		errs = append(errs, fmt.Errorf("write %q to replica: %w", key, err))
	}
	return errors.Join(errs...)
}

// Delete removes the key from both buckets.
func (r *Replicated) Delete(ctx context.Context, key string) error {
	var errs []error
	if err := r.primary.Delete(ctx, key); err != nil {
		errs = append(errs, fmt.Errorf("delete %q from primary: %w", key, err))
	}
	if err := r.replica.Delete(ctx, key); err != nil {
		errs = append(errs, fmt.Errorf("delete %q from replica: %w", key, err))
	}
	return errors.Join(errs...)
}
