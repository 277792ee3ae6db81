package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threatscope/internal/config"
	"github.com/xkilldash9x/threatscope/internal/kvstore"
	"github.com/xkilldash9x/threatscope/internal/observability"
	"github.com/xkilldash9x/threatscope/internal/policy"
)

// actorKey holds the generated actor ID when none is configured.
const actorKey = "session_actor_id"

// storeProvider opens the state store. Tests inject an in-memory provider.
type storeProvider interface {
	// Open returns the store and a cleanup function that releases it.
	Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (kvstore.Store, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the provider that opens the configured backend.
func NewStoreProvider() storeProvider {
	return defaultStoreProvider{}
}

func (defaultStoreProvider) Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (kvstore.Store, func(), error) {
	var (
		store kvstore.Store
		err   error
	)
	switch strings.ToLower(cfg.Backend) {
	case config.BackendMemory:
		store = kvstore.NewMemory()
	case config.BackendSQLite:
		path, perr := cfg.ResolvedPath()
		if perr != nil {
			return nil, nil, perr
		}
		store, err = kvstore.OpenSQLite(ctx, path, logger)
	case config.BackendPostgres:
		store, err = kvstore.OpenPostgres(ctx, cfg.PostgresURL, logger)
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close store cleanly.", zap.Error(err))
		}
	}
	return store, cleanup, nil
}

// session is everything a state-touching command needs.
type session struct {
	cfg    config.Interface
	store  kvstore.Store
	policy *policy.SecurityPolicy
	actor  string
	log    *zap.Logger
}

// openSession loads the config from cmd's context, opens the store and
// builds the security policy over it.
func openSession(cmd *cobra.Command, provider storeProvider) (*session, func(), error) {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	logger := observability.GetLogger()

	store, cleanup, err := provider.Open(ctx, cfg.Store(), logger)
	if err != nil {
		return nil, nil, err
	}

	s := &session{
		cfg:    cfg,
		store:  store,
		policy: policy.New(store, policy.WithConfig(cfg.Policy()), policy.WithLogger(logger)),
		log:    logger,
	}
	s.actor, err = resolveActor(ctx, store, cfg.Session())
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return s, cleanup, nil
}

// resolveActor returns the configured actor ID, or a random one generated on
// first use and kept in the store.
func resolveActor(ctx context.Context, store kvstore.Store, cfg config.SessionConfig) (string, error) {
	if id := strings.TrimSpace(cfg.ActorID); id != "" {
		return id, nil
	}

	bucket := kvstore.NewBucket(store, kvstore.Primary)
	id, err := bucket.Get(ctx, actorKey)
	if err == nil && id != "" {
		return id, nil
	}
	if err != nil && !kvstore.IsNotFound(err) {
		return "", fmt.Errorf("failed to read actor id: %w", err)
	}

	id = uuid.NewString()
	if err := bucket.Set(ctx, actorKey, id); err != nil {
		return "", fmt.Errorf("failed to persist actor id: %w", err)
	}
	return id, nil
}
