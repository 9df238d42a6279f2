package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/rbacadmin/pkg/api"
	"github.com/platinummonkey/rbacadmin/pkg/observability"
	"github.com/platinummonkey/rbacadmin/pkg/storage"
)

const name = "github.com/platinummonkey/rbacadmin/pkg/session"

// StatusResponse is the liveness check body
type StatusResponse struct {
	Authenticated bool `json:"authenticated"`
}

// Outcome says how a bootstrap run populated the store
type Outcome string

const (
	OutcomeAnonymous Outcome = "anonymous"
	OutcomeFromCache Outcome = "cache"
	OutcomeFetched   Outcome = "fetched"
)

// Bootstrapper reconciles the persisted user with the backend at startup
type Bootstrapper struct {
	client *api.Client
	store  *Store
	cache  *UserCache
	logger *observability.Logger
}

// NewBootstrapper creates a bootstrapper; logger may be nil
func NewBootstrapper(client *api.Client, store *Store, cache *UserCache, logger *observability.Logger) *Bootstrapper {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Bootstrapper{client: client, store: store, cache: cache, logger: logger}
}

// Run performs one bootstrap. Only a definitive authentication failure
// clears the cached user; any other error leaves it in place and is returned.
func (b *Bootstrapper) Run(ctx context.Context) (Outcome, error) {
	ctx, span := otel.Tracer(name).Start(ctx, "Bootstrapper.Run()")
	defer span.End()

	b.store.SetLoading(true)
	defer b.store.SetLoading(false)

	var status StatusResponse
	if err := b.client.Get(ctx, api.EndpointStatus, nil, &status); err != nil {
		return b.fail(ctx, err, "liveness check")
	}

	if !status.Authenticated {
		if err := b.cache.Clear(ctx); err != nil {
			b.logger.WithError(err).Warn("failed to clear cached user")
		}
		b.store.SetUser(nil)
		span.SetAttributes(attribute.String("rbacadmin.bootstrap", string(OutcomeAnonymous)))
		return OutcomeAnonymous, nil
	}

	cached, err := b.cache.Load(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("cached user unavailable, fetching")
	}
	if cached != nil {
		b.store.SetUser(cached)
		span.SetAttributes(attribute.String("rbacadmin.bootstrap", string(OutcomeFromCache)))
		return OutcomeFromCache, nil
	}

	var user User
	if err := b.client.Get(ctx, api.EndpointMe, nil, &user); err != nil {
		return b.fail(ctx, err, "fetch current user")
	}
	if err := b.cache.Save(ctx, &user); err != nil {
		b.logger.WithError(err).Warn("failed to cache user")
	}
	b.store.SetUser(&user)
	span.SetAttributes(attribute.String("rbacadmin.bootstrap", string(OutcomeFetched)))
	return OutcomeFetched, nil
}

func (b *Bootstrapper) fail(ctx context.Context, err error, step string) (Outcome, error) {
	if api.IsAuthenticationFailure(err) {
		if clearErr := b.cache.Clear(ctx); clearErr != nil {
			b.logger.WithError(clearErr).Warn("failed to clear cached user")
		}
		b.store.SetUser(nil)
		return OutcomeAnonymous, nil
	}
	b.logger.WithError(err).WithField("step", step).Warn("bootstrap interrupted, keeping cached user")
	return "", fmt.Errorf("%s: %w", step, err)
}

// WatchUserCache calls onRemoved whenever the persisted user disappears from
// under this process, typically because another console signed out. It
// returns when ctx ends.
func WatchUserCache(ctx context.Context, w *storage.Watcher, onRemoved func(), logger *observability.Logger) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	w.Run(ctx, func(key string) {
		if key == UserCacheKey {
			onRemoved()
		}
	}, func(err error) {
		logger.WithError(err).Warn("user cache watcher error")
	})
}
