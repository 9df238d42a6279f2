// Package console assembles the administrative console from a Config: the
// backend client, token lifecycle manager, session store and bootstrapper,
// persisted client state, query cache and the authorization graph.
package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/rbacadmin/pkg/api"
	"github.com/platinummonkey/rbacadmin/pkg/audit"
	"github.com/platinummonkey/rbacadmin/pkg/auth"
	"github.com/platinummonkey/rbacadmin/pkg/cache"
	"github.com/platinummonkey/rbacadmin/pkg/config"
	"github.com/platinummonkey/rbacadmin/pkg/observability"
	"github.com/platinummonkey/rbacadmin/pkg/rbac"
	"github.com/platinummonkey/rbacadmin/pkg/session"
	"github.com/platinummonkey/rbacadmin/pkg/storage"
)

// Console holds every wired component
type Console struct {
	Config  config.Config
	Logger  *observability.Logger
	Metrics *observability.Metrics

	State     storage.KV
	Queries   *cache.QueryCache
	Session   *session.Store
	UserCache *session.UserCache
	Client    *api.Client
	Auth      *auth.Manager
	Bootstrap *session.Bootstrapper
	Graph     *rbac.Graph
	Auditor   audit.Logger

	ownsState   bool
	ownsAuditor bool
	watcher     *storage.Watcher
	stop        context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

type options struct {
	logger    *observability.Logger
	registry  *prometheus.Registry
	state     storage.KV
	transport http.RoundTripper
	navigator auth.Navigator
	auditor   audit.Logger
}

// Option customizes New
type Option func(*options)

// WithLogger replaces the logger built from the observability config
func WithLogger(l *observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry registers metrics on registry instead of a fresh one
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithStorage uses kv for client state instead of opening the configured
// backend. The console does not close it.
func WithStorage(kv storage.KV) Option {
	return func(o *options) { o.state = kv }
}

// WithTransport sets the HTTP transport used to reach the backend
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithNavigator receives the sign-in redirect after the session clears
func WithNavigator(n auth.Navigator) Option {
	return func(o *options) { o.navigator = n }
}

// WithAuditor records the audit trail to l instead of the configured
// directory. The console does not close it.
func WithAuditor(l audit.Logger) Option {
	return func(o *options) { o.auditor = l }
}

// New validates cfg and wires the console. Nothing talks to the backend
// until Start.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Console, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Console{Config: cfg, Logger: o.logger}
	if c.Logger == nil {
		c.Logger = observability.NewLogger(cfg.Observability.Level(), os.Stderr)
	}
	if cfg.Observability.MetricsEnabled {
		c.Metrics = observability.NewMetrics(o.registry)
	}

	c.State = o.state
	if c.State == nil {
		kv, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to open client state: %w", err)
		}
		c.State = kv
		c.ownsState = true
	}

	c.Auditor = o.auditor
	switch {
	case c.Auditor != nil:
	case cfg.Audit.Dir != "":
		trail, err := audit.NewFileLogger(cfg.Audit.FileConfig())
		if err != nil {
			c.closeState()
			return nil, fmt.Errorf("failed to open audit trail: %w", err)
		}
		c.Auditor = trail
		c.ownsAuditor = true
	default:
		c.Auditor = audit.Nop()
	}

	clientOpts := []api.Option{api.WithMetrics(c.Metrics), api.WithLogger(c.Logger)}
	if o.transport != nil {
		clientOpts = append(clientOpts, api.WithTransport(o.transport))
	}
	client, err := api.New(api.Config{
		BackendURL: cfg.API.BackendURL,
		ProxyURL:   cfg.API.ProxyURL,
		ProxyPath:  cfg.API.ProxyPath,
		Timeout:    cfg.API.Timeout,
	}, clientOpts...)
	if err != nil {
		c.closeState()
		c.closeAuditor()
		return nil, err
	}
	c.Client = client

	c.Queries = cache.New(cache.Config{Size: cfg.Cache.Size, TTL: cfg.Cache.TTL}, c.Metrics)
	c.Session = session.NewStore()
	c.UserCache = session.NewUserCache(c.State)

	navigator := o.navigator
	if navigator == nil {
		navigator = auth.NavigatorFunc(func(reason string) {
			c.Logger.WithField("reason", reason).Info("sign in required")
		})
	}
	c.Auth = auth.NewManager(client, c.Session, c.UserCache, auth.Config{
		RefreshInterval: cfg.Auth.RefreshInterval,
		Cookies: auth.CookieOptions{
			Secure:        cfg.Auth.Production(),
			AccessMaxAge:  cfg.Auth.AccessTokenTTL,
			RefreshMaxAge: cfg.Auth.RefreshTokenTTL,
		},
	},
		auth.WithNavigator(navigator),
		auth.WithQueryCache(c.Queries),
		auth.WithTokenStore(c.State),
		auth.WithMetrics(c.Metrics),
		auth.WithLogger(c.Logger),
		auth.WithAuditor(c.Auditor),
	)

	c.Bootstrap = session.NewBootstrapper(client, c.Session, c.UserCache, c.Logger)
	c.Graph = rbac.NewGraph(client, c.Queries, c.Session,
		rbac.WithMetrics(c.Metrics),
		rbac.WithLogger(c.Logger),
		rbac.WithAuditor(c.Auditor),
	)
	return c, nil
}

// Start restores persisted tokens, bootstraps the session and, for
// filesystem state, watches for sign-out by another console process.
func (c *Console) Start(ctx context.Context) (session.Outcome, error) {
	if _, err := c.Auth.Restore(ctx); err != nil {
		c.Logger.WithError(err).Warn("failed to restore tokens")
	}

	outcome, err := c.Bootstrap.Run(ctx)
	if err != nil {
		return outcome, err
	}

	if fs, ok := c.State.(*storage.FileStore); ok && c.watcher == nil {
		if err := c.watch(fs.Root()); err != nil {
			c.Logger.WithError(err).Warn("cross-process sign-out detection disabled")
		}
	}
	return outcome, nil
}

func (c *Console) watch(root string) error {
	w, err := storage.NewWatcher(root)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.watcher = w
	c.stop = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		session.WatchUserCache(ctx, w, func() {
			// our own clear moves the state before deleting the cache
			switch c.Auth.State() {
			case auth.StateAuthenticated, auth.StateRefreshing:
			default:
				return
			}
			if c.Session.User() == nil {
				return
			}
			c.Auth.Expire(ctx, auth.ReasonSignedOutElsewhere)
		}, c.Logger)
	}()
	return nil
}

// Close stops the watcher and the renewal scheduler and releases client
// state. It is safe to call more than once.
func (c *Console) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		if c.stop != nil {
			c.stop()
			c.wg.Wait()
			if err := c.watcher.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.Auth.Close()
		if err := c.closeState(); err != nil {
			errs = append(errs, err)
		}
		if err := c.closeAuditor(); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}

func (c *Console) closeState() error {
	if !c.ownsState || c.State == nil {
		return nil
	}
	return c.State.Close()
}

func (c *Console) closeAuditor() error {
	if !c.ownsAuditor {
		return nil
	}
	return c.Auditor.Close()
}
