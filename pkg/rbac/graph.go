package rbac

import (
	"context"
	"errors"

	"github.com/platinummonkey/rbacadmin/pkg/api"
	"github.com/platinummonkey/rbacadmin/pkg/audit"
	"github.com/platinummonkey/rbacadmin/pkg/cache"
	"github.com/platinummonkey/rbacadmin/pkg/observability"
	"github.com/platinummonkey/rbacadmin/pkg/session"
)

// ErrSignInRequired is returned by mutations attempted without a session
var ErrSignInRequired = errors.New("sign in required")

// invalidates lists, per mutated kind, every kind whose cached reads may
// now be stale: the kind itself, the kinds it references and the kinds that
// embed or count it
var invalidates = map[string][]string{
	KindResources:    {KindResources, KindPolicies},
	KindActions:      {KindActions, KindPolicies},
	KindPolicies:     {KindPolicies, KindResources, KindActions, KindRolePolicies},
	KindRoles:        {KindRoles, KindRolePolicies, KindUserRoles},
	KindRolePolicies: {KindRolePolicies, KindRoles, KindPolicies},
	KindUserRoles:    {KindUserRoles, KindRoles},
}

// Invalidated returns the kinds a mutation of kind invalidates
func Invalidated(kind string) []string {
	return append([]string(nil), invalidates[kind]...)
}

// Graph is the authorization graph client
type Graph struct {
	client  *api.Client
	queries *cache.QueryCache
	session *session.Store
	metrics *observability.Metrics
	logger  *observability.Logger
	auditor audit.Logger

	Resources    *Collection[Resource, EntityInput, EntityUpdate]
	Actions      *Collection[Action, EntityInput, EntityUpdate]
	Policies     *Collection[Policy, PolicyInput, PolicyUpdate]
	Roles        *Collection[Role, EntityInput, EntityUpdate]
	RolePolicies *Collection[RolePolicy, RolePolicyInput, RolePolicyUpdate]
	UserRoles    *Collection[UserRole, UserRoleInput, UserRoleUpdate]
}

// Option configures a Graph
type Option func(*Graph)

// WithMetrics records mutation outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Graph) { g.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithAuditor records every mutation attempt that reached the backend
func WithAuditor(l audit.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.auditor = l
		}
	}
}

// NewGraph builds the six collections over client. A nil queries gets a
// default cache; a nil store disables the session requirement.
func NewGraph(client *api.Client, queries *cache.QueryCache, store *session.Store, opts ...Option) *Graph {
	g := &Graph{
		client:  client,
		queries: queries,
		session: store,
		logger:  observability.NopLogger(),
		auditor: audit.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.queries == nil {
		g.queries = cache.New(cache.Config{}, g.metrics)
	}

	g.Resources = newCollection[Resource, EntityInput, EntityUpdate](g, KindResources)
	g.Actions = newCollection[Action, EntityInput, EntityUpdate](g, KindActions)
	g.Policies = newCollection[Policy, PolicyInput, PolicyUpdate](g, KindPolicies)
	g.Roles = newCollection[Role, EntityInput, EntityUpdate](g, KindRoles)
	g.RolePolicies = newCollection[RolePolicy, RolePolicyInput, RolePolicyUpdate](g, KindRolePolicies)
	g.UserRoles = newCollection[UserRole, UserRoleInput, UserRoleUpdate](g, KindUserRoles)
	return g
}

// Cache returns the query cache backing reads
func (g *Graph) Cache() *cache.QueryCache {
	return g.queries
}

// mutate runs one server mutation. Nothing is invalidated unless the
// backend confirmed the change.
func (g *Graph) mutate(ctx context.Context, kind, op string, payload Validator, call func(context.Context) (string, error)) error {
	if payload != nil {
		if err := payload.Validate(); err != nil {
			return err
		}
	}
	if g.session != nil && g.session.User() == nil {
		return ErrSignInRequired
	}

	target, err := call(ctx)
	g.metrics.RecordGraphMutation(kind, op, err)
	g.audit(ctx, kind, op, target, err)
	if err != nil {
		g.logger.Ctx(ctx).WithError(err).WithFields(map[string]interface{}{
			"kind":      kind,
			"operation": op,
		}).Debug("graph mutation failed")
		return err
	}

	g.queries.Invalidate(invalidates[kind]...)
	g.logger.Ctx(ctx).WithFields(map[string]interface{}{
		"kind":      kind,
		"operation": op,
	}).Debug("graph mutated")
	return nil
}

func (g *Graph) audit(ctx context.Context, kind, op, target string, err error) {
	event := &audit.Event{
		Type:     audit.GraphEvent(op),
		Status:   audit.StatusOf(err),
		UserID:   g.currentUserID(),
		Kind:     kind,
		TargetID: target,
	}
	if err != nil {
		event.ErrorMessage = api.UserMessage(err)
	}
	if logErr := g.auditor.Log(ctx, event); logErr != nil {
		g.logger.WithError(logErr).Warn("failed to record audit event")
	}
}

func (g *Graph) currentUserID() string {
	if g.session == nil {
		return ""
	}
	if u := g.session.User(); u != nil {
		return u.ID
	}
	return ""
}
