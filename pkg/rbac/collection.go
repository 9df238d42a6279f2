package rbac

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/rbacadmin/pkg/api"
	"github.com/platinummonkey/rbacadmin/pkg/cache"
	"github.com/platinummonkey/rbacadmin/pkg/contextkeys"
)

const name = "github.com/platinummonkey/rbacadmin/pkg/rbac"

// Validator is implemented by every create and update payload
type Validator interface {
	Validate() error
}

// Collection is the typed CRUD surface of one entity kind. T is the entity,
// C its create payload and U its update payload.
type Collection[T any, C, U Validator] struct {
	kind  string
	graph *Graph
}

func newCollection[T any, C, U Validator](g *Graph, kind string) *Collection[T, C, U] {
	return &Collection[T, C, U]{kind: kind, graph: g}
}

// Kind returns the collection's entity kind
func (c *Collection[T, C, U]) Kind() string {
	return c.kind
}

func (c *Collection[T, C, U]) span(ctx context.Context, op string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(name).Start(ctx, "Collection."+op+"()")
	span.SetAttributes(attribute.String("rbacadmin.kind", c.kind))
	if id := c.graph.currentUserID(); id != "" {
		ctx = contextkeys.WithUserID(ctx, id)
	}
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (c *Collection[T, C, U]) endpoint(parts ...string) string {
	var b strings.Builder
	b.WriteString("/" + c.kind)
	for _, p := range parts {
		b.WriteString("/" + p)
	}
	return b.String()
}

// List returns one page, served from the query cache when fresh
func (c *Collection[T, C, U]) List(ctx context.Context, f ListFilter) (_ *Page[T], err error) {
	ctx, span := c.span(ctx, "List")
	defer func() { endSpan(span, err) }()

	if err := f.Validate(); err != nil {
		return nil, err
	}
	params := f.Values()
	page, err := cache.Fetch(ctx, c.graph.queries, cache.Key(c.kind, params), []string{c.kind},
		func(ctx context.Context) (Page[T], error) {
			return c.fetchPage(ctx, params)
		})
	if err != nil {
		return nil, err
	}
	return page.clone(), nil
}

// fetchPage bypasses the cache
func (c *Collection[T, C, U]) fetchPage(ctx context.Context, params url.Values) (Page[T], error) {
	var page Page[T]
	err := c.graph.client.Get(ctx, c.endpoint(), params, &page)
	if page.Data == nil {
		page.Data = []T{}
	}
	return page, err
}

// All walks every page matching f. The walk bypasses the cache so callers
// that act on the result see the backend's current state.
func (c *Collection[T, C, U]) All(ctx context.Context, f ListFilter) ([]T, error) {
	f.Limit = MaxLimit
	f.Page = 1
	var out []T
	for {
		page, err := c.fetchPage(ctx, f.Values())
		if err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
		if f.Page >= page.TotalPages || len(page.Data) == 0 {
			return out, nil
		}
		f.Page++
	}
}

// Get returns one entity by id
func (c *Collection[T, C, U]) Get(ctx context.Context, id string) (_ *T, err error) {
	ctx, span := c.span(ctx, "Get")
	defer func() { endSpan(span, err) }()

	if err := required("id", id); err != nil {
		return nil, err
	}
	item, err := cache.Fetch(ctx, c.graph.queries, cache.Key(c.kind, nil, id), []string{c.kind},
		func(ctx context.Context) (T, error) {
			var item T
			err := c.graph.client.Get(ctx, c.endpoint(api.EscapeID(id)), nil, &item)
			return item, err
		})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Create validates in and creates the entity. The backend is the only
// judge of uniqueness; a duplicate comes back as *api.ConflictError.
func (c *Collection[T, C, U]) Create(ctx context.Context, in C) (_ *T, err error) {
	ctx, span := c.span(ctx, "Create")
	defer func() { endSpan(span, err) }()

	var out T
	err = c.graph.mutate(ctx, c.kind, "create", in, func(ctx context.Context) (string, error) {
		err := c.graph.client.Post(ctx, c.endpoint(), in, &out)
		return entityID(out), err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Update sends only the fields set in in
func (c *Collection[T, C, U]) Update(ctx context.Context, id string, in U) (_ *T, err error) {
	ctx, span := c.span(ctx, "Update")
	defer func() { endSpan(span, err) }()

	if err := required("id", id); err != nil {
		return nil, err
	}
	var out T
	err = c.graph.mutate(ctx, c.kind, "update", in, func(ctx context.Context) (string, error) {
		return id, c.graph.client.Patch(ctx, c.endpoint(api.EscapeID(id)), in, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the entity
func (c *Collection[T, C, U]) Delete(ctx context.Context, id string) (err error) {
	ctx, span := c.span(ctx, "Delete")
	defer func() { endSpan(span, err) }()

	if err := required("id", id); err != nil {
		return err
	}
	return c.graph.mutate(ctx, c.kind, "delete", nil, func(ctx context.Context) (string, error) {
		return id, c.graph.client.Delete(ctx, c.endpoint(api.EscapeID(id)), nil)
	})
}

// Lookup searches active entities by code or name for pickers. limit 0
// means the default of 10; the maximum is 20.
func (c *Collection[T, C, U]) Lookup(ctx context.Context, q string, limit int) (_ []LookupItem, err error) {
	ctx, span := c.span(ctx, "Lookup")
	defer func() { endSpan(span, err) }()

	if limit == 0 {
		limit = DefaultLookupLimit
	}
	if limit < 1 || limit > MaxLookupLimit {
		return nil, &api.ValidationError{Field: "limit", Message: "must be between 1 and 20"}
	}
	params := url.Values{"q": {q}, "limit": {strconv.Itoa(limit)}}
	items, err := cache.Fetch(ctx, c.graph.queries, cache.Key(c.kind, params, "lookup"), []string{c.kind},
		func(ctx context.Context) ([]LookupItem, error) {
			var items []LookupItem
			err := c.graph.client.Get(ctx, c.endpoint("lookup"), params, &items)
			return items, err
		})
	if err != nil {
		return nil, err
	}
	return append([]LookupItem(nil), items...), nil
}
