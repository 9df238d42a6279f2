package backendtest

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rbacadmin/pkg/httputil"
)

func (b *Backend) collectionFor(w http.ResponseWriter, r *http.Request) (*collection, bool) {
	c, ok := b.kinds[mux.Vars(r)["kind"]]
	if !ok {
		httputil.WriteNotFound(w, "Not found")
	}
	return c, ok
}

func writeStoreError(w http.ResponseWriter, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		httputil.WriteErrorMessage(w, apiErr.status, apiErr.message)
		return
	}
	httputil.WriteInternalError(w, err)
}

func (b *Backend) handleList(w http.ResponseWriter, r *http.Request) {
	c, ok := b.collectionFor(w, r)
	if !ok {
		return
	}

	page, err := httputil.QueryInt(r, "page", 1)
	if err != nil || page < 1 {
		httputil.WriteBadRequest(w, "page must be a positive integer")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 10)
	if err != nil || limit < 1 || limit > 100 {
		httputil.WriteBadRequest(w, "limit must be between 1 and 100")
		return
	}
	isActive, err := httputil.QueryBool(r, "isActive")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	query := r.URL.Query()
	q := listQuery{
		search:    query.Get("search"),
		isActive:  isActive,
		filters:   make(map[string]string),
		sortBy:    query.Get("sortBy"),
		sortOrder: query.Get("sortOrder"),
		page:      page,
		limit:     limit,
	}
	for _, field := range c.spec.filters {
		if v := query.Get(field); v != "" {
			q.filters[field] = v
		}
	}

	b.mu.Lock()
	result := b.listLocked(c, q)
	b.mu.Unlock()
	_ = httputil.WriteSuccess(w, result)
}

func (b *Backend) handleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := b.collectionFor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	row, ok := c.items[id]
	if !ok {
		httputil.WriteNotFound(w, c.spec.label+" not found")
		return
	}
	_ = httputil.WriteSuccess(w, b.viewLocked(c, row))
}

func (b *Backend) handleCreate(w http.ResponseWriter, r *http.Request) {
	c, ok := b.collectionFor(w, r)
	if !ok {
		return
	}
	var body object
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	b.mu.Lock()
	row, err := b.createLocked(c, body)
	b.mu.Unlock()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, row)
}

func (b *Backend) handleUpdate(w http.ResponseWriter, r *http.Request) {
	c, ok := b.collectionFor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body object
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	b.mu.Lock()
	row, err := b.updateLocked(c, id, body)
	b.mu.Unlock()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, row)
}

func (b *Backend) handleDelete(w http.ResponseWriter, r *http.Request) {
	c, ok := b.collectionFor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b.mu.Lock()
	err := b.deleteLocked(c, id)
	b.mu.Unlock()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteMessage(w, c.spec.label+" deleted")
}

func (b *Backend) handleLookup(w http.ResponseWriter, r *http.Request) {
	c, ok := b.collectionFor(w, r)
	if !ok {
		return
	}
	if c.spec.pair[0] != "" {
		httputil.WriteNotFound(w, "Lookup is not supported for "+c.kind)
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 10)
	if err != nil || limit < 1 || limit > 20 {
		httputil.WriteBadRequest(w, "limit must be between 1 and 20")
		return
	}
	b.mu.Lock()
	items := b.lookupLocked(c, r.URL.Query().Get("q"), limit)
	b.mu.Unlock()
	_ = httputil.WriteSuccess(w, items)
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := httputil.PathParam(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", false
	}
	return id, true
}
