package backendtest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entity kinds as they appear in URLs
const (
	KindResources    = "resources"
	KindActions      = "actions"
	KindPolicies     = "policies"
	KindRoles        = "roles"
	KindRolePolicies = "role-policies"
	KindUserRoles    = "user-roles"
)

// object is one stored row in its JSON shape
type object map[string]interface{}

func (o object) str(field string) string {
	s, _ := o[field].(string)
	return s
}

func (o object) boolean(field string) bool {
	v, _ := o[field].(bool)
	return v
}

func (o object) clone() object {
	out := make(object, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

type kindSpec struct {
	label    string
	required []string
	writable []string
	// refs maps a foreign-key field to the kind it must reference
	refs     map[string]string
	filters  []string
	search   []string
	hasCode  bool
	pair     [2]string
	conflict string
}

var kindSpecs = map[string]kindSpec{
	KindResources: {
		label:    "Resource",
		required: []string{"code", "name"},
		writable: []string{"code", "name", "description", "isActive"},
		search:   []string{"code", "name", "description"},
		hasCode:  true,
	},
	KindActions: {
		label:    "Action",
		required: []string{"code", "name"},
		writable: []string{"code", "name", "description", "isActive"},
		search:   []string{"code", "name", "description"},
		hasCode:  true,
	},
	KindPolicies: {
		label:    "Policy",
		required: []string{"resourceId", "actionId"},
		writable: []string{"resourceId", "actionId", "conditionExpression", "description", "isActive"},
		refs:     map[string]string{"resourceId": KindResources, "actionId": KindActions},
		filters:  []string{"resourceId", "actionId"},
		search:   []string{"description", "conditionExpression"},
	},
	KindRoles: {
		label:    "Role",
		required: []string{"code", "name"},
		writable: []string{"code", "name", "description", "isActive"},
		search:   []string{"code", "name", "description"},
		hasCode:  true,
	},
	KindRolePolicies: {
		label:    "RolePolicy",
		required: []string{"roleId", "policyId"},
		writable: []string{"isActive"},
		refs:     map[string]string{"roleId": KindRoles, "policyId": KindPolicies},
		filters:  []string{"roleId", "policyId"},
		pair:     [2]string{"roleId", "policyId"},
		conflict: "Policy is already assigned to this role",
	},
	KindUserRoles: {
		label:    "UserRole",
		required: []string{"userId", "roleId"},
		writable: []string{"assignedBy", "isActive"},
		refs:     map[string]string{"roleId": KindRoles},
		filters:  []string{"userId", "roleId"},
		pair:     [2]string{"userId", "roleId"},
		conflict: "Role is already assigned to this user",
	},
}

type collection struct {
	kind  string
	spec  kindSpec
	items map[string]object
	order []string
}

func newCollections() map[string]*collection {
	out := make(map[string]*collection, len(kindSpecs))
	for kind, spec := range kindSpecs {
		out[kind] = &collection{kind: kind, spec: spec, items: make(map[string]object)}
	}
	return out
}

// ordered returns rows in insertion order
func (c *collection) ordered() []object {
	out := make([]object, 0, len(c.order))
	for _, id := range c.order {
		if o, ok := c.items[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

func (c *collection) remove(id string) {
	delete(c.items, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// apiError carries an HTTP status out of the store
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(format string, args ...interface{}) error {
	return &apiError{status: 400, message: fmt.Sprintf(format, args...)}
}

func notFound(label string) error {
	return &apiError{status: 404, message: label + " not found"}
}

func conflict(message string) error {
	return &apiError{status: 409, message: message}
}

// createLocked validates and inserts a row
func (b *Backend) createLocked(c *collection, body object) (object, error) {
	for _, field := range c.spec.required {
		if strings.TrimSpace(body.str(field)) == "" {
			return nil, badRequest("%s is required", field)
		}
	}

	row := object{}
	for _, field := range append(append([]string{}, c.spec.required...), c.spec.writable...) {
		if v, ok := body[field]; ok {
			row[field] = v
		}
	}
	if _, ok := row["isActive"].(bool); !ok {
		row["isActive"] = true
	}
	if err := b.checkRefsLocked(c, row); err != nil {
		return nil, err
	}
	if err := b.checkUniqueLocked(c, row, ""); err != nil {
		return nil, err
	}

	now := b.now().UTC().Format(time.RFC3339Nano)
	row["id"] = uuid.NewString()
	row["createdAt"] = now
	row["updatedAt"] = now

	c.items[row.str("id")] = row
	c.order = append(c.order, row.str("id"))
	return b.viewLocked(c, row), nil
}

// updateLocked applies only the provided writable fields
func (b *Backend) updateLocked(c *collection, id string, body object) (object, error) {
	row, ok := c.items[id]
	if !ok {
		return nil, notFound(c.spec.label)
	}

	next := row.clone()
	for _, field := range c.spec.writable {
		v, ok := body[field]
		if !ok {
			continue
		}
		if field == "code" && v != row["code"] {
			return nil, badRequest("code is immutable")
		}
		next[field] = v
	}
	for _, field := range c.spec.required {
		if _, touched := body[field]; touched && strings.TrimSpace(next.str(field)) == "" {
			return nil, badRequest("%s must not be empty", field)
		}
	}
	if err := b.checkRefsLocked(c, next); err != nil {
		return nil, err
	}
	if err := b.checkUniqueLocked(c, next, id); err != nil {
		return nil, err
	}

	next["updatedAt"] = b.now().UTC().Format(time.RFC3339Nano)
	c.items[id] = next
	return b.viewLocked(c, next), nil
}

// deleteLocked refuses to orphan policies and cascades bindings
func (b *Backend) deleteLocked(c *collection, id string) error {
	if _, ok := c.items[id]; !ok {
		return notFound(c.spec.label)
	}

	switch c.kind {
	case KindResources, KindActions:
		field := "resourceId"
		if c.kind == KindActions {
			field = "actionId"
		}
		for _, p := range b.kinds[KindPolicies].ordered() {
			if p.str(field) == id {
				return conflict(fmt.Sprintf("%s is referenced by existing policies", c.spec.label))
			}
		}
	case KindPolicies:
		b.cascadeLocked(KindRolePolicies, "policyId", id)
	case KindRoles:
		b.cascadeLocked(KindRolePolicies, "roleId", id)
		b.cascadeLocked(KindUserRoles, "roleId", id)
	}

	c.remove(id)
	return nil
}

func (b *Backend) cascadeLocked(kind, field, id string) {
	c := b.kinds[kind]
	for _, row := range c.ordered() {
		if row.str(field) == id {
			c.remove(row.str("id"))
		}
	}
}

func (b *Backend) checkRefsLocked(c *collection, row object) error {
	for field, kind := range c.spec.refs {
		if _, ok := b.kinds[kind].items[row.str(field)]; !ok {
			return notFound(kindSpecs[kind].label)
		}
	}
	return nil
}

func (b *Backend) checkUniqueLocked(c *collection, row object, selfID string) error {
	for _, other := range c.ordered() {
		if other.str("id") == selfID {
			continue
		}
		if c.spec.hasCode && strings.EqualFold(other.str("code"), row.str("code")) {
			return conflict(fmt.Sprintf("%s with code %q already exists", c.spec.label, row.str("code")))
		}
		if c.spec.pair[0] != "" && row.boolean("isActive") && other.boolean("isActive") &&
			other.str(c.spec.pair[0]) == row.str(c.spec.pair[0]) &&
			other.str(c.spec.pair[1]) == row.str(c.spec.pair[1]) {
			return conflict(c.spec.conflict)
		}
	}
	return nil
}

// viewLocked adds the read-only projections a GET returns
func (b *Backend) viewLocked(c *collection, row object) object {
	out := row.clone()
	switch c.kind {
	case KindPolicies:
		if r, ok := b.kinds[KindResources].items[row.str("resourceId")]; ok {
			out["resource"] = map[string]string{"id": r.str("id"), "code": r.str("code"), "name": r.str("name")}
		}
		if a, ok := b.kinds[KindActions].items[row.str("actionId")]; ok {
			out["action"] = map[string]string{"id": a.str("id"), "code": a.str("code"), "name": a.str("name")}
		}
	case KindRoles:
		count := 0
		for _, ur := range b.kinds[KindUserRoles].ordered() {
			if ur.str("roleId") == row.str("id") && ur.boolean("isActive") {
				count++
			}
		}
		out["userCount"] = count
	}
	return out
}

// listQuery is a parsed list request
type listQuery struct {
	search    string
	isActive  *bool
	filters   map[string]string
	sortBy    string
	sortOrder string
	page      int
	limit     int
}

// Page is the list envelope
type Page struct {
	Data       []object `json:"data"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	TotalPages int      `json:"totalPages"`
}

func (b *Backend) listLocked(c *collection, q listQuery) Page {
	var rows []object
	for _, row := range c.ordered() {
		view := b.viewLocked(c, row)
		if q.isActive != nil && view.boolean("isActive") != *q.isActive {
			continue
		}
		if !matchesFilters(view, q.filters) || !matchesSearch(view, c, q.search) {
			continue
		}
		rows = append(rows, view)
	}

	if q.sortBy != "" {
		desc := strings.EqualFold(q.sortOrder, "desc")
		sort.SliceStable(rows, func(i, j int) bool {
			x, y := fmt.Sprint(rows[i][q.sortBy]), fmt.Sprint(rows[j][q.sortBy])
			if desc {
				return x > y
			}
			return x < y
		})
	}

	total := len(rows)
	start := (q.page - 1) * q.limit
	end := start + q.limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	data := rows[start:end]
	if data == nil {
		data = []object{}
	}
	return Page{
		Data:       data,
		Total:      total,
		Page:       q.page,
		Limit:      q.limit,
		TotalPages: (total + q.limit - 1) / q.limit,
	}
}

func matchesFilters(row object, filters map[string]string) bool {
	for field, want := range filters {
		if row.str(field) != want {
			return false
		}
	}
	return true
}

func matchesSearch(row object, c *collection, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	if c.kind == KindPolicies {
		for _, ref := range []string{"resource", "action"} {
			if m, ok := row[ref].(map[string]string); ok && strings.Contains(strings.ToLower(m["code"]), needle) {
				return true
			}
		}
	}
	for _, field := range c.spec.search {
		if strings.Contains(strings.ToLower(row.str(field)), needle) {
			return true
		}
	}
	return false
}

// LookupItem is one lookup hit
type LookupItem struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

func (b *Backend) lookupLocked(c *collection, q string, limit int) []LookupItem {
	out := []LookupItem{}
	for _, row := range c.ordered() {
		if len(out) == limit {
			break
		}
		view := b.viewLocked(c, row)
		if !view.boolean("isActive") || !matchesSearch(view, c, q) {
			continue
		}
		item := LookupItem{ID: view.str("id"), Code: view.str("code"), Name: view.str("name")}
		if c.kind == KindPolicies {
			r, _ := view["resource"].(map[string]string)
			a, _ := view["action"].(map[string]string)
			item.Code = r["code"] + ":" + a["code"]
			item.Name = view.str("description")
			if item.Name == "" {
				item.Name = r["name"] + " / " + a["name"]
			}
		}
		out = append(out, item)
	}
	return out
}

// Seed inserts a row directly, bypassing HTTP; it panics on invalid input
func (b *Backend) Seed(kind string, fields map[string]interface{}) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.kinds[kind]
	if !ok {
		panic("backendtest: unknown kind " + kind)
	}
	row, err := b.createLocked(c, object(fields))
	if err != nil {
		panic("backendtest: seed " + kind + ": " + err.Error())
	}
	return row.str("id")
}

// Count returns the number of stored rows of kind
func (b *Backend) Count(kind string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.kinds[kind]; ok {
		return len(c.items)
	}
	return 0
}
