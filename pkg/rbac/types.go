package rbac

import (
	"net/url"
	"strconv"
	"time"
)

// Entity kinds, as used in endpoints, cache tags and metrics
const (
	KindResources    = "resources"
	KindActions      = "actions"
	KindPolicies     = "policies"
	KindRoles        = "roles"
	KindRolePolicies = "role-policies"
	KindUserRoles    = "user-roles"
)

// Resource is a protectable noun, e.g. "orders"
type Resource struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Action is a verb, e.g. "create"
type Action struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ResourceRef is the resource snapshot embedded in a policy
type ResourceRef struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// ActionRef is the action snapshot embedded in a policy
type ActionRef struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Policy grants an Action on a Resource, optionally narrowed by an opaque
// condition expression evaluated by the backend
type Policy struct {
	ID                  string       `json:"id"`
	ResourceID          string       `json:"resourceId"`
	ActionID            string       `json:"actionId"`
	ConditionExpression *string      `json:"conditionExpression,omitempty"`
	Description         *string      `json:"description,omitempty"`
	IsActive            bool         `json:"isActive"`
	Resource            *ResourceRef `json:"resource,omitempty"`
	Action              *ActionRef   `json:"action,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// Permission renders the policy as "resource:action", falling back to ids
// when the snapshots are missing
func (p Policy) Permission() Permission {
	perm := Permission{Resource: p.ResourceID, Action: p.ActionID, Condition: p.ConditionExpression}
	if p.Resource != nil {
		perm.Resource = p.Resource.Code
	}
	if p.Action != nil {
		perm.Action = p.Action.Code
	}
	return perm
}

// Role groups policies. UserCount is maintained by the backend.
type Role struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	IsActive    bool      `json:"isActive"`
	UserCount   int       `json:"userCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RolePolicy binds a role to a policy
type RolePolicy struct {
	ID        string    `json:"id"`
	RoleID    string    `json:"roleId"`
	PolicyID  string    `json:"policyId"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserRole binds a user to a role
type UserRole struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	RoleID     string    `json:"roleId"`
	AssignedBy *string   `json:"assignedBy,omitempty"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Page is one page of a list
type Page[T any] struct {
	Data       []T `json:"data"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

func (p Page[T]) clone() *Page[T] {
	p.Data = append([]T(nil), p.Data...)
	return &p
}

// Sort orders
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Paging bounds
const (
	DefaultLimit       = 10
	MaxLimit           = 100
	DefaultLookupLimit = 10
	MaxLookupLimit     = 20
)

// ListFilter selects a page of a collection. Foreign-key filters apply only
// to the kinds that carry the field.
type ListFilter struct {
	Search    string
	IsActive  *bool
	Page      int
	Limit     int
	SortBy    string
	SortOrder string

	ResourceID string
	ActionID   string
	RoleID     string
	PolicyID   string
	UserID     string
}

func (f ListFilter) withDefaults() ListFilter {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	return f
}

// Values encodes the filter as query parameters
func (f ListFilter) Values() url.Values {
	f = f.withDefaults()
	v := url.Values{}
	v.Set("page", strconv.Itoa(f.Page))
	v.Set("limit", strconv.Itoa(f.Limit))
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("search", f.Search)
	set("sortBy", f.SortBy)
	set("sortOrder", f.SortOrder)
	set("resourceId", f.ResourceID)
	set("actionId", f.ActionID)
	set("roleId", f.RoleID)
	set("policyId", f.PolicyID)
	set("userId", f.UserID)
	if f.IsActive != nil {
		v.Set("isActive", strconv.FormatBool(*f.IsActive))
	}
	return v
}

// LookupItem is the lightweight projection used to populate pickers
type LookupItem struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// EntityInput creates a resource, action or role
type EntityInput struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"isActive,omitempty"`
}

// EntityUpdate changes only the fields that are set. Codes are immutable.
type EntityUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsActive    *bool   `json:"isActive,omitempty"`
}

// PolicyInput creates a policy
type PolicyInput struct {
	ResourceID          string  `json:"resourceId"`
	ActionID            string  `json:"actionId"`
	ConditionExpression *string `json:"conditionExpression,omitempty"`
	Description         *string `json:"description,omitempty"`
	IsActive            *bool   `json:"isActive,omitempty"`
}

// PolicyUpdate changes only the fields that are set
type PolicyUpdate struct {
	ResourceID          *string `json:"resourceId,omitempty"`
	ActionID            *string `json:"actionId,omitempty"`
	ConditionExpression *string `json:"conditionExpression,omitempty"`
	Description         *string `json:"description,omitempty"`
	IsActive            *bool   `json:"isActive,omitempty"`
}

// RolePolicyInput creates a role-policy binding
type RolePolicyInput struct {
	RoleID   string `json:"roleId"`
	PolicyID string `json:"policyId"`
	IsActive *bool  `json:"isActive,omitempty"`
}

// RolePolicyUpdate changes a role-policy binding
type RolePolicyUpdate struct {
	IsActive *bool `json:"isActive,omitempty"`
}

// UserRoleInput creates a user-role binding
type UserRoleInput struct {
	UserID     string  `json:"userId"`
	RoleID     string  `json:"roleId"`
	AssignedBy *string `json:"assignedBy,omitempty"`
	IsActive   *bool   `json:"isActive,omitempty"`
}

// UserRoleUpdate changes a user-role binding
type UserRoleUpdate struct {
	AssignedBy *string `json:"assignedBy,omitempty"`
	IsActive   *bool   `json:"isActive,omitempty"`
}

// Bool returns a pointer to b
func Bool(b bool) *bool { return &b }

// String returns a pointer to s
func String(s string) *string { return &s }

func (r Resource) entityID() string   { return r.ID }
func (a Action) entityID() string     { return a.ID }
func (p Policy) entityID() string     { return p.ID }
func (r Role) entityID() string       { return r.ID }
func (r RolePolicy) entityID() string { return r.ID }
func (u UserRole) entityID() string   { return u.ID }

func entityID(v any) string {
	if e, ok := v.(interface{ entityID() string }); ok {
		return e.entityID()
	}
	return ""
}
