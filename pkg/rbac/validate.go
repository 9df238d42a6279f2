package rbac

import (
	"strings"

	"github.com/platinummonkey/rbacadmin/pkg/api"
)

// MaxCodeLength bounds resource, action and role codes
const MaxCodeLength = 64

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &api.ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

func notEmpty(field string, value *string) error {
	if value != nil && strings.TrimSpace(*value) == "" {
		return &api.ValidationError{Field: field, Message: "must not be empty"}
	}
	return nil
}

func validCode(code string) error {
	if err := required("code", code); err != nil {
		return err
	}
	if len(code) > MaxCodeLength {
		return &api.ValidationError{Field: "code", Message: "must be at most 64 characters"}
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate checks code and name
func (in EntityInput) Validate() error {
	return firstError(validCode(in.Code), required("name", in.Name))
}

// Validate rejects an explicitly empty name
func (in EntityUpdate) Validate() error {
	return notEmpty("name", in.Name)
}

// Validate checks both references
func (in PolicyInput) Validate() error {
	return firstError(required("resourceId", in.ResourceID), required("actionId", in.ActionID))
}

// Validate rejects explicitly empty references
func (in PolicyUpdate) Validate() error {
	return firstError(notEmpty("resourceId", in.ResourceID), notEmpty("actionId", in.ActionID))
}

// Validate checks both ends of the binding
func (in RolePolicyInput) Validate() error {
	return firstError(required("roleId", in.RoleID), required("policyId", in.PolicyID))
}

func (in RolePolicyUpdate) Validate() error { return nil }

// Validate checks both ends of the binding
func (in UserRoleInput) Validate() error {
	return firstError(required("userId", in.UserID), required("roleId", in.RoleID))
}

func (in UserRoleUpdate) Validate() error { return nil }

// Validate checks the paging bounds after defaults are applied
func (f ListFilter) Validate() error {
	f = f.withDefaults()
	if f.Page < 1 {
		return &api.ValidationError{Field: "page", Message: "must be at least 1"}
	}
	if f.Limit < 1 || f.Limit > MaxLimit {
		return &api.ValidationError{Field: "limit", Message: "must be between 1 and 100"}
	}
	if f.SortOrder != "" && f.SortOrder != SortAsc && f.SortOrder != SortDesc {
		return &api.ValidationError{Field: "sortOrder", Message: "must be asc or desc"}
	}
	return nil
}
