package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/platinummonkey/rbacadmin/pkg/storage"
)

// UserCacheKey is the persisted entry holding the last-known user
const UserCacheKey = "user_data"

// UserCache persists the User projection. It is only a hint used to skip a
// fetch at bootstrap, never a source of truth.
type UserCache struct {
	kv storage.KV
}

// NewUserCache wraps kv
func NewUserCache(kv storage.KV) *UserCache {
	return &UserCache{kv: kv}
}

// Load returns the cached user, or nil when there is none. An unreadable
// entry is removed and treated as absent.
func (c *UserCache) Load(ctx context.Context) (*User, error) {
	data, err := c.kv.Get(ctx, UserCacheKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached user: %w", err)
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil || u.ID == "" {
		_ = c.kv.Delete(ctx, UserCacheKey)
		return nil, nil
	}
	return &u, nil
}

// Save stores u
func (c *UserCache) Save(ctx context.Context, u *User) error {
	if u == nil {
		return c.Clear(ctx)
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := c.kv.Set(ctx, UserCacheKey, data); err != nil {
		return fmt.Errorf("failed to cache user: %w", err)
	}
	return nil
}

// Clear deletes the cached user
func (c *UserCache) Clear(ctx context.Context) error {
	if err := c.kv.Delete(ctx, UserCacheKey); err != nil {
		return fmt.Errorf("failed to clear cached user: %w", err)
	}
	return nil
}
