package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rbacadmin/pkg/storage"
)

func TestUserCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewUserCache(storage.NewMemoryStore())

	u, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	require.NoError(t, c.Save(ctx, &User{ID: "u1", Email: "a@example.com", Roles: RoleNames{"admin"}}))
	u, err = c.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "a@example.com", u.Email)

	require.NoError(t, c.Clear(ctx))
	u, err = c.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserCache_CorruptEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, UserCacheKey, []byte("{not json")))

	u, err := NewUserCache(kv).Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	_, err = kv.Get(ctx, UserCacheKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
