package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseKV runs the behaviour every backend shares
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, err := kv.Get(ctx, "user_data")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set(ctx, "user_data", []byte(`{"id":"u1"}`)))
	got, err := kv.Get(ctx, "user_data")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"u1"}`, string(got))

	require.NoError(t, kv.Set(ctx, "user_data", []byte(`{"id":"u2"}`)))
	got, err = kv.Get(ctx, "user_data")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"u2"}`, string(got))

	require.NoError(t, kv.Delete(ctx, "user_data"))
	_, err = kv.Get(ctx, "user_data")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, kv.Delete(ctx, "user_data"), "deleting a missing key is not an error")
}

func TestMemoryStore(t *testing.T) {
	exerciseKV(t, NewMemoryStore())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"filesystem ok", Config{Type: TypeFilesystem, FilesystemRoot: "/tmp/x"}, false},
		{"filesystem no root", Config{Type: TypeFilesystem}, true},
		{"sqlite no path", Config{Type: TypeSQLite}, true},
		{"redis no url", Config{Type: TypeRedis}, true},
		{"memory", Config{Type: TypeMemory}, false},
		{"unknown", Config{Type: "etcd"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	kv, err := Open(ctx, Config{Type: TypeMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, kv)

	kv, err = Open(ctx, Config{Type: TypeFilesystem, FilesystemRoot: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, kv)

	_, err = Open(ctx, Config{Type: "etcd"})
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, TypeFilesystem, cfg.Type)
	assert.NoError(t, cfg.Validate())
}
