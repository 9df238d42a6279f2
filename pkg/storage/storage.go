// Package storage persists small pieces of client state (the cached user
// projection) for the console.
//
// Four backends share the KV interface:
//
//   - FileStore: one 0600 file per key under a root directory
//   - SQLStore: a client_state table in SQLite
//   - RedisStore: prefixed keys with an optional TTL
//   - MemoryStore: process-local, used in tests and one-shot commands
//
// Open selects the backend from a Config.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned by Get when the key holds no value
var ErrNotFound = errors.New("storage: key not found")

// KV is a minimal byte-oriented key value store
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend types accepted by Config.Type
const (
	TypeFilesystem = "filesystem"
	TypeSQLite     = "sqlite"
	TypeRedis      = "redis"
	TypeMemory     = "memory"
)

// Config for storage backend
type Config struct {
	Type string `yaml:"type"`

	// Filesystem config
	FilesystemRoot string `yaml:"filesystem_root"`

	// SQLite config
	SQLitePath string `yaml:"sqlite_path"`

	// Redis config
	RedisURL       string        `yaml:"redis_url"`
	RedisPassword  string        `yaml:"redis_password"`
	RedisDB        int           `yaml:"redis_db"`
	RedisPoolSize  int           `yaml:"redis_pool_size"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix"`
	RedisTTL       time.Duration `yaml:"redis_ttl"`
}

// DefaultConfig stores state under the user's config directory
func DefaultConfig() Config {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	root := filepath.Join(base, "rbacadmin")
	return Config{
		Type:           TypeFilesystem,
		FilesystemRoot: root,
		SQLitePath:     filepath.Join(root, "state.db"),
		RedisURL:       "redis://localhost:6379/0",
		RedisKeyPrefix: "rbacadmin:",
		RedisTTL:       7 * 24 * time.Hour,
	}
}

// Validate checks that the selected backend has what it needs
func (c Config) Validate() error {
	switch c.Type {
	case TypeFilesystem:
		if c.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem storage")
		}
	case TypeSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case TypeRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis storage")
		}
	case TypeMemory:
	default:
		return fmt.Errorf("unknown storage type: %q", c.Type)
	}
	return nil
}

// Open creates the backend named by cfg.Type
func Open(ctx context.Context, cfg Config) (KV, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeFilesystem:
		return NewFileStore(cfg.FilesystemRoot)
	case TypeSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case TypeRedis:
		return NewRedisStore(ctx, cfg)
	default:
		return NewMemoryStore(), nil
	}
}
