package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults when no file", func(t *testing.T) {
		cfg, err := Load("dev", t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.Server.Port)
		assert.Equal(t, 3, cfg.Sync.MaxReplyDepth)
		assert.Equal(t, time.Second, cfg.Sync.RetryDelay)
		assert.Equal(t, "post-images", cfg.OSS.PostBucket)
		assert.Equal(t, "comment-images", cfg.OSS.CommentBucket)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		yaml := []byte("sync:\n  max_reply_depth: 5\n  retry_delay: 250ms\nredis:\n  addr: redis:6379\n")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.test.yaml"), yaml, 0o600))

		cfg, err := Load("test", dir)
		require.NoError(t, err)

		assert.Equal(t, 5, cfg.Sync.MaxReplyDepth)
		assert.Equal(t, 250*time.Millisecond, cfg.Sync.RetryDelay)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("SYNC_MAX_REPLY_DEPTH", "2")
		t.Setenv("JWT_SECRET", "an-env-provided-secret-of-sufficient-length")

		cfg, err := Load("dev", t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, 2, cfg.Sync.MaxReplyDepth)
		assert.Equal(t, "an-env-provided-secret-of-sufficient-length", cfg.JWT.Secret)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			JWT:      JWTConfig{Secret: "0123456789abcdef0123456789abcdef"},
			Database: DatabaseConfig{Host: "db", User: "feed", DBName: "feed"},
			Redis:    RedisConfig{Addr: "localhost:6379"},
			Sync:     SyncConfig{MaxReplyDepth: 3, Workers: 2, QueueSize: 8, FeedPageSize: 20},
		}
	}

	assert.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"short secret":   func(c *Config) { c.JWT.Secret = "short" },
		"no db host":     func(c *Config) { c.Database.Host = "" },
		"no redis":       func(c *Config) { c.Redis.Addr = "" },
		"zero depth":     func(c *Config) { c.Sync.MaxReplyDepth = 0 },
		"no workers":     func(c *Config) { c.Sync.Workers = 0 },
		"zero page size": func(c *Config) { c.Sync.FeedPageSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
