package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"feedsync/pkg/metrics"
)

var ErrCacheMiss = errors.New("cache miss")

// CacheService 缓存服务接口
type CacheService interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// RedisCache Redis 缓存实现
type RedisCache struct {
	client    *redis.Client
	prefix    string
	collector *metrics.MetricsCollector
}

// NewRedisCache 创建 Redis 缓存服务
func NewRedisCache(client *redis.Client, mode string, collector *metrics.MetricsCollector) CacheService {
	prefix := "feedsync:"
	if mode == "test" {
		prefix = "test:" + prefix
	}
	return &RedisCache{
		client:    client,
		prefix:    prefix,
		collector: collector,
	}
}

// getKey 获取完整的缓存键
func (c *RedisCache) getKey(key string) string {
	return c.prefix + key
}

// Get 获取缓存
func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.client.Get(ctx, c.getKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.collector.RecordCacheOperation("get", "redis", false)
			return ErrCacheMiss
		}
		return fmt.Errorf("cache get error: %w", err)
	}
	c.collector.RecordCacheOperation("get", "redis", true)

	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

// Set 设置缓存
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}

	if err := c.client.Set(ctx, c.getKey(key), data, expiration).Err(); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	c.collector.RecordCacheOperation("set", "redis", true)
	return nil
}

// Delete 删除缓存
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.getKey(key)).Err()
}

// Exists 检查缓存是否存在
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	result, err := c.client.Exists(ctx, c.getKey(key)).Result()
	return result > 0, err
}

// MemoryCache 内存缓存实现（用于开发/测试）. Values are stored encoded so
// callers never share state with the cache.
type MemoryCache struct {
	data      map[string]*cacheItem
	mu        sync.Mutex
	now       func() time.Time
	collector *metrics.MetricsCollector
}

type cacheItem struct {
	value      []byte
	expiration time.Time
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache(collector *metrics.MetricsCollector) CacheService {
	return &MemoryCache{
		data:      make(map[string]*cacheItem),
		now:       time.Now,
		collector: collector,
	}
}

// live returns the item for key, evicting it if expired. Caller holds mu.
func (c *MemoryCache) live(key string) (*cacheItem, bool) {
	item, ok := c.data[key]
	if !ok {
		return nil, false
	}
	if !item.expiration.IsZero() && c.now().After(item.expiration) {
		delete(c.data, key)
		return nil, false
	}
	return item, true
}

func (c *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	item, ok := c.live(key)
	c.mu.Unlock()

	c.collector.RecordCacheOperation("get", "memory", ok)
	if !ok {
		return ErrCacheMiss
	}
	if err := json.Unmarshal(item.value, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

// Set 设置缓存, expiration <= 0 表示不过期
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}

	item := &cacheItem{value: data}
	if expiration > 0 {
		item.expiration = c.now().Add(expiration)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = item
	c.cleanup()
	c.collector.RecordCacheOperation("set", "memory", true)
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.live(key)
	return ok, nil
}

// cleanup 清理过期项
func (c *MemoryCache) cleanup() {
	now := c.now()
	for key, item := range c.data {
		if !item.expiration.IsZero() && now.After(item.expiration) {
			delete(c.data, key)
		}
	}
}
