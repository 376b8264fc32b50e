package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// lruCache 基于 hashicorp expirable LRU 的本地缓存实现
type lruCache struct {
	cache *expirable.LRU[string, interface{}]
}

// NewLRUCache 创建本地 LRU 缓存
func NewLRUCache(config LocalConfig) Cache {
	size := config.MaxSize
	if size <= 0 {
		size = 1000
	}
	return &lruCache{
		cache: expirable.NewLRU[string, interface{}](size, nil, config.DefaultExpiration),
	}
}

// Get 获取缓存值
func (lc *lruCache) Get(ctx context.Context, key string) (interface{}, bool) {
	return lc.cache.Get(key)
}

// Set 设置缓存值（expirable LRU 为全局过期时间，单键过期取配置值）
func (lc *lruCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	lc.cache.Add(key, value)
	return nil
}

// Delete 删除缓存
func (lc *lruCache) Delete(ctx context.Context, key string) error {
	lc.cache.Remove(key)
	return nil
}

// Exists 检查键是否存在
func (lc *lruCache) Exists(ctx context.Context, key string) bool {
	return lc.cache.Contains(key)
}

// Clear 清空所有缓存
func (lc *lruCache) Clear(ctx context.Context) error {
	lc.cache.Purge()
	return nil
}

// Close 关闭缓存连接
func (lc *lruCache) Close() error {
	return nil
}
