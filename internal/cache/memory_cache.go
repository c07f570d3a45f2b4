// Package cache holds recently fetched remote objects in memory.
package cache

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/ristretto"
	"lukechampine.com/blake3"
)

// MemoryCache provides in-memory caching with cost based eviction
type MemoryCache struct {
	cache  *ristretto.Cache
	name   string
	ttl    time.Duration
	logger *slog.Logger
}

// MemoryCacheConfig defines configuration for the memory cache
type MemoryCacheConfig struct {
	Name        string        // Cache name for logging
	MaxSize     int64         // Max memory in bytes
	MaxItems    int64         // Max number of items (optional)
	BufferItems int64         // Internal buffer size (10x MaxItems recommended)
	TTL         time.Duration // Default time to live for entries
}

// NewMemoryCache creates a new in-memory cache with the given configuration
func NewMemoryCache(cfg MemoryCacheConfig, logger *slog.Logger) (*MemoryCache, error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("MaxSize must be specified for memory cache")
	}

	if cfg.MaxItems == 0 {
		// Estimate: assume average item is ~100KB
		cfg.MaxItems = max(cfg.MaxSize/(100*1024), 100)
	}

	if cfg.BufferItems == 0 {
		cfg.BufferItems = max(cfg.MaxItems*10, 1000)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.BufferItems, // keys tracked for admission frequency
		MaxCost:     cfg.MaxSize,
		BufferItems: 64,
		Metrics:     true,
		OnEvict: func(item *ristretto.Item) {
			logger.Debug("evicted cache item", slog.String("cache", cfg.Name), slog.Int64("cost", item.Cost))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	logger.Info("memory cache initialized",
		slog.String("cache", cfg.Name),
		slog.Int64("max_size_mb", cfg.MaxSize>>20),
		slog.Int64("max_items", cfg.MaxItems),
	)

	return &MemoryCache{cache: cache, name: cfg.Name, ttl: cfg.TTL, logger: logger}, nil
}

// Key hashes an arbitrary identifier (a URL, a path) into a fixed size cache key
func Key(id string) string {
	hash := blake3.Sum256([]byte(id))
	return hex.EncodeToString(hash[:])
}

// Get retrieves a value from the cache
func (mc *MemoryCache) Get(key string) ([]byte, bool) {
	value, found := mc.cache.Get(key)
	if !found {
		return nil, false
	}

	data, ok := value.([]byte)
	if !ok {
		mc.logger.Warn("invalid cache value type", slog.String("cache", mc.name))
		return nil, false
	}
	return data, true
}

// Set stores data under key with the default TTL. It may return false when
// ristretto drops the write; a dropped write only costs a later miss.
func (mc *MemoryCache) Set(key string, data []byte) bool {
	ok := mc.cache.SetWithTTL(key, data, int64(len(data)), mc.ttl)
	if !ok {
		mc.logger.Debug("cache write rejected", slog.String("cache", mc.name), slog.Int("size", len(data)))
	}
	return ok
}

// Delete removes a key from the cache
func (mc *MemoryCache) Delete(key string) {
	mc.cache.Del(key)
}

// Wait blocks until all pending writes are processed
func (mc *MemoryCache) Wait() {
	mc.cache.Wait()
}

// Stats returns cache counters
func (mc *MemoryCache) Stats() map[string]any {
	metrics := mc.cache.Metrics

	hits := metrics.Hits()
	misses := metrics.Misses()
	total := hits + misses

	var hitRatio float64
	if total > 0 {
		hitRatio = float64(hits) / float64(total)
	}

	return map[string]any{
		"name":         mc.name,
		"hits":         hits,
		"misses":       misses,
		"hit_ratio":    hitRatio,
		"keys_added":   metrics.KeysAdded(),
		"keys_evicted": metrics.KeysEvicted(),
		"cost_added":   metrics.CostAdded(),
		"cost_evicted": metrics.CostEvicted(),
	}
}

// Close releases the cache goroutines
func (mc *MemoryCache) Close() {
	mc.cache.Close()
	mc.logger.Debug("memory cache closed", slog.String("cache", mc.name))
}
