/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-18 22:40:19
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-02-19 21:11:02
 * @FilePath: \go-quantx\ristretto_store.go
 * @Description: Ristretto 结果存储适配器（RistrettoStore）
 *
 * 对 dgraph-io/ristretto 的薄包装，满足仓库中的 `Store` 接口
 * Ristretto 提供高性能的本地缓存，支持基于成本的驱逐与统计指标
 * 当热点键集合较大且需要限制内存占用时，可用它替代默认的 MemoryStore
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"time"

	ristretto "github.com/dgraph-io/ristretto/v2"
)

// RistrettoStore 是 Ristretto 结果存储的实现
type RistrettoStore struct {
	cache *ristretto.Cache[string, []byte]
}

// RistrettoStoreConfig 用于定制 Ristretto 缓存的配置
type RistrettoStoreConfig struct {
	NumCounters int64 // 计数器数量，用于跟踪访问频率
	MaxCost     int64 // 最大缓存成本（按值字节数计）
	BufferItems int64 // Get 缓存的大小
	Metrics     bool  // 是否启用缓存统计
}

// NewDefaultRistrettoStoreConfig 创建一个新的 ristretto 配置实例
func NewDefaultRistrettoStoreConfig() *RistrettoStoreConfig {
	return &RistrettoStoreConfig{
		NumCounters: 1e6,     // 用于跟踪访问频率的键数量（100万）
		MaxCost:     1 << 28, // 缓存的最大成本（256MB）
		BufferItems: 64,      // 每次 Get 请求的键数量
		Metrics:     false,   // 不启用统计
	}
}

// NewRistrettoStore 创建新的 RistrettoStore，config 为 nil 时使用默认配置
func NewRistrettoStore(config *RistrettoStoreConfig) (*RistrettoStore, error) {
	if config == nil {
		config = NewDefaultRistrettoStoreConfig()
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: config.NumCounters,
		MaxCost:     config.MaxCost,
		BufferItems: config.BufferItems,
		Metrics:     config.Metrics,
		Cost: func(value []byte) int64 {
			return int64(len(value))
		},
		TtlTickerDurationInSec: 1,
	})
	if err != nil {
		return nil, err
	}

	return &RistrettoStore{cache: cache}, nil
}

// Get 实现 Store 接口的 Get 方法
func (s *RistrettoStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateBasicOp(key, s.cache == nil); err != nil {
		return nil, err
	}

	v, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return copyB(v), nil
}

// Set 实现 Store 接口的 Set 方法
func (s *RistrettoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateWriteOp(key, value, ttl, s.cache == nil); err != nil {
		return err
	}

	var ok bool
	if ttl == -1 {
		ok = s.cache.SetWithTTL(key, copyB(value), 0, 0*time.Second)
	} else {
		ok = s.cache.SetWithTTL(key, copyB(value), 0, ttl)
	}
	if !ok {
		return ErrInvalidValue
	}
	// ristretto 的写入是异步的，等待缓冲落盘保证读写一致
	s.cache.Wait()
	return nil
}

// Del 实现 Store 接口的 Del 方法
func (s *RistrettoStore) Del(ctx context.Context, key string) error {
	if err := ValidateBasicOp(key, s.cache == nil); err != nil {
		return err
	}

	s.cache.Del(key)
	s.cache.Wait()
	return nil
}

// GetTTL 实现 Store 接口的 GetTTL 方法
func (s *RistrettoStore) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ValidateBasicOp(key, s.cache == nil); err != nil {
		return 0, err
	}

	v, ok := s.cache.GetTTL(key)
	if !ok {
		return 0, ErrNotFound
	}
	return v, nil
}

// SweepExpired Ristretto 内部定时清理过期键，这里始终返回0
func (s *RistrettoStore) SweepExpired(ctx context.Context) (int, error) {
	if s.cache == nil {
		return 0, ErrClosed
	}
	return 0, nil
}

// Stats 返回存储统计信息
func (s *RistrettoStore) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"store_type": "ristretto",
		"closed":     s.cache == nil,
	}
	if s.cache != nil && s.cache.Metrics != nil {
		stats["hits"] = s.cache.Metrics.Hits()
		stats["misses"] = s.cache.Metrics.Misses()
		stats["cost_added"] = s.cache.Metrics.CostAdded()
	}
	return stats
}

// Close 实现 Store 接口的 Close 方法
func (s *RistrettoStore) Close() error {
	if s.cache == nil {
		return nil
	}
	s.cache.Close()
	s.cache = nil
	return nil
}
