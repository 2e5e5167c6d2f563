/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-17 20:31:15
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-03-08 21:48:26
 * @FilePath: \go-quantx\store.go
 * @Description: 基于 map 的线程安全内存结果存储，支持 TTL 和后台清理
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"sync"
	"time"

	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// MemoryStore 是默认的结果存储实现
// 惰性删除（读时检查过期）+ 后台定期清理两种方式并存，过期条目绝不对外返回
// 它实现了 Store 接口
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]memItem
	ticker *time.Ticker
	stop   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

type memItem struct {
	val    []byte
	expiry time.Time // zero = no expiry
}

// NewMemoryStore 创建一个新的 MemoryStore，cleanupInterval 控制后台清理频率（为0则使用1s）
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Second
	}
	s := &MemoryStore{
		items:  make(map[string]memItem),
		ticker: time.NewTicker(cleanupInterval),
		stop:   make(chan struct{}),
	}
	s.wg.Add(1)
	syncx.Go().OnPanic(nil).Exec(s.cleanupLoop)
	return s
}

func (s *MemoryStore) cleanupLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			s.SweepExpired(context.Background())
		case <-s.stop:
			// stop requested, exit goroutine
			return
		}
	}
}

func copyB(b []byte) []byte {
	if b == nil {
		return nil
	}
	nb := make([]byte, len(b))
	copy(nb, b)
	return nb
}

// Get 读取值，如果不存在或已过期返回ErrNotFound
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateBasicOp(key, s.isClosed()); err != nil {
		return nil, err
	}

	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if !it.expiry.IsZero() && time.Now().After(it.expiry) {
		// lazy delete
		s.mu.Lock()
		// re-check and delete
		if cur, ok2 := s.items[key]; ok2 {
			if !cur.expiry.IsZero() && time.Now().After(cur.expiry) {
				delete(s.items, key)
			}
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return copyB(it.val), nil
}

// Set 写入值并设置TTL（ttl=-1 表示永不过期，ttl=0 表示立即过期）
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateWriteOp(key, value, ttl, s.isClosed()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	it := memItem{val: copyB(value)}
	if ttl > 0 {
		it.expiry = time.Now().Add(ttl)
	} else if ttl == 0 {
		// 0 表示立即过期
		it.expiry = time.Now().Add(-time.Second)
	} else if ttl == -1 {
		// -1 表示永不过期，保持 expiry 为零值
		it.expiry = time.Time{}
	}
	s.items[key] = it
	return nil
}

// Del 删除键
func (s *MemoryStore) Del(ctx context.Context, key string) error {
	if err := ValidateBasicOp(key, s.isClosed()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// GetTTL 返回剩余TTL（0 表示无TTL），不存在或已过期返回ErrNotFound
func (s *MemoryStore) GetTTL(ctx context.Context, key string) (time.Duration, error) {
	if err := ValidateBasicOp(key, s.isClosed()); err != nil {
		return 0, err
	}

	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0, ErrNotFound
	}
	if it.expiry.IsZero() {
		return 0, nil
	}
	remaining := time.Until(it.expiry)
	if remaining <= 0 {
		return 0, ErrNotFound
	}
	return remaining, nil
}

// SweepExpired 主动清理过期条目，返回清理数量
func (s *MemoryStore) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	swept := 0
	now := time.Now()
	for k, it := range s.items {
		if !it.expiry.IsZero() && now.After(it.expiry) {
			delete(s.items, k)
			swept++
		}
	}
	return swept, nil
}

// Stats 返回存储统计信息
func (s *MemoryStore) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return map[string]interface{}{
			"closed":  true,
			"entries": 0,
		}
	}

	// 计算尚未被清理的过期项
	expiredCount := 0
	now := time.Now()
	for _, it := range s.items {
		if !it.expiry.IsZero() && now.After(it.expiry) {
			expiredCount++
		}
	}

	return map[string]interface{}{
		"entries":       len(s.items),
		"expired_items": expiredCount,
		"closed":        false,
		"store_type":    "memory",
	}
}

// Close 停止后台清理并释放资源
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	// signal goroutine to stop and stop the ticker
	close(s.stop)
	s.ticker.Stop()
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
