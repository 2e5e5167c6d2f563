/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-27 21:50:36
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-04-20 21:33:41
 * @FilePath: \go-quantx\hotset.go
 * @Description: 分层热点键集合
 *
 * 按层级（如 hot / warm）维护需要预计算保活的键集合：
 *  - 运行时可增删键，变更可选地持久化到 Redis，重启后恢复
 *  - 可选注入加载函数定期从外部数据源（排行榜、订阅表）刷新集合
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kamalyes/go-logger"
	"github.com/kamalyes/go-toolbox/pkg/mathx"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
	"github.com/redis/go-redis/v9"
)

// HotSetLoader 从外部数据源加载热点键集合：层级名 -> 键列表
type HotSetLoader func(ctx context.Context) (map[string][]AnalysisKey, error)

// HotSetConfig 热点集合配置
type HotSetConfig struct {
	Namespace      string                // 持久化键的命名空间，默认 "quantx"
	Client         redis.UniversalClient // 持久化客户端（nil 表示仅内存）
	Loader         HotSetLoader          // 外部加载函数（可选）
	ReloadInterval time.Duration         // 加载函数的刷新间隔，0 表示不自动刷新
	Logger         logger.ILogger        // 日志记录器（可选）
}

// HotSet 分层热点键集合
type HotSet struct {
	mu     sync.RWMutex
	tiers    map[string]map[AnalysisKey]struct{}
	config   HotSetConfig
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   logger.ILogger
}

// NewHotSet 创建热点集合；配置了持久化客户端时会尝试恢复上次的集合
func NewHotSet(config ...HotSetConfig) *HotSet {
	cfg := HotSetConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg.Namespace = mathx.IfNotEmpty(cfg.Namespace, "quantx")

	h := &HotSet{
		tiers:  make(map[string]map[AnalysisKey]struct{}),
		config: cfg,
		stop:   make(chan struct{}),
		logger: mathx.IfEmpty(cfg.Logger, NewDefaultQuantxLogger()),
	}

	if cfg.Client != nil {
		if err := h.restore(context.Background()); err != nil {
			h.logger.Warnf("hotset restore failed: %v", err)
		}
	}

	if cfg.Loader != nil && cfg.ReloadInterval > 0 {
		h.wg.Add(1)
		syncx.Go().
			OnPanic(func(rec interface{}) {
				h.logger.Errorf("Panic in hotset reload: %v", rec)
			}).
			Exec(h.reloadLoop)
	}
	return h
}

// persistKey 持久化存储的键名
func (h *HotSet) persistKey() string {
	return fmt.Sprintf("%s:hotset", h.config.Namespace)
}

// Add 向层级添加键，重复添加幂等
func (h *HotSet) Add(tier string, keys ...AnalysisKey) {
	h.mu.Lock()
	set, ok := h.tiers[tier]
	if !ok {
		set = make(map[AnalysisKey]struct{})
		h.tiers[tier] = set
	}
	for _, k := range keys {
		set[k] = struct{}{}
	}
	h.mu.Unlock()
	h.persist()
}

// Remove 从层级移除键
func (h *HotSet) Remove(tier string, keys ...AnalysisKey) {
	h.mu.Lock()
	if set, ok := h.tiers[tier]; ok {
		for _, k := range keys {
			delete(set, k)
		}
		if len(set) == 0 {
			delete(h.tiers, tier)
		}
	}
	h.mu.Unlock()
	h.persist()
}

// Keys 返回层级内的键列表
func (h *HotSet) Keys(tier string) []AnalysisKey {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set, ok := h.tiers[tier]
	if !ok {
		return nil
	}
	keys := make([]AnalysisKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

// Tiers 返回所有层级名
func (h *HotSet) Tiers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	tiers := make([]string, 0, len(h.tiers))
	for name := range h.tiers {
		tiers = append(tiers, name)
	}
	return tiers
}

// Snapshot 返回整个集合的副本：层级名 -> 键列表
func (h *HotSet) Snapshot() map[string][]AnalysisKey {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := make(map[string][]AnalysisKey, len(h.tiers))
	for tier, set := range h.tiers {
		keys := make([]AnalysisKey, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		snap[tier] = keys
	}
	return snap
}

// Len 返回全部层级的键总数
func (h *HotSet) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, set := range h.tiers {
		total += len(set)
	}
	return total
}

// Replace 整体替换某层级的键集合（加载函数刷新时使用）
func (h *HotSet) Replace(tier string, keys []AnalysisKey) {
	h.mu.Lock()
	set := make(map[AnalysisKey]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	if len(set) == 0 {
		delete(h.tiers, tier)
	} else {
		h.tiers[tier] = set
	}
	h.mu.Unlock()
	h.persist()
}

// persist 把集合写入 Redis，未配置客户端时为空操作
func (h *HotSet) persist() {
	if h.config.Client == nil {
		return
	}

	h.mu.RLock()
	flat := make(map[string][]string, len(h.tiers))
	for tier, set := range h.tiers {
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k.String())
		}
		flat[tier] = keys
	}
	h.mu.RUnlock()

	data, err := jsoniter.Marshal(flat)
	if err != nil {
		h.logger.Warnf("hotset marshal failed: %v", err)
		return
	}
	if err := h.config.Client.Set(context.Background(), h.persistKey(), data, 0).Err(); err != nil {
		h.logger.Warnf("hotset persist failed: %v", err)
	}
}

// restore 从 Redis 恢复集合
func (h *HotSet) restore(ctx context.Context) error {
	data, err := h.config.Client.Get(ctx, h.persistKey()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}

	flat := make(map[string][]string)
	if err := jsoniter.Unmarshal(data, &flat); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for tier, keys := range flat {
		set := make(map[AnalysisKey]struct{}, len(keys))
		for _, sk := range keys {
			k, perr := ParseAnalysisKey(sk)
			if perr != nil {
				h.logger.Warnf("hotset skip malformed key %q: %v", sk, perr)
				continue
			}
			set[k] = struct{}{}
		}
		if len(set) > 0 {
			h.tiers[tier] = set
		}
	}
	return nil
}

// reloadLoop 定期调用加载函数刷新集合
func (h *HotSet) reloadLoop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.config.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.reload()
		case <-h.stop:
			return
		}
	}
}

func (h *HotSet) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	loaded, err := h.config.Loader(ctx)
	if err != nil {
		h.logger.Warnf("hotset reload failed: %v", err)
		return
	}
	for tier, keys := range loaded {
		h.Replace(tier, keys)
	}
}

// Stop 停止后台刷新
func (h *HotSet) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	h.wg.Wait()
}
