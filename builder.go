/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-03-02 21:37:54
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-04-26 20:55:18
 * @FilePath: \go-quantx\builder.go
 * @Description: Dispatcher 链式构建器
 *
 * 组装整个子系统：存储、解析器、工作池、热点集合、预计算调度器
 * 仅当配置了热点键或调度层级时才会启动预计算调度器
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"time"

	"github.com/kamalyes/go-logger"
	"github.com/kamalyes/go-toolbox/pkg/mathx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// DispatcherBuilder Dispatcher 的链式构建器
type DispatcherBuilder struct {
	compute        ComputeFunc
	store          Store
	ownStore       bool
	ttl            time.Duration
	computeTimeout time.Duration
	retention      time.Duration
	workers        int
	queueCapacity  int
	queue          TaskQueue
	tiers          []TierConfig
	hotKeys        map[string][]AnalysisKey
	hotset         *HotSet
	lockClient     redis.UniversalClient
	lockConfig     *ComputeLockConfig
	rateLimit      rate.Limit
	rateBurst      int
	logger         logger.ILogger
	err            error
}

// NewDispatcherBuilder 创建构建器，compute 是解析未命中键的计算函数
func NewDispatcherBuilder(compute ComputeFunc) *DispatcherBuilder {
	b := &DispatcherBuilder{
		compute: compute,
		hotKeys: make(map[string][]AnalysisKey),
	}
	if compute == nil {
		b.err = ErrComputeMissing
	}
	return b
}

// WithStore 注入自定义存储（生命周期由调用方管理）
func (b *DispatcherBuilder) WithStore(store Store) *DispatcherBuilder {
	b.store = store
	b.ownStore = false
	return b
}

// WithRedis 使用 Redis 作为结果存储（客户端由调用方管理）
func (b *DispatcherBuilder) WithRedis(client redis.UniversalClient, config ...RedisStoreConfig) *DispatcherBuilder {
	b.store = NewRedisStore(client, config...)
	b.ownStore = true
	return b
}

// WithRistretto 使用 Ristretto 作为结果存储
func (b *DispatcherBuilder) WithRistretto(config *RistrettoStoreConfig) *DispatcherBuilder {
	store, err := NewRistrettoStore(config)
	if err != nil {
		b.err = err
		return b
	}
	b.store = store
	b.ownStore = true
	return b
}

// WithTTL 设置结果缓存时长，默认 5m
func (b *DispatcherBuilder) WithTTL(ttl time.Duration) *DispatcherBuilder {
	b.ttl = ttl
	return b
}

// WithComputeTimeout 设置单次计算的截止时间，默认 30s
func (b *DispatcherBuilder) WithComputeTimeout(timeout time.Duration) *DispatcherBuilder {
	b.computeTimeout = timeout
	return b
}

// WithWorkers 设置工作协程数，默认 3
func (b *DispatcherBuilder) WithWorkers(workers int) *DispatcherBuilder {
	b.workers = workers
	return b
}

// WithQueueCapacity 设置任务队列容量，默认 256
func (b *DispatcherBuilder) WithQueueCapacity(capacity int) *DispatcherBuilder {
	b.queueCapacity = capacity
	return b
}

// WithQueue 注入自定义任务队列（如 RedisQueue）
func (b *DispatcherBuilder) WithQueue(queue TaskQueue) *DispatcherBuilder {
	b.queue = queue
	return b
}

// WithRetention 设置终态任务的保留窗口，默认 10m
func (b *DispatcherBuilder) WithRetention(retention time.Duration) *DispatcherBuilder {
	b.retention = retention
	return b
}

// WithTier 添加一个预计算调度层级
func (b *DispatcherBuilder) WithTier(name string, interval time.Duration, threshold float64) *DispatcherBuilder {
	b.tiers = append(b.tiers, TierConfig{Name: name, Interval: interval, RefreshThreshold: threshold})
	return b
}

// WithHotKeys 向层级预置热点键
func (b *DispatcherBuilder) WithHotKeys(tier string, keys ...AnalysisKey) *DispatcherBuilder {
	b.hotKeys[tier] = append(b.hotKeys[tier], keys...)
	return b
}

// WithHotSet 注入自定义热点集合（如带 Redis 持久化或外部加载函数的）
func (b *DispatcherBuilder) WithHotSet(hotset *HotSet) *DispatcherBuilder {
	b.hotset = hotset
	return b
}

// WithComputeLock 启用跨实例计算锁（多实例共享 RedisStore 时使用）
func (b *DispatcherBuilder) WithComputeLock(client redis.UniversalClient, config ...*ComputeLockConfig) *DispatcherBuilder {
	b.lockClient = client
	if len(config) > 0 {
		b.lockConfig = config[0]
	}
	return b
}

// WithRateLimit 设置预计算刷新的全局速率上限
func (b *DispatcherBuilder) WithRateLimit(limit rate.Limit, burst int) *DispatcherBuilder {
	b.rateLimit = limit
	b.rateBurst = burst
	return b
}

// WithLogger 注入日志记录器
func (b *DispatcherBuilder) WithLogger(l logger.ILogger) *DispatcherBuilder {
	b.logger = l
	return b
}

// Build 组装并启动整个子系统
func (b *DispatcherBuilder) Build() (*Dispatcher, error) {
	if b.err != nil {
		return nil, b.err
	}

	log := mathx.IfEmpty(b.logger, NewDefaultQuantxLogger())

	store := b.store
	ownStore := b.ownStore
	if store == nil {
		store = NewMemoryStore(time.Second)
		ownStore = true
	}

	ttl := mathx.IfNotZero(b.ttl, 5*time.Minute)
	resolver, err := NewResolver(store, b.compute, ResolverConfig{
		ResultTTL:      ttl,
		ComputeTimeout: b.computeTimeout,
		LockClient:     b.lockClient,
		LockConfig:     b.lockConfig,
		Logger:         log,
	})
	if err != nil {
		if ownStore {
			_ = store.Close()
		}
		return nil, err
	}

	pool, err := NewWorkerPool(resolver, WorkerPoolConfig{
		Workers:       b.workers,
		QueueCapacity: b.queueCapacity,
		Queue:         b.queue,
		Retention:     b.retention,
		Logger:        log,
	})
	if err != nil {
		if ownStore {
			_ = store.Close()
		}
		return nil, err
	}

	hotset := b.hotset
	if hotset == nil && (len(b.hotKeys) > 0 || len(b.tiers) > 0) {
		hotset = NewHotSet(HotSetConfig{Logger: log})
	}
	for tier, keys := range b.hotKeys {
		hotset.Add(tier, keys...)
	}

	var precomputer *Precomputer
	if hotset != nil {
		precomputer = NewPrecomputer(store, pool, hotset, PrecomputerConfig{
			Tiers:     b.tiers,
			ResultTTL: ttl,
			RateLimit: b.rateLimit,
			RateBurst: b.rateBurst,
			Logger:    log,
		})
	}

	return &Dispatcher{
		store:       store,
		resolver:    resolver,
		pool:        pool,
		precomputer: precomputer,
		hotset:      hotset,
		ownStore:    ownStore,
		logger:      log,
	}, nil
}
