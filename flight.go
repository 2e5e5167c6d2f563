/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-21 21:20:30
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-04-11 23:42:07
 * @FilePath: \go-quantx\flight.go
 * @Description: 单飞协调器与计算解析器
 *
 * Flight 把同一键的 N 个并发计算请求合并为恰好一次 ComputeFunc 调用，
 * 所有等待者共享同一份结果或同一个错误，这是防止缓存击穿的核心机制：
 * 热点键刚过期时涌入的请求风暴不会触发一场昂贵计算的风暴
 *
 * Resolver 在 Flight 之上叠加完整的解析语义：
 *  - 双重检查缓存（进入临界区后可能已被其他调用回填）
 *  - 可选的跨实例计算锁（多实例共享 RedisStore 时去重）
 *  - 截止时间控制（超时映射为 ErrComputeTimeout，不写缓存）
 *  - 成功结果写入 Store，失败绝不缓存（缓存错误会掩盖之后合法的键）
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kamalyes/go-logger"
	"github.com/kamalyes/go-toolbox/pkg/mathx"
	"github.com/redis/go-redis/v9"
)

// flightCall 代表一次进行中的计算
type flightCall struct {
	wg  sync.WaitGroup
	val []byte
	err error
}

// Flight 单飞协调器：键 -> 进行中的计算标记
// 同一时刻每个键最多一个活动计算；标记在计算结束的瞬间被移除
type Flight struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

// NewFlight 创建单飞协调器
func NewFlight() *Flight {
	return &Flight{
		calls: make(map[string]*flightCall),
	}
}

// Do 执行fn并返回结果，保证同一键同一时刻只有一个fn在执行
// 重复调用会等待首个调用完成并收到相同的结果；shared 表示结果来自他人的计算
func (f *Flight) Do(key string, fn func() ([]byte, error)) (val []byte, err error, shared bool) {
	f.mu.Lock()

	if c, exists := f.calls[key]; exists {
		f.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err, true
	}

	c := &flightCall{}
	c.wg.Add(1)
	f.calls[key] = c
	f.mu.Unlock()

	func() {
		defer func() {
			if r := recover(); r != nil {
				c.err = fmt.Errorf("compute panicked: %v", r)
			}
			// 先移除标记再放行等待者，后续请求可以发起新一轮计算
			// Forget 后标记可能已属于新一轮计算，只删除自己的
			f.mu.Lock()
			if f.calls[key] == c {
				delete(f.calls, key)
			}
			f.mu.Unlock()
			c.wg.Done()
		}()
		c.val, c.err = fn()
	}()

	return c.val, c.err, false
}

// Forget 移除键的进行中标记，后续调用会发起新计算
func (f *Flight) Forget(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.calls, key)
}

// InFlight 返回当前进行中的计算数量
func (f *Flight) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// ResolverConfig 解析器配置
type ResolverConfig struct {
	ResultTTL      time.Duration          // 结果缓存时长，默认 5m
	ComputeTimeout time.Duration          // 单次计算的截止时间，默认 30s
	LockClient     redis.UniversalClient  // 跨实例计算锁客户端（nil 表示不启用）
	LockConfig     *ComputeLockConfig     // 计算锁配置（可选）
	LockWaitCount  int                    // 未抢到锁时轮询缓存的次数，默认 5
	Logger         logger.ILogger         // 日志记录器（可选）
}

// Resolver 计算解析器：单飞 + 截止时间 + 缓存回写
type Resolver struct {
	store   Store
	flight  *Flight
	compute ComputeFunc
	config  ResolverConfig
	logger  logger.ILogger
}

// NewResolver 创建解析器
func NewResolver(store Store, compute ComputeFunc, config ...ResolverConfig) (*Resolver, error) {
	if compute == nil {
		return nil, ErrComputeMissing
	}

	cfg := ResolverConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg.ResultTTL = mathx.IfNotZero(cfg.ResultTTL, 5*time.Minute)
	cfg.ComputeTimeout = mathx.IfNotZero(cfg.ComputeTimeout, 30*time.Second)
	cfg.LockWaitCount = mathx.IF(cfg.LockWaitCount > 0, cfg.LockWaitCount, 5)

	return &Resolver{
		store:   store,
		flight:  NewFlight(),
		compute: compute,
		config:  cfg,
		logger:  mathx.IfEmpty(cfg.Logger, NewDefaultQuantxLogger()),
	}, nil
}

// Resolve 解析键的计算结果：合并并发请求、双重检查缓存、成功后回写
func (r *Resolver) Resolve(ctx context.Context, key AnalysisKey) ([]byte, error) {
	return r.resolve(ctx, key, false)
}

// Refresh 强制重新计算并回写，供预计算调度器刷新临期条目使用
// 仍然经过单飞合并：并发的普通请求会加入本次计算而不是另起一次
func (r *Resolver) Refresh(ctx context.Context, key AnalysisKey) ([]byte, error) {
	return r.resolve(ctx, key, true)
}

// InFlight 返回当前进行中的计算数量
func (r *Resolver) InFlight() int {
	return r.flight.InFlight()
}

func (r *Resolver) resolve(ctx context.Context, key AnalysisKey, force bool) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	sk := key.String()
	val, err, _ := r.flight.Do(sk, func() ([]byte, error) {
		// 双重检查：排队等锁期间可能已有其他调用回填了缓存
		if !force {
			if v, gerr := r.store.Get(ctx, sk); gerr == nil {
				return v, nil
			}
		}

		// 跨实例计算锁（可选）；锁必须持有到计算与回写完成之后
		if r.config.LockClient != nil {
			lock, v, done := r.acquireOrWait(ctx, sk, force)
			if lock != nil {
				defer func() {
					if uerr := lock.Unlock(context.Background()); uerr != nil {
						r.logger.Warnf("compute lock release failed for %s: %v", sk, uerr)
					}
				}()
			}
			if done {
				return v, nil
			}
		}

		return r.computeAndStore(ctx, key, sk)
	})
	return val, err
}

// acquireOrWait 尝试跨实例去重
// 返回的lock非nil表示已持有锁，由调用方负责释放；done=true表示已拿到他人的计算结果
func (r *Resolver) acquireOrWait(ctx context.Context, sk string, force bool) (*ComputeLock, []byte, bool) {
	lockCfg := ComputeLockConfig{Logger: r.logger}
	if r.config.LockConfig != nil {
		lockCfg = *r.config.LockConfig
	}
	if lockCfg.TTL == 0 {
		// 锁存活期必须覆盖计算时长，否则锁提前失效会放进第二个计算者
		lockCfg.TTL = r.config.ComputeTimeout + 5*time.Second
	}
	if lockCfg.RetryInterval == 0 {
		lockCfg.RetryInterval = 50 * time.Millisecond
	}

	lock := NewComputeLock(r.config.LockClient, sk, lockCfg)
	acquired, err := lock.TryLock(ctx)
	if err != nil {
		// 锁服务不可用时降级为本地计算，单飞仍然保证进程内不重复
		r.logger.Warnf("compute lock unavailable for %s: %v, degrading to local compute", sk, err)
		return nil, nil, false
	}

	if acquired {
		// 拿到锁后再次检查：其他实例可能刚完成计算并回填了共享缓存
		if !force {
			if v, gerr := r.store.Get(ctx, sk); gerr == nil {
				return lock, v, true
			}
		}
		return lock, nil, false
	}

	// 其他实例正在计算同一键，轮询共享缓存等待其结果
	for i := 0; i < r.config.LockWaitCount; i++ {
		select {
		case <-ctx.Done():
			return nil, nil, false
		case <-time.After(lockCfg.RetryInterval):
		}
		if v, gerr := r.store.Get(ctx, sk); gerr == nil {
			return nil, v, true
		}
	}

	// 等待超限，降级为本地计算
	return nil, nil, false
}

// computeAndStore 执行带截止时间的计算并回写缓存
func (r *Resolver) computeAndStore(ctx context.Context, key AnalysisKey, sk string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, r.config.ComputeTimeout)
	defer cancel()

	started := time.Now()
	val, err := r.compute(cctx, key)
	if err != nil {
		// 超时映射为统一的错误类型；失败一律不写缓存
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: key %s after %v", ErrComputeTimeout, sk, time.Since(started))
		}
		return nil, err
	}

	if serr := r.store.Set(ctx, sk, val, r.config.ResultTTL); serr != nil {
		// 回写失败不影响本次结果交付，下次请求会重新计算
		r.logger.Warnf("cache write failed for %s: %v", sk, serr)
	}
	return val, nil
}
