/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-26 20:44:09
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-04-18 22:19:33
 * @FilePath: \go-quantx\pool.go
 * @Description: 固定规模的任务工作池
 *
 * 固定数量的工作协程从队列中顺序取任务，经 Resolver 解析后把结果写回注册表
 * 并发计算量的上限即工作协程数，队列容量之外的提交被背压拒绝（ErrQueueFull）
 * 同一键的多个任务经由 Resolver 的单飞合并，不会触发重复计算
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kamalyes/go-logger"
	"github.com/kamalyes/go-toolbox/pkg/mathx"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// WorkerState 单个工作协程的状态快照
type WorkerState struct {
	ID         int       `json:"id"`                    // 工作协程编号
	Busy       bool      `json:"busy"`                  // 是否正在处理任务
	CurrentKey string    `json:"current_key,omitempty"` // 正在处理的计算键
	StartedAt  time.Time `json:"started_at,omitempty"`  // 当前任务的开始时间
	Processed  int64     `json:"processed"`             // 累计处理的任务数
}

// workerSlot 工作协程的内部状态
type workerSlot struct {
	mu    sync.Mutex
	state WorkerState
}

func (w *workerSlot) setBusy(key string) {
	w.mu.Lock()
	w.state.Busy = true
	w.state.CurrentKey = key
	w.state.StartedAt = time.Now()
	w.mu.Unlock()
}

func (w *workerSlot) setIdle() {
	w.mu.Lock()
	w.state.Busy = false
	w.state.CurrentKey = ""
	w.state.StartedAt = time.Time{}
	w.state.Processed++
	w.mu.Unlock()
}

func (w *workerSlot) snapshot() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// PoolHealth 工作池健康快照
type PoolHealth struct {
	QueueLength     int           `json:"queue_length"`      // 排队中的任务数
	QueueCapacity   int           `json:"queue_capacity"`    // 队列容量上限
	Workers         int           `json:"workers"`           // 工作协程总数
	BusyWorkers     int           `json:"busy_workers"`      // 处理中的工作协程数
	Utilization     float64       `json:"utilization"`       // 工作池利用率（0-1）
	PendingTasks    int           `json:"pending_tasks"`     // 注册表中PENDING任务数
	ProcessingTasks int           `json:"processing_tasks"`  // 注册表中PROCESSING任务数
	CompletedTotal  int64         `json:"completed_total"`   // 累计完成任务数
	FailedTotal     int64         `json:"failed_total"`      // 累计失败任务数
	AvgProcessingMs float64       `json:"avg_processing_ms"` // 平均处理毫秒数
	WorkerStates    []WorkerState `json:"worker_states"`     // 各工作协程状态
}

// WorkerPoolConfig 工作池配置
type WorkerPoolConfig struct {
	Workers       int            // 工作协程数，默认 3
	QueueCapacity int            // 队列容量，默认 256（仅在未注入Queue时生效）
	Queue         TaskQueue      // 任务队列（可选，默认创建MemoryQueue）
	Registry      *TaskRegistry  // 任务注册表（可选，默认新建）
	Retention     time.Duration  // 终态任务保留窗口（仅在未注入Registry时生效）
	IDGenerator   *TaskIDGenerator // 任务ID生成器（可选，默认新建）
	Logger        logger.ILogger // 日志记录器（可选）
}

// WorkerPool 固定规模工作池
type WorkerPool struct {
	resolver *Resolver
	queue    TaskQueue
	registry *TaskRegistry
	idgen    *TaskIDGenerator
	workers  []*workerSlot
	config   WorkerPoolConfig
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   atomic.Bool
	ownQueue    bool
	ownRegistry bool
	logger   logger.ILogger
}

// NewWorkerPool 创建并启动工作池
func NewWorkerPool(resolver *Resolver, config ...WorkerPoolConfig) (*WorkerPool, error) {
	if resolver == nil {
		return nil, ErrComputeMissing
	}

	cfg := WorkerPoolConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg.Workers = mathx.IF(cfg.Workers > 0, cfg.Workers, 3)
	cfg.QueueCapacity = mathx.IF(cfg.QueueCapacity > 0, cfg.QueueCapacity, 256)

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		resolver: resolver,
		queue:    cfg.Queue,
		registry: cfg.Registry,
		idgen:    cfg.IDGenerator,
		workers:  make([]*workerSlot, cfg.Workers),
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
		logger:   mathx.IfEmpty(cfg.Logger, NewDefaultQuantxLogger()),
	}
	if p.queue == nil {
		p.queue = NewMemoryQueue(cfg.QueueCapacity)
		p.ownQueue = true
	}
	if p.registry == nil {
		p.registry = NewTaskRegistry(TaskRegistryConfig{
			Retention: cfg.Retention,
			Logger:    p.logger,
		})
		p.ownRegistry = true
	}
	if p.idgen == nil {
		p.idgen = NewTaskIDGenerator()
	}

	for i := 0; i < cfg.Workers; i++ {
		slot := &workerSlot{state: WorkerState{ID: i}}
		p.workers[i] = slot
		p.wg.Add(1)
		workerID := i
		syncx.Go().
			OnPanic(func(rec interface{}) {
				p.logger.Errorf("Panic in worker %d: %v", workerID, rec)
			}).
			Exec(func() {
				p.workerLoop(workerID)
			})
	}
	p.logger.Infof("worker pool started with %d workers, queue capacity %d", cfg.Workers, cfg.QueueCapacity)
	return p, nil
}

// Submit 提交普通异步任务，返回PENDING任务快照；队列满返回ErrQueueFull
func (p *WorkerPool) Submit(ctx context.Context, key AnalysisKey) (Task, error) {
	return p.submit(ctx, key, false)
}

// SubmitRefresh 提交强制刷新任务，供预计算调度器使用
func (p *WorkerPool) SubmitRefresh(ctx context.Context, key AnalysisKey) (Task, error) {
	return p.submit(ctx, key, true)
}

func (p *WorkerPool) submit(ctx context.Context, key AnalysisKey, refresh bool) (Task, error) {
	if p.closed.Load() {
		return Task{}, ErrClosed
	}
	if err := key.Validate(); err != nil {
		return Task{}, err
	}

	id := p.idgen.Next()
	task, err := p.registry.Create(id, key, refresh)
	if err != nil {
		return Task{}, err
	}

	if err := p.queue.Enqueue(ctx, id); err != nil {
		// 入队失败时回收登记，任务从未存在过
		p.registry.Discard(id)
		return Task{}, err
	}
	return task, nil
}

// SubmitCompleted 登记一个立即完成的任务（异步请求命中缓存时使用），不占用队列
func (p *WorkerPool) SubmitCompleted(key AnalysisKey, result []byte) (Task, error) {
	if p.closed.Load() {
		return Task{}, ErrClosed
	}
	if err := key.Validate(); err != nil {
		return Task{}, err
	}
	return p.registry.CreateCompleted(p.idgen.Next(), key, result)
}

// Task 返回任务快照；不存在或超过保留窗口返回ErrTaskNotFound
func (p *WorkerPool) Task(id string) (Task, error) {
	return p.registry.Get(id)
}

// Registry 返回底层任务注册表
func (p *WorkerPool) Registry() *TaskRegistry {
	return p.registry
}

// workerLoop 工作协程主循环：取任务、解析、写回结果
func (p *WorkerPool) workerLoop(workerID int) {
	defer p.wg.Done()
	slot := p.workers[workerID]

	for {
		taskID, ok, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Warnf("worker %d dequeue failed: %v", workerID, err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if !ok {
			continue
		}
		p.process(workerID, slot, taskID)
	}
}

func (p *WorkerPool) process(workerID int, slot *workerSlot, taskID string) {
	task, err := p.registry.MarkProcessing(taskID)
	if err != nil {
		// 任务已被清理或状态异常，丢弃即可
		p.logger.Warnf("worker %d skip task %s: %v", workerID, taskID, err)
		return
	}

	sk := task.Key.String()
	slot.setBusy(sk)
	defer slot.setIdle()

	var val []byte
	if task.Refresh {
		val, err = p.resolver.Refresh(p.ctx, task.Key)
	} else {
		val, err = p.resolver.Resolve(p.ctx, task.Key)
	}

	if err != nil {
		p.logger.Warnf("worker %d task %s failed for %s: %v", workerID, taskID, sk, err)
		if merr := p.registry.MarkFailed(taskID, err); merr != nil {
			p.logger.Errorf("worker %d mark failed error for %s: %v", workerID, taskID, merr)
		}
		return
	}

	if merr := p.registry.MarkCompleted(taskID, val); merr != nil {
		p.logger.Errorf("worker %d mark completed error for %s: %v", workerID, taskID, merr)
	}
}

// Health 返回工作池健康快照
func (p *WorkerPool) Health() PoolHealth {
	pending, processing, completed, failed := p.registry.Counts()

	states := make([]WorkerState, len(p.workers))
	busy := 0
	for i, w := range p.workers {
		states[i] = w.snapshot()
		if states[i].Busy {
			busy++
		}
	}

	utilization := 0.0
	if len(p.workers) > 0 {
		utilization = float64(busy) / float64(len(p.workers))
	}

	return PoolHealth{
		QueueLength:     p.queue.Len(),
		QueueCapacity:   p.config.QueueCapacity,
		Workers:         len(p.workers),
		BusyWorkers:     busy,
		Utilization:     utilization,
		PendingTasks:    pending,
		ProcessingTasks: processing,
		CompletedTotal:  completed,
		FailedTotal:     failed,
		AvgProcessingMs: p.registry.AvgProcessingMs(),
		WorkerStates:    states,
	}
}

// Close 优雅关闭：停止收新任务，等待处理中的任务结束
func (p *WorkerPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	if p.ownQueue {
		if err := p.queue.Close(); err != nil {
			p.logger.Warnf("queue close failed: %v", err)
		}
	}
	p.cancel()
	p.wg.Wait()
	if p.ownRegistry {
		return p.registry.Close()
	}
	return nil
}
