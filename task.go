/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-23 20:18:55
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-04-15 21:36:40
 * @FilePath: \go-quantx\task.go
 * @Description: 异步任务模型与任务注册表
 *
 * Task 的状态严格单向推进：PENDING → PROCESSING → {COMPLETED|FAILED}，绝不回退
 * 任务由队列/工作池拥有，出队它的那个工作协程是唯一的修改者；
 * 外部轮询方只读快照，终态任务在保留窗口结束后被清理（之后查询返回ErrTaskNotFound）
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kamalyes/go-logger"
	"github.com/kamalyes/go-toolbox/pkg/mathx"
	"github.com/kamalyes/go-toolbox/pkg/syncx"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"    // 已入队等待处理
	TaskProcessing TaskStatus = "PROCESSING" // 工作协程处理中
	TaskCompleted  TaskStatus = "COMPLETED"  // 成功完成，Result已填充
	TaskFailed     TaskStatus = "FAILED"     // 计算失败，Error已填充
)

// statusRank 状态序号，用于保证状态只能单向推进
var statusRank = map[TaskStatus]int{
	TaskPending:    0,
	TaskProcessing: 1,
	TaskCompleted:  2,
	TaskFailed:     2,
}

// Terminal 判断是否为终态
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task 异步计算任务
type Task struct {
	ID         string      `json:"id"`                    // 入队时分配的唯一标识
	Key        AnalysisKey `json:"key"`                   // 本任务要解析的计算键
	Refresh    bool        `json:"refresh,omitempty"`     // 调度器刷新任务，强制重新计算
	Status     TaskStatus  `json:"status"`                // 当前状态
	Result     []byte      `json:"result,omitempty"`      // 仅COMPLETED时填充
	Error      string      `json:"error,omitempty"`       // 仅FAILED时填充
	EnqueuedAt time.Time   `json:"enqueued_at"`           // 入队时间
	StartedAt  *time.Time  `json:"started_at,omitempty"`  // 开始处理时间
	FinishedAt *time.Time  `json:"finished_at,omitempty"` // 结束时间（成功或失败）
}

// snapshot 返回任务的只读副本，避免轮询方观察到撕裂的状态
func (t *Task) snapshot() Task {
	cp := *t
	cp.Result = copyB(t.Result)
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		cp.FinishedAt = &finished
	}
	return cp
}

// TaskRegistryConfig 任务注册表配置
type TaskRegistryConfig struct {
	Retention     time.Duration  // 终态任务的保留窗口，默认 10m
	SweepInterval time.Duration  // 清理检查间隔，默认 30s
	Logger        logger.ILogger // 日志记录器（可选）
}

// TaskRegistry 任务注册表：任务ID -> 任务
// 状态变更全程持锁，保证轮询方看到的推进是单调的
type TaskRegistry struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	config TaskRegistryConfig
	ticker *time.Ticker
	stop   chan struct{}
	closed bool
	wg     sync.WaitGroup
	logger logger.ILogger

	// 累计计数器独立于map，保留窗口清理不影响历史统计
	completedTotal atomic.Int64
	failedTotal    atomic.Int64
	processingMs   atomic.Int64
}

// NewTaskRegistry 创建任务注册表
func NewTaskRegistry(config ...TaskRegistryConfig) *TaskRegistry {
	cfg := TaskRegistryConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	cfg.Retention = mathx.IfNotZero(cfg.Retention, 10*time.Minute)
	cfg.SweepInterval = mathx.IfNotZero(cfg.SweepInterval, 30*time.Second)

	r := &TaskRegistry{
		tasks:  make(map[string]*Task),
		config: cfg,
		ticker: time.NewTicker(cfg.SweepInterval),
		stop:   make(chan struct{}),
		logger: mathx.IfEmpty(cfg.Logger, NewDefaultQuantxLogger()),
	}
	r.wg.Add(1)
	syncx.Go().
		OnPanic(func(rec interface{}) {
			r.logger.Errorf("Panic in task registry sweep: %v", rec)
		}).
		Exec(r.sweepLoop)
	return r
}

// Create 登记一个新的PENDING任务并返回快照
func (r *TaskRegistry) Create(id string, key AnalysisKey, refresh bool) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Task{}, ErrClosed
	}

	t := &Task{
		ID:         id,
		Key:        key,
		Refresh:    refresh,
		Status:     TaskPending,
		EnqueuedAt: time.Now(),
	}
	r.tasks[id] = t
	return t.snapshot(), nil
}

// CreateCompleted 登记一个已完成的任务（异步请求命中缓存时的即时结果）
func (r *TaskRegistry) CreateCompleted(id string, key AnalysisKey, result []byte) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Task{}, ErrClosed
	}

	now := time.Now()
	t := &Task{
		ID:         id,
		Key:        key,
		Status:     TaskCompleted,
		Result:     copyB(result),
		EnqueuedAt: now,
		FinishedAt: &now,
	}
	r.tasks[id] = t
	r.completedTotal.Add(1)
	return t.snapshot(), nil
}

// Discard 移除任务（入队失败时回收登记，调用方据此报告QueueFull）
func (r *TaskRegistry) Discard(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// MarkProcessing 将任务推进到PROCESSING并返回快照（工作协程需要键和刷新标记）
func (r *TaskRegistry) MarkProcessing(id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if err := checkTransition(t.Status, TaskProcessing); err != nil {
		return Task{}, err
	}

	now := time.Now()
	t.Status = TaskProcessing
	t.StartedAt = &now
	return t.snapshot(), nil
}

// MarkCompleted 将任务推进到COMPLETED并记录结果
func (r *TaskRegistry) MarkCompleted(id string, result []byte) error {
	return r.finish(id, TaskCompleted, result, nil)
}

// MarkFailed 将任务推进到FAILED并记录错误
func (r *TaskRegistry) MarkFailed(id string, taskErr error) error {
	return r.finish(id, TaskFailed, nil, taskErr)
}

func (r *TaskRegistry) finish(id string, status TaskStatus, result []byte, taskErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if err := checkTransition(t.Status, status); err != nil {
		return err
	}

	now := time.Now()
	t.Status = status
	t.FinishedAt = &now
	if status == TaskCompleted {
		t.Result = copyB(result)
		r.completedTotal.Add(1)
	} else {
		if taskErr != nil {
			t.Error = taskErr.Error()
		}
		r.failedTotal.Add(1)
	}
	if t.StartedAt != nil {
		r.processingMs.Add(now.Sub(*t.StartedAt).Milliseconds())
	}
	return nil
}

// checkTransition 保证状态只能单向推进
func checkTransition(from, to TaskStatus) error {
	if statusRank[to] <= statusRank[from] {
		return fmt.Errorf("illegal task transition %s -> %s", from, to)
	}
	return nil
}

// Get 返回任务快照；不存在或已超过保留窗口返回ErrTaskNotFound
func (r *TaskRegistry) Get(id string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t.snapshot(), nil
}

// Counts 返回当前的PENDING/PROCESSING数量与累计的COMPLETED/FAILED数量
func (r *TaskRegistry) Counts() (pending, processing int, completed, failed int64) {
	r.mu.RLock()
	for _, t := range r.tasks {
		switch t.Status {
		case TaskPending:
			pending++
		case TaskProcessing:
			processing++
		}
	}
	r.mu.RUnlock()
	return pending, processing, r.completedTotal.Load(), r.failedTotal.Load()
}

// AvgProcessingMs 返回终态任务的平均处理毫秒数
func (r *TaskRegistry) AvgProcessingMs() float64 {
	finished := r.completedTotal.Load() + r.failedTotal.Load()
	if finished == 0 {
		return 0
	}
	return float64(r.processingMs.Load()) / float64(finished)
}

// Len 返回注册表中的任务数量
func (r *TaskRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// sweepLoop 定期清理超过保留窗口的终态任务
func (r *TaskRegistry) sweepLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ticker.C:
			r.sweep()
		case <-r.stop:
			return
		}
	}
}

func (r *TaskRegistry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.config.Retention)
	swept := 0
	for id, t := range r.tasks {
		if t.Status.Terminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			delete(r.tasks, id)
			swept++
		}
	}
	if swept > 0 {
		r.logger.Debugf("task registry swept %d expired tasks", swept)
	}
}

// Close 停止后台清理并释放资源
func (r *TaskRegistry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stop)
	r.ticker.Stop()
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}
