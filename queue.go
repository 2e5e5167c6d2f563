/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-02-24 20:31:47
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-04-09 23:02:15
 * @FilePath: \go-quantx\queue.go
 * @Description: 有界FIFO任务队列
 *
 * 队列只承载任务ID，任务本体在 TaskRegistry 中；
 * 入队严格非阻塞：容量满立即返回 ErrQueueFull，由调用方向上游报告背压，
 * 绝不静默丢弃也绝不阻塞提交方
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"sync"

	"github.com/kamalyes/go-toolbox/pkg/mathx"
)

// TaskQueue 任务队列抽象，MemoryQueue 与 RedisQueue 均实现该接口
type TaskQueue interface {
	// Enqueue 非阻塞入队；队列满返回ErrQueueFull，已关闭返回ErrQueueClosed
	Enqueue(ctx context.Context, taskID string) error

	// Dequeue 出队一个任务ID；队列暂时为空时阻塞等待
	// ok=false 且 err=nil 表示本轮等待未取到任务，调用方应重试
	// 队列关闭后返回ErrQueueClosed
	Dequeue(ctx context.Context) (taskID string, ok bool, err error)

	// Len 返回当前排队中的任务数量
	Len() int

	// Close 关闭队列并唤醒所有阻塞的消费者
	Close() error
}

// MemoryQueue 基于有界channel的进程内FIFO队列
type MemoryQueue struct {
	ch     chan string
	stop   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue 创建内存队列，capacity<=0 时使用默认容量256
func NewMemoryQueue(capacity int) *MemoryQueue {
	capacity = mathx.IF(capacity > 0, capacity, 256)
	return &MemoryQueue{
		ch:   make(chan string, capacity),
		stop: make(chan struct{}),
	}
}

// Enqueue 非阻塞入队
func (q *MemoryQueue) Enqueue(ctx context.Context, taskID string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	// 持锁期间写入，避免与Close并发时向已关闭channel发送
	select {
	case q.ch <- taskID:
		q.mu.Unlock()
		return nil
	default:
		q.mu.Unlock()
		return ErrQueueFull
	}
}

// Dequeue 出队，空队列阻塞直到有任务、上下文取消或队列关闭
func (q *MemoryQueue) Dequeue(ctx context.Context) (string, bool, error) {
	// 关闭后先排空存量任务再报告关闭，保证已接收的任务不会丢失
	select {
	case taskID := <-q.ch:
		return taskID, true, nil
	default:
	}

	select {
	case taskID := <-q.ch:
		return taskID, true, nil
	case <-q.stop:
		select {
		case taskID := <-q.ch:
			return taskID, true, nil
		default:
			return "", false, ErrQueueClosed
		}
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// Len 返回当前排队数量
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Close 关闭队列并唤醒所有阻塞中的消费者
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.stop)
	return nil
}
