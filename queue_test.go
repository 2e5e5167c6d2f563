/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-03-10 21:05:33
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-03-25 20:44:01
 * @FilePath: \go-quantx\queue_test.go
 * @Description:
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	assert := assert.New(t)
	q := NewMemoryQueue(16)
	defer q.Close()
	ctx := context.Background()

	// 入队顺序必须等于出队顺序
	for i := 0; i < 10; i++ {
		assert.NoError(q.Enqueue(ctx, fmt.Sprintf("task-%d", i)))
	}
	assert.Equal(10, q.Len())

	for i := 0; i < 10; i++ {
		id, ok, err := q.Dequeue(ctx)
		assert.NoError(err)
		assert.True(ok)
		assert.Equal(fmt.Sprintf("task-%d", i), id, "dequeue order must match enqueue order")
	}
	assert.Equal(0, q.Len())
}

func TestMemoryQueue_Backpressure(t *testing.T) {
	assert := assert.New(t)
	q := NewMemoryQueue(3)
	defer q.Close()
	ctx := context.Background()

	assert.NoError(q.Enqueue(ctx, "a"))
	assert.NoError(q.Enqueue(ctx, "b"))
	assert.NoError(q.Enqueue(ctx, "c"))

	// 容量满时立即失败，不阻塞不丢弃
	err := q.Enqueue(ctx, "d")
	assert.ErrorIs(err, ErrQueueFull, "enqueue on full queue should fail fast")

	// 出队腾出空间后恢复接收
	_, ok, err := q.Dequeue(ctx)
	assert.NoError(err)
	assert.True(ok)
	assert.NoError(q.Enqueue(ctx, "d"), "enqueue should succeed after a slot frees up")
}

func TestMemoryQueue_BlockingDequeue(t *testing.T) {
	assert := assert.New(t)
	q := NewMemoryQueue(4)
	defer q.Close()
	ctx := context.Background()

	done := make(chan string, 1)
	go func() {
		id, ok, err := q.Dequeue(ctx)
		if err == nil && ok {
			done <- id
		}
	}()

	// 消费者应该阻塞等待
	select {
	case <-done:
		t.Fatal("dequeue should block on empty queue")
	case <-time.After(30 * time.Millisecond):
	}

	assert.NoError(q.Enqueue(ctx, "late"))
	select {
	case id := <-done:
		assert.Equal("late", id, "blocked consumer should receive the enqueued task")
	case <-time.After(time.Second):
		t.Fatal("blocked consumer was not woken up")
	}
}

func TestMemoryQueue_ContextCancel(t *testing.T) {
	assert := assert.New(t)
	q := NewMemoryQueue(4)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, ok, err := q.Dequeue(ctx)
	assert.False(ok)
	assert.ErrorIs(err, context.Canceled, "cancelled context should abort dequeue")
}

func TestMemoryQueue_Close(t *testing.T) {
	assert := assert.New(t)
	q := NewMemoryQueue(4)
	ctx := context.Background()

	assert.NoError(q.Enqueue(ctx, "a"))
	assert.NoError(q.Close())

	// 关闭后拒绝新任务
	assert.ErrorIs(q.Enqueue(ctx, "b"), ErrQueueClosed)

	// 关闭后先排空存量任务
	id, ok, err := q.Dequeue(ctx)
	assert.NoError(err)
	assert.True(ok)
	assert.Equal("a", id, "queued tasks should drain after close")

	// 排空后报告关闭
	_, ok, err = q.Dequeue(ctx)
	assert.False(ok)
	assert.ErrorIs(err, ErrQueueClosed)

	// 重复关闭应该是安全的
	assert.NoError(q.Close())
}

func TestMemoryQueue_CloseWakesBlocked(t *testing.T) {
	assert := assert.New(t)
	q := NewMemoryQueue(4)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, _, err := q.Dequeue(ctx)
		errCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	assert.NoError(q.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(err, ErrQueueClosed, "close should wake blocked consumers")
	case <-time.After(time.Second):
		t.Fatal("blocked consumer was not woken by close")
	}
}
