/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-03-11 20:36:18
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-03-11 22:13:40
 * @FilePath: \go-quantx\redis_queue_test.go
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

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newTestRedisQueue(t *testing.T, config ...RedisQueueConfig) *RedisQueue {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, config...)
}

func TestRedisQueue_FIFO(t *testing.T) {
	assert := assert.New(t)
	q := newTestRedisQueue(t, RedisQueueConfig{PopTimeout: 100 * time.Millisecond})
	defer q.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.NoError(q.Enqueue(ctx, fmt.Sprintf("task-%d", i)))
	}
	assert.Equal(5, q.Len())

	for i := 0; i < 5; i++ {
		id, ok, err := q.Dequeue(ctx)
		assert.NoError(err)
		assert.True(ok)
		assert.Equal(fmt.Sprintf("task-%d", i), id, "dequeue order must match enqueue order")
	}
}

func TestRedisQueue_Backpressure(t *testing.T) {
	assert := assert.New(t)
	q := newTestRedisQueue(t, RedisQueueConfig{Capacity: 2, PopTimeout: 100 * time.Millisecond})
	defer q.Close()
	ctx := context.Background()

	assert.NoError(q.Enqueue(ctx, "a"))
	assert.NoError(q.Enqueue(ctx, "b"))
	assert.ErrorIs(q.Enqueue(ctx, "c"), ErrQueueFull, "enqueue beyond capacity should fail fast")

	_, ok, err := q.Dequeue(ctx)
	assert.NoError(err)
	assert.True(ok)
	assert.NoError(q.Enqueue(ctx, "c"), "enqueue should succeed after a slot frees up")
}

func TestRedisQueue_EmptyPoll(t *testing.T) {
	assert := assert.New(t)
	q := newTestRedisQueue(t, RedisQueueConfig{PopTimeout: 50 * time.Millisecond})
	defer q.Close()

	// 空队列时单轮等待超时后返回ok=false而不是错误
	_, ok, err := q.Dequeue(context.Background())
	assert.NoError(err)
	assert.False(ok, "empty poll should return ok=false")
}

func TestRedisQueue_Close(t *testing.T) {
	assert := assert.New(t)
	q := newTestRedisQueue(t)
	ctx := context.Background()

	assert.NoError(q.Close())
	assert.ErrorIs(q.Enqueue(ctx, "a"), ErrQueueClosed)

	_, _, err := q.Dequeue(ctx)
	assert.ErrorIs(err, ErrQueueClosed)
}
