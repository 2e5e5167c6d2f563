/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-03-08 20:14:28
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-03-08 21:37:50
 * @FilePath: \go-quantx\lock_test.go
 * @Description:
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestComputeLock_TryLock(t *testing.T) {
	assert := assert.New(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	l1 := NewComputeLock(client, "AAPL:growth", ComputeLockConfig{TTL: time.Second})
	l2 := NewComputeLock(client, "AAPL:growth", ComputeLockConfig{TTL: time.Second})

	// 第一个获取者成功
	ok, err := l1.TryLock(ctx)
	assert.NoError(err, "first TryLock should succeed")
	assert.True(ok, "first TryLock should acquire the lock")

	// 同一键的第二个获取者失败
	ok, err = l2.TryLock(ctx)
	assert.NoError(err)
	assert.False(ok, "second TryLock on same key should not acquire")

	// 释放后可以重新获取
	assert.NoError(l1.Unlock(ctx), "Unlock should succeed")
	ok, err = l2.TryLock(ctx)
	assert.NoError(err)
	assert.True(ok, "TryLock after unlock should acquire")
}

func TestComputeLock_OwnerOnlyRelease(t *testing.T) {
	assert := assert.New(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	l1 := NewComputeLock(client, "k", ComputeLockConfig{TTL: time.Second})
	l2 := NewComputeLock(client, "k", ComputeLockConfig{TTL: time.Second})

	ok, err := l1.TryLock(ctx)
	assert.NoError(err)
	assert.True(ok)

	// 非持有者的释放是空操作，锁仍然被持有
	assert.NoError(l2.Unlock(ctx))
	ok, err = l2.TryLock(ctx)
	assert.NoError(err)
	assert.False(ok, "lock should still be held after non-owner unlock")
}

func TestComputeLock_Expiry(t *testing.T) {
	assert := assert.New(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	l1 := NewComputeLock(client, "k", ComputeLockConfig{TTL: 100 * time.Millisecond})
	ok, err := l1.TryLock(ctx)
	assert.NoError(err)
	assert.True(ok)

	// 锁到期后自动释放
	mr.FastForward(200 * time.Millisecond)
	l2 := NewComputeLock(client, "k", ComputeLockConfig{TTL: time.Second})
	ok, err = l2.TryLock(ctx)
	assert.NoError(err)
	assert.True(ok, "expired lock should be acquirable")
}
