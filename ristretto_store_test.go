/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-03-06 22:45:30
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-03-07 20:18:22
 * @FilePath: \go-quantx\ristretto_store_test.go
 * @Description:
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRistrettoStore_SetGet(t *testing.T) {
	assert := assert.New(t)
	s, err := NewRistrettoStore(nil)
	assert.NoError(err, "NewRistrettoStore should succeed")
	defer s.Close()
	ctx := context.Background()

	err = s.Set(ctx, "AAPL:growth", []byte("report-1"), time.Minute)
	assert.NoError(err, "Set should succeed")

	v, err := s.Get(ctx, "AAPL:growth")
	assert.NoError(err, "Get should succeed")
	assert.Equal("report-1", string(v), "Get should return the value we set")

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(err, ErrNotFound, "Get non-existent key should return ErrNotFound")
}

func TestRistrettoStore_TTL(t *testing.T) {
	assert := assert.New(t)
	s, err := NewRistrettoStore(nil)
	assert.NoError(err)
	defer s.Close()
	ctx := context.Background()

	assert.NoError(s.Set(ctx, "b", []byte("2"), time.Minute))

	ttl, err := s.GetTTL(ctx, "b")
	assert.NoError(err, "GetTTL should succeed")
	assert.True(ttl > 0 && ttl <= time.Minute, "TTL should be positive and not exceed set value")

	// -1 永不过期
	assert.NoError(s.Set(ctx, "forever", []byte("f"), -1))
	v, err := s.Get(ctx, "forever")
	assert.NoError(err, "no-expiry entry should be readable")
	assert.Equal("f", string(v))
}

func TestRistrettoStore_Expiry(t *testing.T) {
	assert := assert.New(t)
	s, err := NewRistrettoStore(nil)
	assert.NoError(err)
	defer s.Close()
	ctx := context.Background()

	assert.NoError(s.Set(ctx, "short", []byte("x"), time.Second))

	// ristretto 的 TTL 时钟精度为秒，留足余量等待过期
	time.Sleep(2500 * time.Millisecond)
	_, err = s.Get(ctx, "short")
	assert.ErrorIs(err, ErrNotFound, "Get after expiry should return ErrNotFound")
}

func TestRistrettoStore_Delete(t *testing.T) {
	assert := assert.New(t)
	s, err := NewRistrettoStore(nil)
	assert.NoError(err)
	defer s.Close()
	ctx := context.Background()

	assert.NoError(s.Set(ctx, "c", []byte("3"), time.Minute))
	assert.NoError(s.Del(ctx, "c"))

	_, err = s.Get(ctx, "c")
	assert.ErrorIs(err, ErrNotFound, "Get after delete should return ErrNotFound")
}

func TestRistrettoStore_Close(t *testing.T) {
	assert := assert.New(t)
	s, err := NewRistrettoStore(nil)
	assert.NoError(err)
	ctx := context.Background()

	assert.NoError(s.Set(ctx, "d", []byte("4"), time.Minute))
	assert.NoError(s.Close(), "Close should succeed")

	err = s.Set(ctx, "e", []byte("5"), time.Minute)
	assert.ErrorIs(err, ErrClosed, "Set after close should fail")

	assert.NoError(s.Close(), "Second close should be safe")
}
