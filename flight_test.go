/*
 * @Author: kamalyes 501893067@qq.com
 * @Date: 2026-03-07 21:33:17
 * @LastEditors: kamalyes 501893067@qq.com
 * @LastEditTime: 2026-03-22 22:09:44
 * @FilePath: \go-quantx\flight_test.go
 * @Description:
 *
 * Copyright (c) 2026 by kamalyes, All Rights Reserved.
 */
package quantx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFlight_SingleCall(t *testing.T) {
	assert := assert.New(t)
	f := NewFlight()

	var computeCount atomic.Int32
	var sharedCount atomic.Int32
	var wg sync.WaitGroup

	// 50 个并发请求同一个键，计算函数必须恰好执行一次
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err, shared := f.Do("AAPL:growth", func() ([]byte, error) {
				computeCount.Add(1)
				time.Sleep(50 * time.Millisecond)
				return []byte("report"), nil
			})
			assert.NoError(err)
			assert.Equal("report", string(v), "all callers should receive the same result")
			if shared {
				sharedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(int32(1), computeCount.Load(), "compute should run exactly once")
	assert.Equal(int32(49), sharedCount.Load(), "all but one caller should share the result")
	assert.Equal(0, f.InFlight(), "no call should remain in flight")
}

func TestFlight_SequentialRecompute(t *testing.T) {
	assert := assert.New(t)
	f := NewFlight()

	var computeCount atomic.Int32
	fn := func() ([]byte, error) {
		computeCount.Add(1)
		return []byte("v"), nil
	}

	// 前一次完成后，标记已移除，后续调用发起新计算
	_, err, _ := f.Do("k", fn)
	assert.NoError(err)
	_, err, _ = f.Do("k", fn)
	assert.NoError(err)
	assert.Equal(int32(2), computeCount.Load(), "sequential calls should each compute")
}

func TestFlight_ErrorShared(t *testing.T) {
	assert := assert.New(t)
	f := NewFlight()

	boom := errors.New("compute boom")
	var wg sync.WaitGroup
	release := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err, _ := f.Do("k", func() ([]byte, error) {
				<-release
				return nil, boom
			})
			// 所有等待者共享同一个错误
			assert.ErrorIs(err, boom)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
}

func TestFlight_PanicRecovered(t *testing.T) {
	assert := assert.New(t)
	f := NewFlight()

	_, err, _ := f.Do("k", func() ([]byte, error) {
		panic("bad compute")
	})
	assert.Error(err, "panic should surface as an error")
	assert.Contains(err.Error(), "panicked")
	assert.Equal(0, f.InFlight(), "panicked call should not leak a marker")
}

func TestFlight_Forget(t *testing.T) {
	assert := assert.New(t)
	f := NewFlight()

	var computeCount atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _, _ = f.Do("k", func() ([]byte, error) {
			computeCount.Add(1)
			close(started)
			<-release
			return []byte("v1"), nil
		})
	}()
	<-started
	assert.Equal(1, f.InFlight())

	// Forget 之后同一键可以发起新一轮计算
	f.Forget("k")
	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err, _ := f.Do("k", func() ([]byte, error) {
			computeCount.Add(1)
			return []byte("v2"), nil
		})
		assert.NoError(err)
		assert.Equal("v2", string(v))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forgotten key should allow a fresh compute")
	}
	close(release)
	assert.Equal(int32(2), computeCount.Load())
}

func TestResolver_SingleFlightWithCache(t *testing.T) {
	assert := assert.New(t)
	store := NewMemoryStore(10 * time.Millisecond)
	defer store.Close()

	var computeCount atomic.Int32
	compute := func(ctx context.Context, key AnalysisKey) ([]byte, error) {
		computeCount.Add(1)
		time.Sleep(30 * time.Millisecond)
		return []byte("report-" + key.Symbol), nil
	}

	r, err := NewResolver(store, compute, ResolverConfig{ResultTTL: time.Minute})
	assert.NoError(err)

	key := NewAnalysisKey("AAPL", "growth")
	ctx := context.Background()

	// 并发解析同一键，计算恰好一次
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, rerr := r.Resolve(ctx, key)
			assert.NoError(rerr)
			assert.Equal("report-AAPL", string(v))
		}()
	}
	wg.Wait()
	assert.Equal(int32(1), computeCount.Load(), "concurrent resolves should compute exactly once")

	// 结果已缓存，后续解析不再计算
	v, err := r.Resolve(ctx, key)
	assert.NoError(err)
	assert.Equal("report-AAPL", string(v))
	assert.Equal(int32(1), computeCount.Load(), "cached result should be served without compute")
}

func TestResolver_MissingCompute(t *testing.T) {
	assert := assert.New(t)
	store := NewMemoryStore(10 * time.Millisecond)
	defer store.Close()

	_, err := NewResolver(store, nil)
	assert.ErrorIs(err, ErrComputeMissing, "nil compute should be rejected at construction")
}

func TestResolver_Timeout(t *testing.T) {
	assert := assert.New(t)
	store := NewMemoryStore(10 * time.Millisecond)
	defer store.Close()

	compute := func(ctx context.Context, key AnalysisKey) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r, err := NewResolver(store, compute, ResolverConfig{
		ResultTTL:      time.Minute,
		ComputeTimeout: 50 * time.Millisecond,
	})
	assert.NoError(err)

	key := NewAnalysisKey("AAPL", "growth")
	_, err = r.Resolve(context.Background(), key)
	assert.ErrorIs(err, ErrComputeTimeout, "deadline overrun should map to ErrComputeTimeout")

	// 超时结果绝不写缓存
	_, gerr := store.Get(context.Background(), key.String())
	assert.ErrorIs(gerr, ErrNotFound, "timed-out compute must not be cached")
}

func TestResolver_FailureNotCached(t *testing.T) {
	assert := assert.New(t)
	store := NewMemoryStore(10 * time.Millisecond)
	defer store.Close()

	var computeCount atomic.Int32
	compute := func(ctx context.Context, key AnalysisKey) ([]byte, error) {
		if computeCount.Add(1) == 1 {
			return nil, errors.New("upstream unavailable")
		}
		return []byte("recovered"), nil
	}
	r, err := NewResolver(store, compute, ResolverConfig{ResultTTL: time.Minute})
	assert.NoError(err)

	key := NewAnalysisKey("TSLA", "momentum")
	ctx := context.Background()

	// 首次失败，错误原样返回
	_, err = r.Resolve(ctx, key)
	assert.Error(err, "first resolve should fail")

	// 失败不缓存：下一次解析触发全新计算并成功
	v, err := r.Resolve(ctx, key)
	assert.NoError(err, "second resolve should recompute and succeed")
	assert.Equal("recovered", string(v))
	assert.Equal(int32(2), computeCount.Load())
}

func TestResolver_Refresh(t *testing.T) {
	assert := assert.New(t)
	store := NewMemoryStore(10 * time.Millisecond)
	defer store.Close()

	var version atomic.Int32
	compute := func(ctx context.Context, key AnalysisKey) ([]byte, error) {
		if version.Add(1) == 1 {
			return []byte("v1"), nil
		}
		return []byte("v2"), nil
	}
	r, err := NewResolver(store, compute, ResolverConfig{ResultTTL: time.Minute})
	assert.NoError(err)

	key := NewAnalysisKey("MSFT", "value")
	ctx := context.Background()

	v, err := r.Resolve(ctx, key)
	assert.NoError(err)
	assert.Equal("v1", string(v))

	// 普通解析命中缓存
	v, err = r.Resolve(ctx, key)
	assert.NoError(err)
	assert.Equal("v1", string(v), "plain resolve should serve cached value")

	// Refresh 绕过缓存强制重新计算并回写
	v, err = r.Refresh(ctx, key)
	assert.NoError(err)
	assert.Equal("v2", string(v), "refresh should force recompute")

	cached, err := store.Get(ctx, key.String())
	assert.NoError(err)
	assert.Equal("v2", string(cached), "refreshed value should be written back")
}

func TestResolver_RefreshJoinedByResolve(t *testing.T) {
	assert := assert.New(t)
	store := NewMemoryStore(10 * time.Millisecond)
	defer store.Close()

	var computeCount atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context, key AnalysisKey) ([]byte, error) {
		computeCount.Add(1)
		close(started)
		<-release
		return []byte("joined"), nil
	}
	r, err := NewResolver(store, compute, ResolverConfig{ResultTTL: time.Minute})
	assert.NoError(err)

	key := NewAnalysisKey("AAPL", "growth")
	ctx := context.Background()

	// 调度器的强制刷新进行中，并发的普通请求加入同一次计算
	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		v, rerr := r.Refresh(ctx, key)
		assert.NoError(rerr)
		assert.Equal("joined", string(v))
	}()
	<-started

	resolveDone := make(chan struct{})
	go func() {
		defer close(resolveDone)
		v, rerr := r.Resolve(ctx, key)
		assert.NoError(rerr)
		assert.Equal("joined", string(v))
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	<-refreshDone
	<-resolveDone
	assert.Equal(int32(1), computeCount.Load(), "concurrent resolve should join the in-flight refresh")
}

func TestResolver_InvalidKey(t *testing.T) {
	assert := assert.New(t)
	store := NewMemoryStore(10 * time.Millisecond)
	defer store.Close()

	r, err := NewResolver(store, func(ctx context.Context, key AnalysisKey) ([]byte, error) {
		return []byte("x"), nil
	})
	assert.NoError(err)

	_, err = r.Resolve(context.Background(), AnalysisKey{})
	assert.ErrorIs(err, ErrInvalidKey, "empty key should be rejected")
}
