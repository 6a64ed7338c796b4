package xcachemgr

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/omeyang/tilecache/pkg/storage/xcache"
)

// =============================================================================
// 测试辅助函数
// =============================================================================

// syncBuffer 是并发安全的日志缓冲区。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Count(s string) int {
	return strings.Count(b.String(), s)
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// testEstimator 16 GiB 内存，默认瓦片大小和比例下估算 1024 项。
var testEstimator = xcache.Estimator{Memory: 16 << 30}

func newTestManager(t *testing.T, settings Settings, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithEstimator(testEstimator)}, opts...)
	m, err := New(settings, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func withFileLimit(fn func() (uint64, error)) Option {
	return func(o *managerOptions) {
		o.fileLimit = fn
	}
}

type fakeSource struct {
	closed atomic.Int32
}

func (s *fakeSource) Close() error {
	s.closed.Add(1)
	return nil
}

func constant[V any](v V) xcache.ConstructFunc[V] {
	return func(context.Context) (V, error) { return v, nil }
}

func redisSettings(addr string) Settings {
	s := DefaultSettings()
	s.Backend = FamilyRedis
	s.Redis.URL = addr
	s.ProbeTimeout = 200 * time.Millisecond
	return s
}

// =============================================================================
// 注册
// =============================================================================

func TestRegister(t *testing.T) {
	m := newTestManager(t, DefaultSettings())
	ctx := context.Background()

	c, err := Register(ctx, m, "tilesource", CacheSpec[*fakeSource]{Capacity: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, c.Capacity())
	assert.Equal(t, "tilesource", c.Name())

	_, err = Register(ctx, m, "tilesource", CacheSpec[*fakeSource]{})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = Register(ctx, m, "", CacheSpec[*fakeSource]{})
	assert.ErrorIs(t, err, ErrEmptyName)

	got, ok := Lookup[*fakeSource](m, "tilesource")
	assert.True(t, ok)
	assert.Same(t, c, got)
	_, ok = Lookup[[]byte](m, "tilesource")
	assert.False(t, ok)
	_, ok = Lookup[*fakeSource](m, "missing")
	assert.False(t, ok)
}

func TestGetOrRegister(t *testing.T) {
	m := newTestManager(t, DefaultSettings())
	ctx := context.Background()

	a, err := GetOrRegister(ctx, m, "tileCache", CacheSpec[[]byte]{})
	require.NoError(t, err)
	b, err := GetOrRegister(ctx, m, "tileCache", CacheSpec[[]byte]{})
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = GetOrRegister(ctx, m, "tileCache", CacheSpec[string]{})
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = GetOrRegister(ctx, m, "", CacheSpec[string]{})
	assert.ErrorIs(t, err, ErrEmptyName)

	assert.Equal(t, []string{"tileCache"}, m.Names())
}

func TestRegister_CapacityPrecedence(t *testing.T) {
	settings := DefaultSettings()
	settings.Capacities = map[string]int{"overridden": 7}
	m := newTestManager(t, settings)
	ctx := context.Background()

	overridden, err := Register(ctx, m, "overridden", CacheSpec[int]{Capacity: 100})
	require.NoError(t, err)
	assert.Equal(t, 7, overridden.Capacity())

	explicit, err := Register(ctx, m, "explicit", CacheSpec[int]{Capacity: 100})
	require.NoError(t, err)
	assert.Equal(t, 100, explicit.Capacity())

	estimated, err := Register(ctx, m, "estimated", CacheSpec[int]{})
	require.NoError(t, err)
	assert.Equal(t, 1024, estimated.Capacity())

	bounded, err := Register(ctx, m, "bounded", CacheSpec[int]{MaxItems: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, bounded.Capacity())

	small, err := Register(ctx, m, "small", CacheSpec[int]{SizeEach: 1 << 30})
	require.NoError(t, err)
	assert.Equal(t, 2, small.Capacity())
}

func TestRegister_FileLimitWarning(t *testing.T) {
	logger, logs := newTestLogger()
	m := newTestManager(t, DefaultSettings(),
		WithLogger(logger),
		withFileLimit(func() (uint64, error) { return 256, nil }))
	ctx := context.Background()

	_, err := Register(ctx, m, "tilesource", CacheSpec[*fakeSource]{HoldsFiles: true})
	require.NoError(t, err)
	_, err = Register(ctx, m, "small", CacheSpec[*fakeSource]{HoldsFiles: true, Capacity: 10})
	require.NoError(t, err)
	_, err = Register(ctx, m, "tiles", CacheSpec[[]byte]{})
	require.NoError(t, err)

	assert.Equal(t, 1, logs.Count("exceeds open file limit"))
	assert.Contains(t, logs.String(), "cache=tilesource")
}

func TestRegister_AfterClose(t *testing.T) {
	m := newTestManager(t, DefaultSettings())
	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()))

	_, err := Register(context.Background(), m, "a", CacheSpec[int]{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = GetOrRegister(context.Background(), m, "a", CacheSpec[int]{})
	assert.ErrorIs(t, err, ErrClosed)
}

// =============================================================================
// 后端选择
// =============================================================================

func TestRegister_PythonBackendLogsOnce(t *testing.T) {
	logger, logs := newTestLogger()
	m := newTestManager(t, DefaultSettings(), WithLogger(logger))
	ctx := context.Background()

	_, err := Register(ctx, m, "a", CacheSpec[int]{})
	require.NoError(t, err)
	_, err = Register(ctx, m, "b", CacheSpec[int]{})
	require.NoError(t, err)

	assert.Equal(t, 1, logs.Count("using python for caching"))
}

func TestRegister_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	logger, logs := newTestLogger()
	m := newTestManager(t, redisSettings(mr.Addr()), WithLogger(logger))
	ctx := context.Background()

	tiles, err := Register(ctx, m, "tileCache", CacheSpec[[]byte]{Shared: true, Codec: xcache.BytesCodec{}})
	require.NoError(t, err)
	_, distributed := tiles.Backend().(*xcache.Distributed[[]byte])
	assert.True(t, distributed)

	// 未声明 Shared 或有显式容量的缓存仍在进程内
	sources, err := Register(ctx, m, "tilesource", CacheSpec[*fakeSource]{})
	require.NoError(t, err)
	_, isLRU := sources.Backend().(*xcache.LRU[*fakeSource])
	assert.True(t, isLRU)

	pinned, err := Register(ctx, m, "pinned", CacheSpec[[]byte]{Shared: true, Codec: xcache.BytesCodec{}, Capacity: 5})
	require.NoError(t, err)
	_, isLRU = pinned.Backend().(*xcache.LRU[[]byte])
	assert.True(t, isLRU)

	v, err := tiles.Load(ctx, "t", constant([]byte("png")))
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), v)
	assert.NotEmpty(t, mr.Keys())

	// 远端缓存不出现在 Info 中
	info := m.Info()
	assert.NotContains(t, info, "tileCache")
	assert.Contains(t, info, "tilesource")
	assert.Contains(t, info, "pinned")

	assert.Equal(t, 1, logs.Count("using redis for caching"))
	assert.Zero(t, logs.Count("Cannot use"))
}

func TestRegister_UnreachableRemoteFallsBackOnce(t *testing.T) {
	tests := []struct {
		name     string
		settings func() Settings
		message  string
	}{
		{"memcached", func() Settings {
			s := DefaultSettings()
			s.Backend = FamilyMemcached
			s.Memcached.URL = "127.0.0.1:1"
			s.Memcached.Timeout = 100 * time.Millisecond
			s.ProbeTimeout = 100 * time.Millisecond
			return s
		}, "Cannot use memcached for caching."},
		{"redis", func() Settings {
			mr := miniredis.RunT(t)
			addr := mr.Addr()
			mr.Close()
			return redisSettings(addr)
		}, "Cannot use redis for caching."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := newTestLogger()
			m := newTestManager(t, tt.settings(), WithLogger(logger))
			ctx := context.Background()

			for _, name := range []string{"tileCache", "loadModelCache"} {
				c, err := Register(ctx, m, name, CacheSpec[[]byte]{Shared: true, Codec: xcache.BytesCodec{}})
				require.NoError(t, err)
				_, isLRU := c.Backend().(*xcache.LRU[[]byte])
				assert.True(t, isLRU)
			}

			assert.Equal(t, 1, logs.Count(tt.message))
			assert.Equal(t, 1, logs.Count("using python for caching"))
			assert.Len(t, m.Info(), 2)
		})
	}
}

func TestRegister_InjectedStoreNotClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := xcache.NewRedisStore(client)
	require.NoError(t, err)

	settings := DefaultSettings()
	settings.Backend = FamilyRedis
	m, err := New(settings, WithRemoteStore(store), WithEstimator(testEstimator))
	require.NoError(t, err)

	_, err = Register(context.Background(), m, "tileCache", CacheSpec[[]byte]{Shared: true, Codec: xcache.BytesCodec{}})
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background()))

	assert.NoError(t, store.Ping(context.Background()))
}

// =============================================================================
// 管理操作
// =============================================================================

func TestManager_InfoAndClearAll(t *testing.T) {
	m := newTestManager(t, DefaultSettings())
	ctx := context.Background()

	sources, err := Register(ctx, m, "tilesource", CacheSpec[*fakeSource]{Capacity: 4})
	require.NoError(t, err)
	tiles, err := Register(ctx, m, "tileCache", CacheSpec[[]byte]{Capacity: 8})
	require.NoError(t, err)

	src := &fakeSource{}
	_, err = sources.Load(ctx, "a.svs", constant(src))
	require.NoError(t, err)
	_, err = tiles.Load(ctx, "t1", constant([]byte("1")))
	require.NoError(t, err)
	_, err = tiles.Load(ctx, "t2", constant([]byte("2")))
	require.NoError(t, err)

	assert.Equal(t, map[string]CacheInfo{
		"tilesource": {Capacity: 4, Used: 1},
		"tileCache":  {Capacity: 8, Used: 2},
	}, m.Info())

	report := m.ClearAll(ctx)
	assert.Equal(t, 1, report.Before["tilesource"].Used)
	assert.Equal(t, 2, report.Before["tileCache"].Used)
	assert.Zero(t, report.After["tilesource"].Used)
	assert.Zero(t, report.After["tileCache"].Used)
	assert.Equal(t, int32(1), src.closed.Load())
}

func TestManager_ClearNamed(t *testing.T) {
	m := newTestManager(t, DefaultSettings())
	ctx := context.Background()

	a, err := Register(ctx, m, "a", CacheSpec[int]{Capacity: 2})
	require.NoError(t, err)
	b, err := Register(ctx, m, "b", CacheSpec[int]{Capacity: 2})
	require.NoError(t, err)
	_, _ = a.Load(ctx, "k", constant(1))
	_, _ = b.Load(ctx, "k", constant(1))

	report, err := m.ClearNamed(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]CacheInfo{"a": {Capacity: 2, Used: 1}}, report.Before)
	assert.Equal(t, map[string]CacheInfo{"a": {Capacity: 2, Used: 0}}, report.After)

	n, _ := b.Len()
	assert.Equal(t, 1, n)

	_, err = m.ClearNamed(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownCache)
}

func TestManager_CloseReleasesEverything(t *testing.T) {
	m, err := New(DefaultSettings(), WithEstimator(testEstimator))
	require.NoError(t, err)
	ctx := context.Background()

	sources, err := Register(ctx, m, "tilesource", CacheSpec[*fakeSource]{Capacity: 4})
	require.NoError(t, err)
	src := &fakeSource{}
	h, err := sources.Acquire(ctx, "a.svs", constant(src))
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx))
	// 仍被借出的值在最后一次 Release 时释放
	assert.Zero(t, src.closed.Load())
	require.NoError(t, h.Release())
	assert.Equal(t, int32(1), src.closed.Load())

	_, err = sources.Acquire(ctx, "b.svs", constant(&fakeSource{}))
	assert.ErrorIs(t, err, xcache.ErrClosed)
}

// =============================================================================
// 指标
// =============================================================================

func TestManager_Gauges(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m := newTestManager(t, DefaultSettings(), WithMeterProvider(mp))
	ctx := context.Background()

	c, err := Register(ctx, m, "tileCache", CacheSpec[[]byte]{Capacity: 8})
	require.NoError(t, err)
	_, err = c.Load(ctx, "t", constant([]byte("png")))
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	values := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			gauge, ok := metric.Data.(metricdata.Gauge[int64])
			if !ok {
				continue
			}
			for _, dp := range gauge.DataPoints {
				if v, ok := dp.Attributes.Value(attribute.Key("cache")); ok && v.AsString() == "tileCache" {
					values[metric.Name] = dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), values[metricUsed])
	assert.Equal(t, int64(8), values[metricCapacity])
}

func TestManager_ReleaseHookCallsBack(t *testing.T) {
	m, err := New(DefaultSettings(), WithEstimator(testEstimator))
	require.NoError(t, err)
	ctx := context.Background()

	var seen []map[string]CacheInfo
	sources, err := Register(ctx, m, "tilesource", CacheSpec[*fakeSource]{
		Capacity: 4,
		Release: func(s *fakeSource) error {
			// 释放钩子运行时 Manager 的锁必须已释放
			seen = append(seen, m.Info())
			_, _ = Lookup[*fakeSource](m, "tilesource")
			return s.Close()
		},
	})
	require.NoError(t, err)

	run := func(name string, fn func()) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn()
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatalf("%s deadlocked in release hook", name)
		}
	}

	_, err = sources.Load(ctx, "a.svs", constant(&fakeSource{}))
	require.NoError(t, err)
	run("ClearAll", func() { m.ClearAll(ctx) })

	_, err = sources.Load(ctx, "b.svs", constant(&fakeSource{}))
	require.NoError(t, err)
	run("ClearNamed", func() { _, _ = m.ClearNamed(ctx, "tilesource") })

	_, err = sources.Load(ctx, "c.svs", constant(&fakeSource{}))
	require.NoError(t, err)
	run("Close", func() { _ = m.Close(ctx) })

	assert.Len(t, seen, 3)
}
