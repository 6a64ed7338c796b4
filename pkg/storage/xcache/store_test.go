package xcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// RedisStore
// =============================================================================

func TestRedisStore_Operations(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Ping(ctx))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))
	assert.False(t, mr.Exists("k"))

	n, err := store.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	n, err = store.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	assert.NotNil(t, store.Client())
}

func TestNewRedisStore_NilClient(t *testing.T) {
	_, err := NewRedisStore(nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		url  string
	}{
		{"host port", mr.Addr()},
		{"url form", "redis://" + mr.Addr() + "/0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := DialRedis(RedisConfig{URL: tt.url})
			require.NoError(t, err)
			require.NoError(t, store.Ping(context.Background()))

			require.NoError(t, store.Close())
			assert.ErrorIs(t, store.Close(), ErrClosed)
		})
	}
}

func TestDialRedis_BadURL(t *testing.T) {
	_, err := DialRedis(RedisConfig{URL: "redis://:badport:x/"})
	assert.Error(t, err)
}

// =============================================================================
// MemcachedStore
// =============================================================================

func TestParseServers(t *testing.T) {
	tests := []struct {
		url  string
		want []string
	}{
		{"", []string{"127.0.0.1:11211"}},
		{"  ", []string{"127.0.0.1:11211"}},
		{"cache1", []string{"cache1:11211"}},
		{"cache1:11300, cache2", []string{"cache1:11300", "cache2:11211"}},
		{"a,,b", []string{"a:11211", "b:11211"}},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, parseServers(tt.url))
		})
	}
}

func TestMemcachedExpiration(t *testing.T) {
	assert.Equal(t, int32(0), memcachedExpiration(0))
	assert.Equal(t, int32(0), memcachedExpiration(-time.Second))
	assert.Equal(t, int32(1), memcachedExpiration(time.Millisecond))
	assert.Equal(t, int32(60), memcachedExpiration(time.Minute))

	// 超过 30 天使用绝对时间戳
	abs := memcachedExpiration(31 * 24 * time.Hour)
	assert.Greater(t, int64(abs), time.Now().Unix())
}

func TestDialMemcached_Credentials(t *testing.T) {
	assert.False(t, DialMemcached(MemcachedConfig{}).CredentialsIgnored())
	assert.True(t, DialMemcached(MemcachedConfig{Username: "u", Password: "p"}).CredentialsIgnored())
}

func TestMemcachedStore_Unreachable(t *testing.T) {
	// 端口 1 上没有 memcached，连接被拒绝
	store := DialMemcached(MemcachedConfig{URL: "127.0.0.1:1", Timeout: 100 * time.Millisecond})
	defer store.Close()

	err := Probe(context.Background(), store, WithProbe(100*time.Millisecond, 1))
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestMemcachedStore_CanceledContext(t *testing.T) {
	store := DialMemcached(MemcachedConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Ping(ctx), context.Canceled)
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Set(ctx, "k", nil, 0), context.Canceled)
	assert.ErrorIs(t, store.Delete(ctx, "k"), context.Canceled)
	_, err = store.Incr(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
