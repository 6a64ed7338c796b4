package xcache

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 定义 Redis 远端存储的连接参数。
type RedisConfig struct {
	// URL 服务地址，"host:port" 或 "redis://..." 形式。
	// 默认为 "127.0.0.1:6379"。
	URL string

	// Username ACL 用户名，为空表示不认证。
	Username string

	// Password 密码，为空表示不认证。
	Password string

	// DialTimeout 建连超时，默认 2 秒。
	DialTimeout time.Duration
}

// RedisStore 是基于 go-redis 的 RemoteStore 实现。
type RedisStore struct {
	client redis.UniversalClient
	owned  bool
	closed atomic.Bool
}

// NewRedisStore 包装已有的 go-redis 客户端。
// 客户端的生命周期由调用方管理，Close 不会关闭它。
func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, ErrNilStore
	}
	return &RedisStore{client: client}, nil
}

// DialRedis 按配置创建 Redis 客户端（惰性建连，不做可达性检查）。
// 返回的 RedisStore 拥有客户端，Close 时一并关闭。
func DialRedis(cfg RedisConfig) (*RedisStore, error) {
	url := cfg.URL
	if url == "" {
		url = "127.0.0.1:6379"
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}

	var opts *redis.Options
	if strings.Contains(url, "://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: url}
	}
	if cfg.Username != "" {
		opts.Username = cfg.Username
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DialTimeout = dialTimeout

	return &RedisStore{client: redis.NewClient(opts), owned: true}, nil
}

// Client 返回底层的 redis.UniversalClient。
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return data, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (uint64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	return uint64(n), nil //nolint:gosec // INCR 从 0 开始递增，结果非负
}

// Close 关闭自身创建的客户端。重复调用返回 ErrClosed。
func (s *RedisStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if s.owned {
		return s.client.Close()
	}
	return nil
}

var _ RemoteStore = (*RedisStore)(nil)
