package xcache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcachedRelativeTTLMax memcached 相对过期时间上限（30 天），超过时需使用绝对时间戳。
const memcachedRelativeTTLMax = 30 * 24 * time.Hour

// MemcachedConfig 定义 memcached 远端存储的连接参数。
type MemcachedConfig struct {
	// URL 服务地址，多个地址以逗号分隔。默认为 "127.0.0.1"（端口 11211）。
	URL string

	// Username/Password 为 SASL 认证参数。
	// 文本协议客户端不支持 SASL，设置后会被忽略，见 [MemcachedStore.CredentialsIgnored]。
	Username string
	Password string

	// Timeout 单次操作超时，默认 500ms。
	Timeout time.Duration
}

// MemcachedStore 是基于 gomemcache 的 RemoteStore 实现。
//
// gomemcache 不支持 context，ctx 仅用于在发起请求前检查是否已取消。
type MemcachedStore struct {
	client             *memcache.Client
	credentialsIgnored bool
}

// DialMemcached 按配置创建 memcached 客户端（惰性建连，不做可达性检查）。
func DialMemcached(cfg MemcachedConfig) *MemcachedStore {
	servers := parseServers(cfg.URL)
	client := memcache.New(servers...)
	client.Timeout = cfg.Timeout
	if client.Timeout <= 0 {
		client.Timeout = 500 * time.Millisecond
	}
	return &MemcachedStore{
		client:             client,
		credentialsIgnored: cfg.Username != "" || cfg.Password != "",
	}
}

// parseServers 解析逗号分隔的地址列表，缺省端口为 11211。
func parseServers(url string) []string {
	if strings.TrimSpace(url) == "" {
		url = "127.0.0.1"
	}
	var servers []string
	for _, s := range strings.Split(url, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, ":") {
			s += ":11211"
		}
		servers = append(servers, s)
	}
	return servers
}

// CredentialsIgnored 报告配置中的用户名/密码是否因协议限制被忽略。
func (s *MemcachedStore) CredentialsIgnored() bool {
	return s.credentialsIgnored
}

func (s *MemcachedStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.Ping()
}

func (s *MemcachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	item, err := s.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

func (s *MemcachedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.Set(&memcache.Item{Key: key, Value: value, Expiration: memcachedExpiration(ttl)})
}

func (s *MemcachedStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Incr 递增计数器。memcached 的 incr 要求 key 已存在，
// 不存在时先 add "1"；与其他实例并发 add 失败则重新 incr。
func (s *MemcachedStore) Incr(ctx context.Context, key string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.client.Increment(key, 1)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, memcache.ErrCacheMiss) {
		return 0, err
	}
	err = s.client.Add(&memcache.Item{Key: key, Value: []byte("1")})
	if err == nil {
		return 1, nil
	}
	if !errors.Is(err, memcache.ErrNotStored) {
		return 0, err
	}
	return s.client.Increment(key, 1)
}

// Close 无需显式释放，空闲连接由客户端自行回收。
func (s *MemcachedStore) Close() error {
	return nil
}

func memcachedExpiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	if ttl > memcachedRelativeTTLMax {
		return int32(time.Now().Add(ttl).Unix()) //nolint:gosec // memcached 协议使用 32 位时间戳
	}
	secs := int32(ttl / time.Second)
	if secs == 0 {
		secs = 1
	}
	return secs
}

var _ RemoteStore = (*MemcachedStore)(nil)
