package xcache

import (
	"context"
	"time"
)

// RemoteStore 定义 Distributed 后端依赖的远端 KV 原语。
// 实现必须并发安全，Get 未命中时返回 ErrCacheMiss。
type RemoteStore interface {
	// Ping 检查远端是否可达。
	Ping(ctx context.Context) error

	// Get 获取 key 对应的字节。未命中返回 ErrCacheMiss。
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 写入 key。ttl 为 0 表示由远端淘汰策略决定过期。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete 删除 key。key 不存在不视为错误。
	Delete(ctx context.Context, key string) error

	// Incr 原子递增计数器并返回新值，不存在时从 0 开始。
	Incr(ctx context.Context, key string) (uint64, error)

	// Close 关闭连接。
	Close() error
}
