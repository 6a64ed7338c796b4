package xcache

import "context"

// Entry 是后端中的一个条目。
type Entry[V any] struct {
	// Key 条目的 key。
	Key string

	// Value 条目的值。
	Value V

	// Size 近似字节数，仅用于统计，后端按条目数而非字节数限制容量。
	Size int64
}

// Backend 定义最小化的缓存存储原语。
//
// 所有方法对同一实例的并发调用都是原子的，实现必须在内部串行化变更操作。
// ResourceCache 会在其上再加一把粗粒度锁以保证复合操作的原子性。
//
// Put/Remove/Clear 返回"离开本进程托管"的条目，ResourceCache 据此放弃对值的持有。
// 后端不使用淘汰回调。
type Backend[V any] interface {
	// Get 获取值。命中时将 key 提升为最近使用。
	Get(ctx context.Context, key string) (V, bool, error)

	// Put 写入值，返回因本次写入而离开本地托管的所有条目。
	// 无论 err 是否为 nil，都必须报告所有离开的条目；
	// 若值本身未被本地保留（例如远端后端），它也在返回列表中。
	Put(ctx context.Context, key string, value V, size int64) ([]Entry[V], error)

	// Victim 返回下一个将被淘汰的 key。
	// 淘汰策略由外部决定的后端返回 false。
	Victim() (string, bool)

	// Remove 删除 key，返回被删除的本地条目。
	Remove(ctx context.Context, key string) (Entry[V], bool, error)

	// Clear 清空所有条目，返回离开的本地条目。
	Clear(ctx context.Context) ([]Entry[V], error)

	// Len 返回当前条目数。无法精确计数的后端返回 false。
	Len() (int, bool)

	// Capacity 返回容量上限。容量由外部管理时返回 0。
	Capacity() int

	// Close 释放后端自身持有的资源，不负责释放条目的值。
	Close() error
}
