package xcache

import (
	"context"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// MaxCapacity 进程内后端容量上限。
const MaxCapacity = 1 << 24 // 16,777,216

// LRU 是进程内、严格按访问顺序淘汰的有界后端。
// 必须通过 [NewLRU] 创建，容量在构造后固定。所有方法并发安全。
//
// Get 和 Put 都会刷新访问顺序，平均 O(1)。
type LRU[V any] struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, Entry[V]]
	capacity int

	// departed 收集 simplelru 淘汰回调报告的条目，仅在 mu 内访问。
	departed []Entry[V]
}

// NewLRU 创建容量为 capacity 的进程内 LRU 后端。
// 如果 capacity <= 0，返回 ErrInvalidCapacity；超过 16,777,216 返回 ErrCapacityExceedsMax。
func NewLRU[V any](capacity int) (*LRU[V], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if capacity > MaxCapacity {
		return nil, ErrCapacityExceedsMax
	}

	c := &LRU[V]{capacity: capacity}
	lru, err := simplelru.NewLRU[string, Entry[V]](capacity, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = lru
	return c, nil
}

// onEvict 在 mu 内被 simplelru 同步调用。
func (c *LRU[V]) onEvict(_ string, e Entry[V]) {
	c.departed = append(c.departed, e)
}

// takeDeparted 取出并重置已收集的离开条目。调用方必须持有 mu。
func (c *LRU[V]) takeDeparted() []Entry[V] {
	out := c.departed
	c.departed = nil
	return out
}

// Get 获取值并将 key 提升为最近使用。
func (c *LRU[V]) Get(_ context.Context, key string) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	return e.Value, ok, nil
}

// Put 写入值。超出容量时淘汰最久未使用的条目并返回。
// 覆盖已存在的 key 时，旧条目作为离开条目返回。
func (c *LRU[V]) Put(_ context.Context, key string, value V, size int64) ([]Entry[V], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var replaced []Entry[V]
	if old, ok := c.lru.Peek(key); ok {
		replaced = append(replaced, old)
	}
	c.lru.Add(key, Entry[V]{Key: key, Value: value, Size: size})
	return append(replaced, c.takeDeparted()...), nil
}

// Victim 返回最久未使用的 key。空缓存返回 false。
func (c *LRU[V]) Victim() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, _, ok := c.lru.GetOldest()
	return key, ok
}

// Remove 删除 key，返回被删除的条目。
func (c *LRU[V]) Remove(_ context.Context, key string) (Entry[V], bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if !ok {
		return e, false, nil
	}
	c.lru.Remove(key)
	c.takeDeparted()
	return e, true, nil
}

// Clear 清空所有条目并返回它们。
func (c *LRU[V]) Clear(_ context.Context) ([]Entry[V], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	return c.takeDeparted(), nil
}

// Keys 返回所有 key，按从最旧到最新排列。
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Len 返回当前条目数，总是精确的。
func (c *LRU[V]) Len() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len(), true
}

// Capacity 返回构造时指定的容量。
func (c *LRU[V]) Capacity() int {
	return c.capacity
}

// Close 无资源需要释放，总是返回 nil。
func (c *LRU[V]) Close() error {
	return nil
}

var _ Backend[int] = (*LRU[int])(nil)
