package xcache

import "sync/atomic"

// ref 是一个值及其引用计数。
// 计数包含缓存自身的持有（值驻留在本地后端时为 1）和每个未释放的 Handle。
type ref[V any] struct {
	key   string
	value V
	count atomic.Int64
}

func newRef[V any](key string, value V, count int64) *ref[V] {
	r := &ref[V]{key: key, value: value}
	r.count.Store(count)
	return r
}

// drop 放弃一次持有，计数归零时返回 true。
func (r *ref[V]) drop() bool {
	return r.count.Add(-1) == 0
}

// Handle 是对缓存值的一次借出。
//
// 持有 Handle 期间，即使条目被淘汰或清空，值也不会被释放。
// 使用完毕必须调用 Release；最后一个持有者释放时运行释放钩子。
type Handle[V any] struct {
	cache    releaser[V]
	ref      *ref[V]
	released atomic.Bool
}

// releaser 由 ResourceCache 实现，用于在计数归零时运行释放钩子。
type releaser[V any] interface {
	finalize(r *ref[V])
}

func newHandle[V any](c releaser[V], r *ref[V]) *Handle[V] {
	return &Handle[V]{cache: c, ref: r}
}

// Key 返回借出时使用的 key。
func (h *Handle[V]) Key() string {
	return h.ref.key
}

// Value 返回缓存的值。Release 之后不应再使用返回值。
func (h *Handle[V]) Value() V {
	return h.ref.value
}

// Release 归还借出。重复调用返回 ErrHandleReleased，释放钩子不会运行两次。
func (h *Handle[V]) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrHandleReleased
	}
	if h.ref.drop() {
		h.cache.finalize(h.ref)
	}
	return nil
}
