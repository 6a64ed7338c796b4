package xcache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/tilecache/internal/storageopt"
)

// ConstructFunc 在缓存未命中时构造值。
// ctx 脱离调用方的取消链，调用方放弃等待不会中断构造。
type ConstructFunc[V any] func(ctx context.Context) (V, error)

// Stats 是缓存统计的只读快照。
type Stats = storageopt.CounterSnapshot

// flight 表示一个进行中的构造。
// waiters 包含发起者，只在 ResourceCache.mu 内修改；ref 和 err 在 done 关闭前写入。
type flight[V any] struct {
	done    chan struct{}
	waiters int64
	ref     *ref[V]
	err     error
}

// ResourceCache 是带引用计数和构造去重的缓存。
//
// 它在 Backend 之上增加：
//   - 粗粒度互斥锁，保证"查找-未命中-写入-处理离开条目"的复合操作原子化
//   - 按 key 的构造去重：同一 key 同时未命中时构造函数只执行一次
//   - 引用计数：被淘汰但仍有借出的值延迟到最后一次 Release 才释放
//
// 构造在锁外执行，慢构造不会阻塞其他 key 的命中。
type ResourceCache[V any] struct {
	name    string
	backend Backend[V]
	options *Options[V]
	tel     *telemetry
	counter storageopt.CacheCounter

	mu     sync.Mutex
	refs   map[string]*ref[V] // 驻留在本地后端的条目
	calls  map[string]*flight[V]
	closed bool
}

// NewResourceCache 创建名为 name 的资源缓存，值存放在 backend 中。
// ResourceCache 接管 backend 的生命周期，Close 时会关闭它。
func NewResourceCache[V any](name string, backend Backend[V], opts ...Option[V]) (*ResourceCache[V], error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	o := defaultOptions[V]()
	for _, opt := range opts {
		opt(o)
	}
	tel, err := newTelemetry(name, o.MeterProvider, o.TracerProvider)
	if err != nil {
		return nil, err
	}
	return &ResourceCache[V]{
		name:    name,
		backend: backend,
		options: o,
		tel:     tel,
		refs:    make(map[string]*ref[V]),
		calls:   make(map[string]*flight[V]),
	}, nil
}

// Name 返回缓存名称。
func (c *ResourceCache[V]) Name() string {
	return c.name
}

// Backend 返回底层后端。
func (c *ResourceCache[V]) Backend() Backend[V] {
	return c.backend
}

// =============================================================================
// 借出
// =============================================================================

// Acquire 获取 key 对应的值，未命中时调用 construct 构造并写入缓存。
//
// 同一 key 的并发未命中只会执行一次 construct，所有等待者得到同一个值。
// 构造失败时错误原样返回给本次的所有等待者，且不会写入缓存。
// 调用方 ctx 取消时返回 ctx.Err()，但构造继续进行，结果仍会写入缓存。
//
// 返回的 Handle 必须调用 Release。
func (c *ResourceCache[V]) Acquire(ctx context.Context, key string, construct ConstructFunc[V]) (*Handle[V], error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if construct == nil {
		return nil, ErrNilConstructor
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if h, ok := c.lookupLocked(ctx, key); ok {
		c.mu.Unlock()
		c.counter.IncHit()
		c.tel.add(ctx, c.tel.hits, 1)
		return h, nil
	}
	c.counter.IncMiss()
	c.tel.add(ctx, c.tel.misses, 1)

	f, ok := c.calls[key]
	if ok {
		f.waiters++
	} else {
		f = &flight[V]{done: make(chan struct{}), waiters: 1}
		c.calls[key] = f
		go c.fill(context.WithoutCancel(ctx), key, construct, f)
	}
	c.mu.Unlock()

	return c.wait(ctx, f)
}

// Load 获取值并立即归还借出，适用于没有释放钩子的值（瓦片字节、元数据）。
func (c *ResourceCache[V]) Load(ctx context.Context, key string, construct ConstructFunc[V]) (V, error) {
	h, err := c.Acquire(ctx, key, construct)
	if err != nil {
		var zero V
		return zero, err
	}
	v := h.Value()
	if err := h.Release(); err != nil {
		return v, err
	}
	return v, nil
}

// Peek 查找 key 但不构造，也不计入命中统计。未命中或已关闭时返回 false。
func (c *ResourceCache[V]) Peek(ctx context.Context, key string) (*Handle[V], bool) {
	if key == "" {
		return nil, false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false
	}
	return c.lookupLocked(ctx, key)
}

// lookupLocked 在后端查找 key，命中时借出一次。调用方必须持有 mu。
func (c *ResourceCache[V]) lookupLocked(ctx context.Context, key string) (*Handle[V], bool) {
	v, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logWarn(ctx, "backend get failed", err, slog.String("key", key))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if r, ok := c.refs[key]; ok {
		// 驻留条目至少有缓存自身的一次持有，计数不会为 0。
		r.count.Add(1)
		return newHandle[V](c, r), true
	}
	// 值不在本地托管（远端后端解码所得），只有本次借出持有它。
	return newHandle[V](c, newRef(key, v, 1)), true
}

// wait 等待构造完成。每个等待者的借出已在构造完成时计入。
func (c *ResourceCache[V]) wait(ctx context.Context, f *flight[V]) (*Handle[V], error) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, f.err
		}
		return newHandle[V](c, f.ref), nil
	case <-ctx.Done():
		// 放弃等待，但本等待者的借出仍会被计入，构造完成后归还。
		go func() {
			<-f.done
			if f.ref != nil && f.ref.drop() {
				c.finalize(f.ref)
			}
		}()
		return nil, ctx.Err()
	}
}

// fill 执行构造并写入缓存，最后唤醒所有等待者。
func (c *ResourceCache[V]) fill(ctx context.Context, key string, construct ConstructFunc[V], f *flight[V]) {
	v, err := c.construct(ctx, key, construct)

	c.mu.Lock()
	delete(c.calls, key)
	if err != nil {
		f.err = err
		c.mu.Unlock()
		close(f.done)
		return
	}
	r, released := c.storeLocked(ctx, key, v, f.waiters)
	f.ref = r
	c.mu.Unlock()

	close(f.done)
	c.finalizeAll(released)
}

// construct 在锁外调用构造函数，panic 转为 ErrConstructPanic。
func (c *ResourceCache[V]) construct(ctx context.Context, key string, fn ConstructFunc[V]) (v V, err error) {
	if c.options.ConstructTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.ConstructTimeout)
		defer cancel()
	}

	ctx, span := c.tel.tracer.Start(ctx, spanConstruct,
		trace.WithAttributes(
			attribute.String("cache", c.name),
			attribute.String("key", key),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.counter.IncConstructError()
		} else {
			c.counter.IncConstruction()
			c.tel.add(ctx, c.tel.constructions, 1)
		}
		span.End()
	}()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrConstructPanic, p)
		}
	}()

	return fn(ctx)
}

// storeLocked 写入新构造的值，返回其 ref 和计数已归零的 ref。
// checkouts 是本次构造的等待者数量，每个等待者预先计入一次借出。
// 调用方必须持有 mu。
func (c *ResourceCache[V]) storeLocked(ctx context.Context, key string, v V, checkouts int64) (*ref[V], []*ref[V]) {
	if c.closed {
		// 关闭期间完成的构造不写入缓存，值只由等待者持有。
		return newRef(key, v, checkouts), nil
	}

	r := newRef(key, v, checkouts+1)
	c.refs[key] = r
	departed, err := c.backend.Put(ctx, key, v, c.options.sizeOf(v))
	if err != nil {
		c.logWarn(ctx, "backend put failed", err, slog.String("key", key))
	}

	evicted := 0
	for _, e := range departed {
		if e.Key != key {
			evicted++
		}
	}
	if evicted > 0 {
		c.counter.AddEvictions(evicted)
		c.tel.add(ctx, c.tel.evictions, evicted)
	}
	return r, c.dropDepartedLocked(departed)
}

// dropDepartedLocked 放弃缓存对离开条目的持有，返回计数已归零的 ref。
// 调用方必须持有 mu。
func (c *ResourceCache[V]) dropDepartedLocked(departed []Entry[V]) []*ref[V] {
	var released []*ref[V]
	for _, e := range departed {
		r, ok := c.refs[e.Key]
		if !ok {
			continue
		}
		delete(c.refs, e.Key)
		if r.drop() {
			released = append(released, r)
		}
	}
	return released
}

// =============================================================================
// 释放
// =============================================================================

// finalize 运行释放钩子。钩子的错误和 panic 只记录日志，不会向上传播。
func (c *ResourceCache[V]) finalize(r *ref[V]) {
	ctx := context.Background()
	err := c.runRelease(r.value)
	c.counter.IncRelease()
	c.tel.add(ctx, c.tel.releases, 1)
	if err != nil {
		c.counter.IncReleaseError()
		c.logWarn(ctx, "release failed", err, slog.String("key", r.key))
	}
}

func (c *ResourceCache[V]) finalizeAll(refs []*ref[V]) {
	for _, r := range refs {
		c.finalize(r)
	}
}

func (c *ResourceCache[V]) runRelease(v V) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("xcache: release panicked: %v", p)
		}
	}()
	return c.options.releaseValue(v)
}

// =============================================================================
// 管理操作
// =============================================================================

// Remove 删除 key。key 在后端中存在时返回 true。
// 被删除的值若仍有借出，释放推迟到最后一次 Release。
func (c *ResourceCache[V]) Remove(ctx context.Context, key string) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	e, ok, err := c.backend.Remove(ctx, key)
	if err != nil {
		c.logWarn(ctx, "backend remove failed", err, slog.String("key", key))
	}
	var released []*ref[V]
	if ok {
		released = c.dropDepartedLocked([]Entry[V]{e})
	}
	c.mu.Unlock()

	c.finalizeAll(released)
	return ok
}

// Clear 清空缓存，返回清空的条目数。
//
// 清空期间一直持有锁。返回前，缓存对所有条目的持有都已放弃，
// 没有借出的值的释放钩子都已运行。
// 远端后端的清空是近似的（见 [Distributed.Clear]），返回 0。
func (c *ResourceCache[V]) Clear(ctx context.Context) int {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	n, released := c.clearLocked(ctx)
	c.mu.Unlock()

	c.finalizeAll(released)
	return n
}

func (c *ResourceCache[V]) clearLocked(ctx context.Context) (int, []*ref[V]) {
	departed, err := c.backend.Clear(ctx)
	if err != nil {
		c.logWarn(ctx, "backend clear failed", err)
	}
	released := c.dropDepartedLocked(departed)

	// 后端报告不完整时，仍放弃剩余条目的持有。
	for key, r := range c.refs {
		delete(c.refs, key)
		if r.drop() {
			released = append(released, r)
		}
	}
	return len(departed), released
}

// Len 返回当前条目数。远端后端无法精确计数，返回 false。
func (c *ResourceCache[V]) Len() (int, bool) {
	return c.backend.Len()
}

// Capacity 返回后端容量，远端后端返回 0。
func (c *ResourceCache[V]) Capacity() int {
	return c.backend.Capacity()
}

// Stats 返回统计快照。
func (c *ResourceCache[V]) Stats() Stats {
	return c.counter.Snapshot()
}

// Close 清空缓存并关闭后端。重复调用返回 nil。
// 关闭后 Acquire 返回 ErrClosed；已借出的 Handle 仍可正常 Release。
func (c *ResourceCache[V]) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	_, released := c.clearLocked(ctx)
	c.mu.Unlock()

	c.finalizeAll(released)
	return c.backend.Close()
}

func (c *ResourceCache[V]) logWarn(ctx context.Context, msg string, err error, attrs ...any) {
	args := append([]any{slog.String("cache", c.name), slog.Any("error", err)}, attrs...)
	c.options.Logger.WarnContext(ctx, "xcache: "+msg, args...)
}

var _ releaser[int] = (*ResourceCache[int])(nil)
