package xcachemgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/tilecache/pkg/storage/xcache"
	"github.com/omeyang/tilecache/pkg/util/xsys"
)

const (
	instrumentationName = "github.com/omeyang/tilecache/xcachemgr"

	metricUsed     = "tilecache.cache.used"
	metricCapacity = "tilecache.cache.capacity"

	// keyPrefix 远端 key 前缀。
	keyPrefix = "tilecache:"
)

// =============================================================================
// 配置选项
// =============================================================================

type managerOptions struct {
	logger         *slog.Logger
	estimator      xcache.Estimator
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	store          xcache.RemoteStore
	fileLimit      func() (uint64, error)
}

// Option 定义配置 Manager 的函数类型。
type Option func(*managerOptions)

// WithLogger 设置 Logger。传入 nil 时忽略。
func WithLogger(logger *slog.Logger) Option {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEstimator 设置容量估算器，默认使用系统内存。
func WithEstimator(e xcache.Estimator) Option {
	return func(o *managerOptions) {
		o.estimator = e
	}
}

// WithMeterProvider 设置 MeterProvider。传入 nil 时忽略。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *managerOptions) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// WithTracerProvider 设置 TracerProvider。传入 nil 时忽略。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *managerOptions) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithRemoteStore 使用已有的远端存储，而不是按配置连接。
// 存储的生命周期由调用方管理，Manager.Close 不会关闭它。
func WithRemoteStore(store xcache.RemoteStore) Option {
	return func(o *managerOptions) {
		if store != nil {
			o.store = store
		}
	}
}

// =============================================================================
// Manager
// =============================================================================

// entry 是一个已注册的缓存。
type entry struct {
	// cache 为 *xcache.ResourceCache[V]，用于 GetOrRegister 的类型断言。
	cache any
	admin adminView
}

// adminView 是 Manager 管理操作需要的 ResourceCache 方法子集。
type adminView interface {
	Len() (int, bool)
	Capacity() int
	Clear(ctx context.Context) int
	Close(ctx context.Context) error
}

// CacheInfo 是单个缓存的容量和当前条目数。
type CacheInfo struct {
	Capacity int `json:"capacity"`
	Used     int `json:"used"`
}

// Report 是清空前后的快照。
type Report struct {
	Before map[string]CacheInfo `json:"before"`
	After  map[string]CacheInfo `json:"after"`
}

// Manager 是具名缓存的注册表。所有方法并发安全。
type Manager struct {
	settings Settings
	opts     *managerOptions

	mu      sync.Mutex
	caches  map[string]*entry
	order   []string
	closed  bool
	gauge   metric.Registration
	remote  remoteState
	noticed bool // 已记录实际使用的后端家族
}

// remoteState 记录远端存储的连接结果，只解析一次。
type remoteState struct {
	resolved bool
	store    xcache.RemoteStore
	owned    bool
}

// New 创建 Manager。远端服务在第一次注册共享缓存时才连接。
func New(settings Settings, opts ...Option) (*Manager, error) {
	o := &managerOptions{
		logger:         slog.Default(),
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
		fileLimit:      xsys.FileLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.estimator.Memory == 0 {
		o.estimator = xcache.SystemEstimator()
	}
	if settings.Portion <= 0 {
		settings.Portion = xcache.DefaultPortion
	}
	if settings.Backend == "" {
		settings.Backend = FamilyPython
	}

	m := &Manager{
		settings: settings,
		opts:     o,
		caches:   make(map[string]*entry),
	}
	if err := m.registerGauges(); err != nil {
		return nil, err
	}
	return m, nil
}

// Settings 返回 Manager 使用的配置。
func (m *Manager) Settings() Settings {
	return m.settings
}

// =============================================================================
// 注册
// =============================================================================

// CacheSpec 描述一个具名缓存。
type CacheSpec[V any] struct {
	// Shared 值可跨进程共享，允许使用远端后端。需要同时提供 Codec。
	Shared bool

	// Codec 远端后端的编解码器。
	Codec xcache.Codec[V]

	// Capacity 显式容量。大于 0 时总是使用该容量的进程内后端。
	Capacity int

	// SizeEach 按内存估算容量时单个条目的预估字节数，默认 xcache.DefaultTileSize。
	SizeEach int64

	// MaxItems 估算容量的上限，0 表示不限制。
	MaxItems int

	// Release 释放钩子，为 nil 时使用 io.Closer。
	Release xcache.ReleaseFunc[V]

	// Sizer 值大小计算函数，仅用于统计。
	Sizer xcache.SizeFunc[V]

	// HoldsFiles 值持有打开的文件，容量超过文件描述符软限制时记录警告。
	HoldsFiles bool
}

// Register 注册名为 name 的缓存。同名缓存已存在时返回 ErrAlreadyRegistered。
//
// 远端后端不可达时回退到进程内 LRU，不返回错误。
func Register[V any](ctx context.Context, m *Manager, name string, spec CacheSpec[V]) (*xcache.ResourceCache[V], error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if _, ok := m.caches[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	return registerLocked(ctx, m, name, spec)
}

// GetOrRegister 返回已注册的同名缓存，不存在时注册。
// 已注册的缓存值类型不同时返回 ErrTypeMismatch。
func GetOrRegister[V any](ctx context.Context, m *Manager, name string, spec CacheSpec[V]) (*xcache.ResourceCache[V], error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if e, ok := m.caches[name]; ok {
		c, ok := e.cache.(*xcache.ResourceCache[V])
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTypeMismatch, name)
		}
		return c, nil
	}
	return registerLocked(ctx, m, name, spec)
}

// Lookup 返回已注册的缓存。不存在或值类型不同时返回 false。
func Lookup[V any](m *Manager, name string) (*xcache.ResourceCache[V], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.caches[name]
	if !ok {
		return nil, false
	}
	c, ok := e.cache.(*xcache.ResourceCache[V])
	return c, ok
}

func registerLocked[V any](ctx context.Context, m *Manager, name string, spec CacheSpec[V]) (*xcache.ResourceCache[V], error) {
	backend, family, err := newBackendLocked(ctx, m, name, spec)
	if err != nil {
		return nil, err
	}

	opts := []xcache.Option[V]{
		xcache.WithLogger[V](m.opts.logger),
		xcache.WithMeterProvider[V](m.opts.meterProvider),
		xcache.WithTracerProvider[V](m.opts.tracerProvider),
		xcache.WithRelease(spec.Release),
		xcache.WithSizer(spec.Sizer),
	}
	c, err := xcache.NewResourceCache(name, backend, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	m.caches[name] = &entry{cache: c, admin: c}
	m.order = append(m.order, name)
	m.opts.logger.Debug("xcachemgr: cache registered",
		slog.String("cache", name),
		slog.String("backend", string(family)),
		slog.Int("capacity", backend.Capacity()))
	return c, nil
}

// newBackendLocked 按配置为缓存选择后端，返回实际使用的家族。调用方必须持有 mu。
func newBackendLocked[V any](ctx context.Context, m *Manager, name string, spec CacheSpec[V]) (xcache.Backend[V], Family, error) {
	capacity, explicit := m.capacityFor(name, spec.Capacity, spec.SizeEach, spec.MaxItems)

	if !explicit && spec.Shared && spec.Codec != nil && m.settings.Backend.Remote() {
		if store := m.remoteStoreLocked(ctx); store != nil {
			d, err := xcache.NewDistributed(ctx, name, store, spec.Codec,
				xcache.WithKeyPrefix(keyPrefix),
				xcache.WithProbe(m.settings.ProbeTimeout, 1),
				xcache.WithDistributedLogger(m.opts.logger))
			if err == nil {
				m.noticeLocked(m.settings.Backend, explicit)
				return d, m.settings.Backend, nil
			}
			m.opts.logger.Warn("xcachemgr: remote backend unavailable, using in-process cache",
				slog.String("cache", name),
				slog.Any("error", err))
		}
	}

	if spec.HoldsFiles {
		m.checkFileLimit(name, capacity)
	}
	lru, err := xcache.NewLRU[V](capacity)
	if err != nil {
		return nil, "", err
	}
	m.noticeLocked(FamilyPython, explicit)
	return lru, FamilyPython, nil
}

// capacityFor 按优先级决定容量：配置覆盖 > 显式容量 > 估算。
// 第二个返回值报告容量是否为显式指定。
func (m *Manager) capacityFor(name string, capacity int, sizeEach int64, maxItems int) (int, bool) {
	if n, ok := m.settings.Capacities[name]; ok && n > 0 {
		return min(n, xcache.MaxCapacity), true
	}
	if capacity > 0 {
		return min(capacity, xcache.MaxCapacity), true
	}
	if sizeEach <= 0 {
		sizeEach = xcache.DefaultTileSize
	}
	n := m.opts.estimator.Capacity(sizeEach, m.settings.Portion, maxItems)
	return min(n, xcache.MaxCapacity), false
}

// remoteStoreLocked 连接并探测远端存储，只执行一次。失败时返回 nil。
// 调用方必须持有 mu。
func (m *Manager) remoteStoreLocked(ctx context.Context) xcache.RemoteStore {
	if m.remote.resolved {
		return m.remote.store
	}
	m.remote.resolved = true

	store, owned, err := m.dialLocked()
	if err == nil {
		err = xcache.Probe(ctx, store, xcache.WithProbe(m.settings.ProbeTimeout, 0))
		if err != nil && owned {
			_ = store.Close()
		}
	}
	if err != nil {
		m.opts.logger.Info(fmt.Sprintf("Cannot use %s for caching.", m.settings.Backend),
			slog.Any("error", err))
		return nil
	}
	m.remote.store = store
	m.remote.owned = owned
	return store
}

func (m *Manager) dialLocked() (xcache.RemoteStore, bool, error) {
	if m.opts.store != nil {
		return m.opts.store, false, nil
	}
	switch m.settings.Backend {
	case FamilyRedis:
		store, err := xcache.DialRedis(m.settings.Redis)
		if err != nil {
			return nil, false, err
		}
		return store, true, nil
	case FamilyMemcached:
		store := xcache.DialMemcached(m.settings.Memcached)
		if store.CredentialsIgnored() {
			m.opts.logger.Warn("xcachemgr: memcached username/password are not supported and were ignored")
		}
		return store, true, nil
	default:
		return nil, false, fmt.Errorf("xcachemgr: %s is not a remote backend", m.settings.Backend)
	}
}

// noticeLocked 在第一次按内存估算容量时记录实际使用的后端家族。
func (m *Manager) noticeLocked(family Family, explicit bool) {
	if explicit || m.noticed {
		return
	}
	m.noticed = true
	m.opts.logger.Info(fmt.Sprintf("using %s for caching", family))
}

// checkFileLimit 容量超过文件描述符软限制时记录警告。
func (m *Manager) checkFileLimit(name string, capacity int) {
	limit, err := m.opts.fileLimit()
	if err != nil || limit == 0 {
		return
	}
	if uint64(capacity) > limit { //nolint:gosec // capacity 总是正数
		m.opts.logger.Warn("xcachemgr: cache capacity exceeds open file limit",
			slog.String("cache", name),
			slog.Int("capacity", capacity),
			slog.Uint64("limit", limit))
	}
}

// =============================================================================
// 管理操作
// =============================================================================

// Names 按注册顺序返回所有缓存名称。
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Info 返回每个缓存的容量和条目数。无法精确计数的缓存被省略。
func (m *Manager) Info() map[string]CacheInfo {
	return infoOf(m.snapshot(nil))
}

// namedView 是 snapshot 返回的缓存及其名称。
type namedView struct {
	name  string
	admin adminView
}

// snapshot 返回 names 对应的缓存，names 为 nil 时按注册顺序返回全部缓存。
// 调用方在锁外操作返回的缓存，释放钩子不会在 mu 下运行。
func (m *Manager) snapshot(names []string) []namedView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(names)
}

func (m *Manager) snapshotLocked(names []string) []namedView {
	if names == nil {
		names = m.order
	}
	views := make([]namedView, 0, len(names))
	for _, name := range names {
		if e, ok := m.caches[name]; ok {
			views = append(views, namedView{name: name, admin: e.admin})
		}
	}
	return views
}

func infoOf(views []namedView) map[string]CacheInfo {
	info := make(map[string]CacheInfo, len(views))
	for _, v := range views {
		used, exact := v.admin.Len()
		if !exact {
			continue
		}
		info[v.name] = CacheInfo{Capacity: v.admin.Capacity(), Used: used}
	}
	return info
}

// ClearAll 清空所有缓存，返回清空前后的快照。
// 清空过程中不持有 Manager 的锁，释放钩子可以回调 Manager。
func (m *Manager) ClearAll(ctx context.Context) Report {
	return clearViews(ctx, m.snapshot(nil))
}

// ClearNamed 清空名为 name 的缓存。未注册时返回 ErrUnknownCache。
func (m *Manager) ClearNamed(ctx context.Context, name string) (Report, error) {
	views := m.snapshot([]string{name})
	if len(views) == 0 {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownCache, name)
	}
	return clearViews(ctx, views), nil
}

func clearViews(ctx context.Context, views []namedView) Report {
	if ctx == nil {
		ctx = context.Background()
	}
	before := infoOf(views)
	for _, v := range views {
		v.admin.Clear(ctx)
	}
	return Report{Before: before, After: infoOf(views)}
}

// Close 清空并关闭所有缓存，关闭自身创建的远端连接。重复调用返回 nil。
func (m *Manager) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	views := m.snapshotLocked(nil)
	var store xcache.RemoteStore
	if m.remote.owned {
		store = m.remote.store
	}
	gauge := m.gauge
	m.mu.Unlock()

	// 释放钩子和指标回调都可能获取 mu，以下操作均在锁外进行。
	var errs []error
	for _, v := range views {
		if err := v.admin.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("xcachemgr: close %s: %w", v.name, err))
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("xcachemgr: close remote store: %w", err))
		}
	}
	if gauge != nil {
		if err := gauge.Unregister(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// 指标
// =============================================================================

func (m *Manager) registerGauges() error {
	meter := m.opts.meterProvider.Meter(instrumentationName)

	used, err := meter.Int64ObservableGauge(metricUsed,
		metric.WithDescription("entries currently held by the cache"),
		metric.WithUnit("1"))
	if err != nil {
		return fmt.Errorf("xcachemgr: create gauge failed: %w", err)
	}
	capacity, err := meter.Int64ObservableGauge(metricCapacity,
		metric.WithDescription("maximum entries the cache holds"),
		metric.WithUnit("1"))
	if err != nil {
		return fmt.Errorf("xcachemgr: create gauge failed: %w", err)
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for name, info := range m.Info() {
			attrs := metric.WithAttributes(attribute.String("cache", name))
			o.ObserveInt64(used, int64(info.Used), attrs)
			o.ObserveInt64(capacity, int64(info.Capacity), attrs)
		}
		return nil
	}, used, capacity)
	if err != nil {
		return fmt.Errorf("xcachemgr: register gauge callback failed: %w", err)
	}
	m.gauge = reg
	return nil
}
