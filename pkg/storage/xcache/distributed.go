package xcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/tilecache/internal/storageopt"
)

// =============================================================================
// Distributed 配置选项
// =============================================================================

// DistributedOptions 定义远端后端的配置选项。
type DistributedOptions struct {
	// KeyPrefix 所有远端 key 的前缀，用于与其他应用共享同一服务时隔离。
	// 默认为 "tilecache:"。
	KeyPrefix string

	// TTL 条目过期时间，0 表示由远端淘汰策略决定。默认为 0。
	TTL time.Duration

	// ProbeTimeout 单次可达性探测超时，默认为 storageopt.DefaultProbeTimeout。
	ProbeTimeout time.Duration

	// ProbeAttempts 可达性探测总次数，默认为 2。
	ProbeAttempts uint

	// ProbeDelay 探测重试间隔，默认为 100ms。
	ProbeDelay time.Duration

	// BreakerFailures 连续失败多少次后熔断，默认为 5。
	BreakerFailures uint32

	// BreakerTimeout 熔断打开后多久进入半开状态，默认为 30 秒。
	BreakerTimeout time.Duration

	// Logger 用于记录远端错误，默认使用 slog.Default()。
	Logger *slog.Logger
}

// DistributedOption 定义配置远端后端的函数类型。
type DistributedOption func(*DistributedOptions)

func defaultDistributedOptions() *DistributedOptions {
	return &DistributedOptions{
		KeyPrefix:       "tilecache:",
		ProbeTimeout:    storageopt.DefaultProbeTimeout,
		ProbeAttempts:   2,
		ProbeDelay:      100 * time.Millisecond,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
		Logger:          slog.Default(),
	}
}

// WithKeyPrefix 设置远端 key 前缀。
func WithKeyPrefix(prefix string) DistributedOption {
	return func(o *DistributedOptions) {
		o.KeyPrefix = prefix
	}
}

// WithTTL 设置条目过期时间。ttl < 0 时忽略。
func WithTTL(ttl time.Duration) DistributedOption {
	return func(o *DistributedOptions) {
		if ttl >= 0 {
			o.TTL = ttl
		}
	}
}

// WithProbe 设置可达性探测的单次超时和总次数。
// timeout <= 0 或 attempts == 0 时对应项保持默认。
func WithProbe(timeout time.Duration, attempts uint) DistributedOption {
	return func(o *DistributedOptions) {
		if timeout > 0 {
			o.ProbeTimeout = timeout
		}
		if attempts > 0 {
			o.ProbeAttempts = attempts
		}
	}
}

// WithBreaker 设置熔断阈值和恢复等待时间。
func WithBreaker(failures uint32, timeout time.Duration) DistributedOption {
	return func(o *DistributedOptions) {
		if failures > 0 {
			o.BreakerFailures = failures
		}
		if timeout > 0 {
			o.BreakerTimeout = timeout
		}
	}
}

// WithDistributedLogger 设置 Logger。传入 nil 时忽略。
func WithDistributedLogger(logger *slog.Logger) DistributedOption {
	return func(o *DistributedOptions) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// =============================================================================
// 可达性探测
// =============================================================================

// Probe 检查远端是否可达，按配置重试。
// 失败时返回包装了 ErrBackendUnavailable 的错误。
func Probe(ctx context.Context, store RemoteStore, opts ...DistributedOption) error {
	if store == nil {
		return ErrNilStore
	}
	o := defaultDistributedOptions()
	for _, opt := range opts {
		opt(o)
	}
	return probe(ctx, store, o)
}

func probe(ctx context.Context, store RemoteStore, o *DistributedOptions) error {
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(o.ProbeAttempts),
		retry.Delay(o.ProbeDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	).Do(func() error {
		pctx, cancel := storageopt.ProbeContext(ctx, o.ProbeTimeout)
		defer cancel()
		return store.Ping(pctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return nil
}

// =============================================================================
// Distributed 实现
// =============================================================================

// Distributed 是远端共享 KV 服务的后端适配器。
//
// 容量和淘汰策略由远端决定：Len 返回 false，Capacity 返回 0，Victim 返回 false。
// 值从不驻留在本进程，Put 总是把写入的值作为离开条目返回。
//
// 远端调用经过熔断器。熔断打开或远端出错时 Get 视为未命中、Put 跳过写入，
// 远端故障只会使缓存失效，而不会让构造方失败。
//
// RemoteStore 的生命周期由调用方管理，Close 不会关闭它。
type Distributed[V any] struct {
	name    string
	store   RemoteStore
	codec   Codec[V]
	options *DistributedOptions
	breaker *gobreaker.CircuitBreaker[[]byte]
	epoch   atomic.Uint64
}

// NewDistributed 创建名为 name 的远端后端。
// 构造时执行可达性探测，不可达时返回包装了 ErrBackendUnavailable 的错误，
// 调用方应回退到 [LRU]。
func NewDistributed[V any](ctx context.Context, name string, store RemoteStore, codec Codec[V], opts ...DistributedOption) (*Distributed[V], error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if codec == nil {
		return nil, ErrNilCodec
	}
	if name == "" {
		return nil, ErrEmptyKey
	}

	o := defaultDistributedOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := probe(ctx, store, o); err != nil {
		return nil, err
	}

	d := &Distributed[V]{
		name:    name,
		store:   store,
		codec:   codec,
		options: o,
	}
	d.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "xcache:" + name,
		Timeout: o.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrCacheMiss)
		},
		OnStateChange: func(breaker string, from, to gobreaker.State) {
			o.Logger.Warn("xcache: remote breaker state changed",
				slog.String("breaker", breaker),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	d.loadEpoch(ctx)
	return d, nil
}

// loadEpoch 读取远端保存的 epoch，使多个进程尽量共享同一代 key。
func (d *Distributed[V]) loadEpoch(ctx context.Context) {
	data, err := d.store.Get(ctx, d.epochKey())
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			d.logWarn(ctx, "load epoch failed", err)
		}
		return
	}
	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		d.logWarn(ctx, "parse epoch failed", err)
		return
	}
	d.epoch.Store(n)
}

func (d *Distributed[V]) epochKey() string {
	return d.options.KeyPrefix + d.name + ":epoch"
}

// dataKey 生成远端 key："{prefix}{name}:{epoch}:{hash}"。
func (d *Distributed[V]) dataKey(key string) string {
	return d.options.KeyPrefix + d.name + ":" + strconv.FormatUint(d.epoch.Load(), 10) + ":" + HashKey(key)
}

// Epoch 返回当前 epoch。
func (d *Distributed[V]) Epoch() uint64 {
	return d.epoch.Load()
}

// Get 从远端读取并解码。远端错误、熔断、解码失败都视为未命中。
func (d *Distributed[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	data, err := d.breaker.Execute(func() ([]byte, error) {
		return d.store.Get(ctx, d.dataKey(key))
	})
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) && !isBreakerRejection(err) {
			d.logWarn(ctx, "remote get failed", err)
		}
		return zero, false, nil
	}
	v, err := d.codec.Unmarshal(data)
	if err != nil {
		d.logWarn(ctx, "decode failed", err)
		return zero, false, nil
	}
	return v, true, nil
}

// Put 编码并写入远端。值不驻留在本进程，总是作为离开条目返回。
// 编码失败时返回错误；远端写入失败只记录日志。
func (d *Distributed[V]) Put(ctx context.Context, key string, value V, size int64) ([]Entry[V], error) {
	departed := []Entry[V]{{Key: key, Value: value, Size: size}}
	data, err := d.codec.Marshal(value)
	if err != nil {
		return departed, err
	}
	_, err = d.breaker.Execute(func() ([]byte, error) {
		return nil, d.store.Set(ctx, d.dataKey(key), data, d.options.TTL)
	})
	if err != nil && !isBreakerRejection(err) {
		d.logWarn(ctx, "remote set failed", err)
	}
	return departed, nil
}

// Victim 淘汰由远端决定，总是返回 false。
func (d *Distributed[V]) Victim() (string, bool) {
	return "", false
}

// Remove 删除当前 epoch 下的 key。值不在本地，返回的条目只有 Key。
func (d *Distributed[V]) Remove(ctx context.Context, key string) (Entry[V], bool, error) {
	_, err := d.breaker.Execute(func() ([]byte, error) {
		return nil, d.store.Delete(ctx, d.dataKey(key))
	})
	if err != nil {
		return Entry[V]{}, false, err
	}
	return Entry[V]{Key: key}, true, nil
}

// Clear 递增 epoch，使当前所有条目不可达。
// 这是近似清空：旧条目不会被同步删除，而是由远端自行淘汰。
// 远端计数器不可用时退化为本地递增，此时其他进程看不到本次清空。
func (d *Distributed[V]) Clear(ctx context.Context) ([]Entry[V], error) {
	n, err := d.store.Incr(ctx, d.epochKey())
	if err != nil {
		d.logWarn(ctx, "remote epoch incr failed, bumping locally", err)
		d.epoch.Add(1)
		return nil, nil
	}
	// 远端计数器可能落后于本地（例如被远端淘汰），保证 epoch 单调递增。
	for {
		cur := d.epoch.Load()
		next := max(n, cur+1)
		if d.epoch.CompareAndSwap(cur, next) {
			return nil, nil
		}
	}
}

// Len 远端没有逻辑缓存的精确计数，总是返回 false。
func (d *Distributed[V]) Len() (int, bool) {
	return 0, false
}

// Capacity 容量由远端管理，返回 0。
func (d *Distributed[V]) Capacity() int {
	return 0
}

// BreakerState 返回熔断器当前状态。
func (d *Distributed[V]) BreakerState() gobreaker.State {
	return d.breaker.State()
}

// Close 不关闭 RemoteStore，总是返回 nil。
func (d *Distributed[V]) Close() error {
	return nil
}

func (d *Distributed[V]) logWarn(ctx context.Context, msg string, err error) {
	d.options.Logger.WarnContext(ctx, "xcache: "+msg,
		slog.String("cache", d.name),
		slog.Any("error", err))
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

var _ Backend[[]byte] = (*Distributed[[]byte])(nil)
