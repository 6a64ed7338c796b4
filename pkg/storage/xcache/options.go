package xcache

import (
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// ResourceCache 配置选项
// =============================================================================

// ReleaseFunc 在值的引用计数归零时调用，负责释放值持有的资源。
type ReleaseFunc[V any] func(V) error

// SizeFunc 返回值的近似字节数，仅用于统计。
type SizeFunc[V any] func(V) int64

// Options 定义 ResourceCache 的配置选项。
type Options[V any] struct {
	// Release 释放钩子。为 nil 时，若值实现了 io.Closer 则调用其 Close。
	Release ReleaseFunc[V]

	// Sizer 计算值的近似字节数。为 nil 时大小记为 0。
	Sizer SizeFunc[V]

	// ConstructTimeout 单次构造的独立超时。
	// 构造使用脱离调用方取消链的 context，0 表示不设超时。默认为 0。
	ConstructTimeout time.Duration

	// Logger 用于记录释放失败、后端错误等非致命问题，默认使用 slog.Default()。
	Logger *slog.Logger

	// MeterProvider 默认为 otel.GetMeterProvider()。
	MeterProvider metric.MeterProvider

	// TracerProvider 默认为 otel.GetTracerProvider()。
	TracerProvider trace.TracerProvider
}

// Option 定义配置 ResourceCache 的函数类型。
type Option[V any] func(*Options[V])

func defaultOptions[V any]() *Options[V] {
	return &Options[V]{
		Logger:         slog.Default(),
		MeterProvider:  otel.GetMeterProvider(),
		TracerProvider: otel.GetTracerProvider(),
	}
}

// WithRelease 设置释放钩子。传入 nil 时忽略。
func WithRelease[V any](fn ReleaseFunc[V]) Option[V] {
	return func(o *Options[V]) {
		if fn != nil {
			o.Release = fn
		}
	}
}

// WithSizer 设置值大小计算函数。传入 nil 时忽略。
func WithSizer[V any](fn SizeFunc[V]) Option[V] {
	return func(o *Options[V]) {
		if fn != nil {
			o.Sizer = fn
		}
	}
}

// WithConstructTimeout 设置构造超时。d < 0 时忽略。
func WithConstructTimeout[V any](d time.Duration) Option[V] {
	return func(o *Options[V]) {
		if d >= 0 {
			o.ConstructTimeout = d
		}
	}
}

// WithLogger 设置 Logger。传入 nil 时忽略。
func WithLogger[V any](logger *slog.Logger) Option[V] {
	return func(o *Options[V]) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithMeterProvider 设置 MeterProvider。传入 nil 时忽略。
func WithMeterProvider[V any](mp metric.MeterProvider) Option[V] {
	return func(o *Options[V]) {
		if mp != nil {
			o.MeterProvider = mp
		}
	}
}

// WithTracerProvider 设置 TracerProvider。传入 nil 时忽略。
func WithTracerProvider[V any](tp trace.TracerProvider) Option[V] {
	return func(o *Options[V]) {
		if tp != nil {
			o.TracerProvider = tp
		}
	}
}

// releaseValue 执行释放钩子，未配置钩子时尝试 io.Closer。
func (o *Options[V]) releaseValue(v V) error {
	if o.Release != nil {
		return o.Release(v)
	}
	if c, ok := any(v).(io.Closer); ok && c != nil {
		return c.Close()
	}
	return nil
}

func (o *Options[V]) sizeOf(v V) int64 {
	if o.Sizer == nil {
		return 0
	}
	return o.Sizer(v)
}
