package xrun

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Service 是一个阻塞运行直到 ctx 取消的服务。
type Service func(ctx context.Context) error

// =============================================================================
// 配置选项
// =============================================================================

type runOptions struct {
	logger  *slog.Logger
	name    string
	signals []os.Signal
}

// Option 配置 Run。
type Option func(*runOptions)

// WithLogger 设置记录生命周期事件的 Logger。传入 nil 时忽略。
func WithLogger(logger *slog.Logger) Option {
	return func(o *runOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithName 设置日志中的进程名称，默认 "xrun"。
func WithName(name string) Option {
	return func(o *runOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithSignals 设置监听的信号，默认 SIGINT 和 SIGTERM。
// 传入空切片时不监听任何信号。
func WithSignals(signals ...os.Signal) Option {
	copied := append([]os.Signal{}, signals...)
	return func(o *runOptions) {
		o.signals = copied
	}
}

// =============================================================================
// Run
// =============================================================================

// Run 并发运行 services，直到全部返回。
//
// 任一服务返回非 nil 错误时取消其余服务，并返回该错误。
// 收到信号时返回 *SignalError。父 context 结束导致的退出返回 nil。
func Run(ctx context.Context, opts []Option, services ...Service) error {
	if ctx == nil {
		ctx = context.Background()
	}
	o := &runOptions{
		logger:  slog.Default(),
		name:    "xrun",
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	causeCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	g, gctx := errgroup.WithContext(causeCtx)

	watching := len(o.signals) > 0 || testSignals(ctx) != nil
	watched := make(chan struct{})
	if watching {
		go func() {
			defer close(watched)
			watchSignals(gctx, o, cancel)
		}()
	}

	for _, svc := range services {
		g.Go(func() error {
			if svc == nil {
				return ErrNilService
			}
			return svc(gctx)
		})
	}

	o.logger.Debug("xrun: services started", slog.String("name", o.name), slog.Int("count", len(services)))
	err := g.Wait()
	if watching {
		// errgroup 在 Wait 返回前取消 gctx，监听协程随之退出。
		<-watched
	}
	o.logger.Debug("xrun: services stopped", slog.String("name", o.name))

	var sigErr *SignalError
	if cause := context.Cause(causeCtx); errors.As(cause, &sigErr) {
		return cause
	}
	// 父 context 结束时，服务返回的 context 错误视为正常退出。
	if causeCtx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	return err
}

// watchSignals 收到信号时以 *SignalError 取消运行。
func watchSignals(ctx context.Context, o *runOptions, cancel context.CancelCauseFunc) {
	ch := make(chan os.Signal, 1)
	if len(o.signals) > 0 {
		signal.Notify(ch, o.signals...)
		defer signal.Stop(ch)
	}

	var sig os.Signal
	select {
	case sig = <-ch:
	case sig = <-testSignals(ctx):
	case <-ctx.Done():
		return
	}
	o.logger.Info("xrun: received signal, shutting down",
		slog.String("name", o.name),
		slog.String("signal", sig.String()))
	cancel(&SignalError{Signal: sig})
}

// testSignalsKey 在测试中通过 context 注入信号，避免向进程发送真实信号。
type testSignalsKey struct{}

func testSignals(ctx context.Context) <-chan os.Signal {
	c, _ := ctx.Value(testSignalsKey{}).(<-chan os.Signal)
	return c
}

func withTestSignals(ctx context.Context, c <-chan os.Signal) context.Context {
	return context.WithValue(ctx, testSignalsKey{}, c)
}
