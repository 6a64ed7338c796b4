package xrun

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Server 是 HTTPServer 需要的服务器方法，*http.Server 满足该接口。
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServer 将 server 包装为 Service：ctx 取消后调用 Shutdown，
// 最多等待 shutdownTimeout（<= 0 表示不限时）。
func HTTPServer(server Server, shutdownTimeout time.Duration) Service {
	return func(ctx context.Context) error {
		if server == nil {
			return ErrNilServer
		}

		served := make(chan struct{})
		shutdown := make(chan error, 1)
		go func() {
			select {
			case <-ctx.Done():
			case <-served:
				shutdown <- nil
				return
			}
			sctx := context.WithoutCancel(ctx)
			if shutdownTimeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(sctx, shutdownTimeout)
				defer cancel()
			}
			shutdown <- server.Shutdown(sctx)
		}()

		err := server.ListenAndServe()
		close(served)
		shutdownErr := <-shutdown
		if errors.Is(err, http.ErrServerClosed) {
			return shutdownErr
		}
		return err
	}
}

// Ticker 返回每隔 interval 调用一次 fn 的 Service。
// fn 返回错误时服务退出并返回该错误。
func Ticker(interval time.Duration, fn func(ctx context.Context) error) Service {
	return func(ctx context.Context) error {
		if interval <= 0 {
			return ErrInvalidInterval
		}
		if fn == nil {
			return ErrNilService
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				if err := fn(ctx); err != nil {
					return err
				}
			}
		}
	}
}
