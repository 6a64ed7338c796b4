// Package xrun 管理长期运行进程的生命周期。
//
// Run 基于 [errgroup] 并发运行一组服务：任一服务返回错误、父 context 取消
// 或收到终止信号时，所有服务的 ctx 被取消。信号退出时 Run 返回 *SignalError，
// 可用 errors.Is(err, ErrSignal) 判断。
//
//	server := &http.Server{Addr: ":8080", Handler: xcachemgr.AdminHandler(m)}
//	err := xrun.Run(ctx, nil,
//	    xrun.HTTPServer(server, 10*time.Second),
//	    xrun.Ticker(time.Minute, reportStats),
//	)
//
// [errgroup]: https://pkg.go.dev/golang.org/x/sync/errgroup
package xrun
