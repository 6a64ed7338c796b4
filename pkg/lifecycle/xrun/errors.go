package xrun

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrSignal 表示因收到系统信号而退出。
	ErrSignal = errors.New("xrun: received signal")

	// ErrNilService 表示传入了 nil 服务函数。
	ErrNilService = errors.New("xrun: nil service")

	// ErrNilServer 表示 HTTPServer 收到 nil 服务器。
	ErrNilServer = errors.New("xrun: nil server")

	// ErrInvalidInterval 表示 Ticker 的间隔不是正数。
	ErrInvalidInterval = errors.New("xrun: interval must be positive")
)

// SignalError 记录触发退出的信号。errors.Is(err, ErrSignal) 成立。
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("xrun: received signal %v", e.Signal)
}

// Unwrap 返回 ErrSignal。
func (e *SignalError) Unwrap() error {
	return ErrSignal
}
