package xsys

import "errors"

var (
	// ErrUnsupportedPlatform 表示当前平台不支持此操作。
	ErrUnsupportedPlatform = errors.New("xsys: unsupported platform")

	// ErrMemoryUnavailable 表示系统报告的内存总量为 0。
	ErrMemoryUnavailable = errors.New("xsys: total memory unavailable")
)
