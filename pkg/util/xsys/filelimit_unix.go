//go:build unix

package xsys

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// getrlimit 函数变量，测试中替换以覆盖错误路径。
var getrlimit = unix.Getrlimit

// FileLimit 查询当前进程的最大打开文件数 soft limit（RLIMIT_NOFILE）。
// 缓存中每个 tile source 通常持有一个打开的文件，调用方据此判断容量是否合理。
func FileLimit() (uint64, error) {
	var rlimit unix.Rlimit
	if err := getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return 0, fmt.Errorf("xsys: getrlimit RLIMIT_NOFILE: %w", err)
	}
	return rlimit.Cur, nil
}
