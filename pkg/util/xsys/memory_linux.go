//go:build linux

package xsys

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// 系统调用函数变量，测试中替换以覆盖错误路径。
// 注意：替换包级变量的测试不可使用 t.Parallel()。
var sysinfo = unix.Sysinfo

func platformTotalMemory() (uint64, error) {
	var info unix.Sysinfo_t
	if err := sysinfo(&info); err != nil {
		return 0, fmt.Errorf("xsys: sysinfo: %w", err)
	}
	// 旧内核 mem_unit 为 0，此时单位为字节。
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return uint64(info.Totalram) * unit, nil //nolint:unconvert // 32 位平台 Totalram 为 uint32
}
