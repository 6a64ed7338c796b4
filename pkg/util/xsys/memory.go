package xsys

import "sync"

// totalMemoryOnce 缓存首次查询结果，内存总量在进程生命周期内视为常量。
var totalMemoryOnce = sync.OnceValues(func() (uint64, error) {
	return readTotalMemory()
})

// TotalMemory 返回物理内存总量（字节）。
// 结果在首次调用时读取并缓存，后续调用不再触发系统调用。
func TotalMemory() (uint64, error) {
	return totalMemoryOnce()
}

// readTotalMemory 读取并校验平台内存总量，不做缓存。
func readTotalMemory() (uint64, error) {
	total, err := platformTotalMemory()
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, ErrMemoryUnavailable
	}
	return total, nil
}
