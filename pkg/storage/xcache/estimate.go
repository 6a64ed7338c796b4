package xcache

import (
	"math"

	"github.com/omeyang/tilecache/pkg/util/xsys"
)

// 容量估算常量。
const (
	// DefaultTileSize 默认单个条目的预估字节数：256×256 RGBA 瓦片的两倍。
	DefaultTileSize int64 = 256 * 256 * 4 * 2

	// DefaultPortion 默认内存反比例（独立运行时使用 1/32 的内存）。
	DefaultPortion = 32

	// HostedPortion 宿主服务提供配置时的默认内存反比例（1/8）。
	HostedPortion = 8

	// MinPortion 内存反比例下限，防止配置把大部分内存交给缓存。
	MinPortion = 3

	// DefaultMemory 无法读取系统内存时假定的名义内存（1 GiB）。
	DefaultMemory uint64 = 1 << 30

	// minItems 估算结果的下限（maxItems 更小时除外）。
	minItems = 2
)

// Estimator 按内存预算估算缓存容量。零值使用 DefaultMemory。
type Estimator struct {
	// Memory 可寻址内存总量（字节）。
	Memory uint64
}

// SystemEstimator 返回基于系统内存的 Estimator。
// 系统内存不可读时回退到 DefaultMemory，从不失败。
func SystemEstimator() Estimator {
	total, err := xsys.TotalMemory()
	if err != nil {
		return Estimator{Memory: DefaultMemory}
	}
	return Estimator{Memory: total}
}

// Capacity 计算 max(2, floor(memory / portion / sizeEach))，
// 当 maxItems > 0 时再与 maxItems 取较小值。
//
// 函数是全定义的，不会 panic：sizeEach <= 0 视为 1，portion <= 0 使用 DefaultPortion。
func (e Estimator) Capacity(sizeEach int64, portion, maxItems int) int {
	memory := e.Memory
	if memory == 0 {
		memory = DefaultMemory
	}
	if sizeEach <= 0 {
		sizeEach = 1
	}
	if portion <= 0 {
		portion = DefaultPortion
	}

	// 正整数上的连续整除等价于 floor(memory / portion / sizeEach)。
	n := memory / uint64(portion) / uint64(sizeEach)
	items := minItems
	if n > minItems {
		items = int(min(n, uint64(math.MaxInt)))
	}
	if maxItems > 0 && items > maxItems {
		items = maxItems
	}
	return items
}

// EstimateCapacity 使用系统内存估算容量，参见 [Estimator.Capacity]。
func EstimateCapacity(sizeEach int64, portion, maxItems int) int {
	return SystemEstimator().Capacity(sizeEach, portion, maxItems)
}
