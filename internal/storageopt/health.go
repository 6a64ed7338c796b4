package storageopt

import (
	"context"
	"time"
)

// DefaultProbeTimeout 默认可达性探测超时时间。
// 用于 memcached/redis 后端启动时的连通性检查。
const DefaultProbeTimeout = 2 * time.Second

// ProbeContext 创建带探测超时的 context。
// 如果 timeout <= 0，使用 DefaultProbeTimeout。
//
// 使用示例：
//
//	ctx, cancel := storageopt.ProbeContext(ctx, timeout)
//	defer cancel()
func ProbeContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
