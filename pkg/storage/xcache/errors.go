package xcache

import "errors"

// =============================================================================
// 通用错误
// =============================================================================

var (
	// ErrEmptyKey 表示传入的 key 为空字符串。
	ErrEmptyKey = errors.New("xcache: empty key")

	// ErrClosed 表示缓存已关闭。
	ErrClosed = errors.New("xcache: closed")

	// ErrNilBackend 表示传入的后端为 nil。
	ErrNilBackend = errors.New("xcache: nil backend")
)

// =============================================================================
// 后端相关错误
// =============================================================================

var (
	// ErrInvalidCapacity 表示容量配置无效。
	ErrInvalidCapacity = errors.New("xcache: capacity must be greater than 0")

	// ErrCapacityExceedsMax 表示容量超过上限。
	ErrCapacityExceedsMax = errors.New("xcache: capacity must not exceed 16777216")

	// ErrNilStore 表示远端存储为 nil。
	ErrNilStore = errors.New("xcache: nil remote store")

	// ErrNilCodec 表示编解码器为 nil。
	ErrNilCodec = errors.New("xcache: nil codec")

	// ErrBackendUnavailable 表示远端后端在构造时不可达。
	// 调用方应回退到进程内后端。
	ErrBackendUnavailable = errors.New("xcache: backend unavailable")

	// ErrCacheMiss 表示远端存储中不存在该 key。
	// RemoteStore 实现在未命中时必须返回此错误。
	ErrCacheMiss = errors.New("xcache: cache miss")
)

// =============================================================================
// ResourceCache 相关错误
// =============================================================================

var (
	// ErrNilConstructor 表示构造函数为 nil。
	ErrNilConstructor = errors.New("xcache: nil construct function")

	// ErrConstructPanic 表示构造函数发生了 panic。
	// panic 被转为错误返回给本次构造的所有等待者。
	ErrConstructPanic = errors.New("xcache: construct function panicked")

	// ErrHandleReleased 表示 Handle 已经释放过。
	ErrHandleReleased = errors.New("xcache: handle already released")
)
