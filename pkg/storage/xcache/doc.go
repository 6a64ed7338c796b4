// Package xcache 提供有界、并发安全的资源缓存，用于持有构造代价高昂的对象
// （打开大型多分辨率影像文件的 tile source 句柄、渲染好的瓦片字节、元数据记录）。
//
// # 核心组件
//
//   - [Backend]：最小化的 get/put/remove/clear 存储原语
//   - [LRU]：进程内严格 LRU 后端（基于 hashicorp/golang-lru/v2 simplelru）
//   - [Distributed]：远端共享 KV 服务适配器（[RedisStore]、[MemcachedStore]）
//   - [ResourceCache]：在 Backend 之上提供构造去重与确定性释放
//   - [Estimator]：按内存预算估算条目容量
//
// # 引用计数与释放
//
// ResourceCache 中每个值带有引用计数：缓存自身持有 1，每次 [ResourceCache.Acquire]
// 返回的 [Handle] 再持有 1。条目离开后端（淘汰、删除、清空）时缓存放弃自身的持有；
// 计数归零时释放钩子（默认 io.Closer.Close）恰好执行一次。
// 因此正在被使用的文件句柄不会因淘汰而被关闭，也不会被关闭两次。
// 释放时机不依赖 GC finalizer。
//
// # 构造去重
//
// 同一 key 的并发未命中只触发一次构造。构造在缓存锁之外执行，
// 只有请求同一 key 的调用方会等待；其他 key 不受慢构造影响。
// 构造失败不会被缓存，等待者收到同一错误，可自行重试。
//
// # 分布式后端的清空语义
//
// 远端服务没有"逻辑缓存"的概念。Distributed 为每个 key 加上 epoch 前缀，
// Clear 递增 epoch，使旧条目不可达并由远端自行淘汰。这是近似清空，不是同步删除。
//
// 详细使用示例参考 example_test.go。
package xcache
