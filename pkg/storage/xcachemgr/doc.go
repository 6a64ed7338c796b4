// Package xcachemgr 管理进程内的具名资源缓存。
//
// Manager 在组装阶段通过 [Register] 显式注册每个缓存（例如 "tilesource"、
// "tileCache"、"loadModelCache"），并提供统一的统计、清空和关闭入口。
//
// # 后端选择
//
// 后端家族（memcached、redis、python）在 [ParseSettings] 中从配置读取，
// 远端服务只在第一次需要时连接并探测一次：
//   - 缓存声明 Shared、提供 Codec 且没有显式容量时才使用远端后端
//   - 远端不可达时回退到进程内 LRU，并只记录一次日志
//   - 第一次按内存估算容量时记录一次实际使用的后端家族
//
// # 容量
//
// 容量优先级：配置 cache_sizes[name] > CacheSpec.Capacity > 按内存估算。
// 持有打开文件的缓存容量超过进程文件描述符软限制时记录警告。
//
// # 管理接口
//
// [Manager.Info] 返回每个缓存的容量和条目数（无法精确计数的远端缓存被省略），
// [Manager.ClearAll] 清空全部缓存并返回清空前后的快照，
// [AdminHandler] 将两者暴露为 HTTP 接口。
package xcachemgr
