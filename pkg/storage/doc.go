// Package storage 提供资源缓存相关的子包。
//
// 子包列表：
//   - xcache: 有界资源缓存，进程内 LRU 和 redis/memcached 分布式后端，按 key 去重构造
//   - xcachemgr: 具名缓存注册表，按配置选择后端、估算容量，提供管理接口
package storage
