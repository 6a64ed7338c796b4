// Package storageopt 提供 pkg/storage 下缓存子包共享的工具。
//
// 本包是 internal 包，仅供 xcache、xcachemgr 使用。
//
// 主要功能：
//   - 远端可达性探测的超时 context
//   - 缓存统计计数器（原子操作，无锁）
package storageopt
