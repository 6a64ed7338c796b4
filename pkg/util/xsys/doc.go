// Package xsys 提供缓存容量规划所需的系统资源查询。
//
// # 功能概览
//
//   - [TotalMemory]: 查询物理内存总量（进程内只读取一次）
//   - [FileLimit]: 查询进程最大打开文件数 soft limit（Unix 平台生效）
//
// # 平台支持
//
// TotalMemory 在 Linux 上通过 sysinfo(2) 实现，在 macOS 上通过 hw.memsize sysctl 实现，
// 其他平台返回 [ErrUnsupportedPlatform]。FileLimit 在所有 Unix 平台上通过
// RLIMIT_NOFILE 实现，非 Unix 平台返回 [ErrUnsupportedPlatform]。
//
// 调用方（如 xcache 的容量估算）应在出错时回退到固定的名义值，而不是让错误向上传播。
package xsys
