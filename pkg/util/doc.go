// Package util 提供通用工具相关的子包。
//
// 子包列表：
//   - xsys: 系统资源查询，物理内存总量和文件描述符上限
package util
