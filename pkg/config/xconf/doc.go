// Package xconf 提供配置加载和解析功能，基于 koanf 实现。
//
// xconf 定位为最小化配置加载器：负责文件/字节数据的加载、按节读取、
// 运行时覆盖和反序列化。配置在启动时读取一次，不做热重载；
// 缺失或格式错误的值由调用方回退到默认值。
//
// # 支持的格式
//
//   - YAML（默认，推荐）：.yaml, .yml
//   - JSON：.json
//
// # 节与覆盖
//
// Section 返回某个顶层节（例如 "large_image"）的独立快照，
// 对快照的 Set 不影响原配置。宿主服务未提供配置时使用 Empty，
// 调用方可据此区分"独立运行"与"宿主提供了配置但缺少某个键"。
//
// # 并发安全
//
// 所有方法都是并发安全的。Client() 返回的 koanf 实例在 Set 之后仍然有效，
// 但不受本包的锁保护，推荐每次需要时调用 Client()。
package xconf
