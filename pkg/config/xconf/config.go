package xconf

import "github.com/knadh/koanf/v2"

// Format 定义配置文件格式。
type Format string

// 支持的配置格式。
const (
	// FormatYAML YAML 格式。
	FormatYAML Format = "yaml"

	// FormatJSON JSON 格式。
	FormatJSON Format = "json"
)

// Config 定义配置接口。
type Config interface {
	// Client 返回底层的 koanf 实例。
	Client() *koanf.Koanf

	// Get 返回 key 对应的原始值，key 不存在时返回 false。
	// 值保持解析器给出的类型（string、int、float64、map 等），不做转换。
	Get(key string) (any, bool)

	// Set 在运行时覆盖 key 的值。
	Set(key string, value any) error

	// Section 返回 path 下配置的独立快照。path 不存在时返回空配置。
	Section(path string) Config

	// Unmarshal 将指定路径的配置反序列化到目标结构体。
	// path 为空字符串时反序列化整个配置。
	Unmarshal(path string, target any) error

	// Loaded 报告配置是否来自宿主（文件或字节数据），Empty 返回 false。
	Loaded() bool

	// Path 返回配置文件路径。从字节数据创建的 Config 返回空字符串。
	Path() string

	// Format 返回配置格式。Empty 返回空字符串。
	Format() Format
}
