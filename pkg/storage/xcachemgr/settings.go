package xcachemgr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/omeyang/tilecache/internal/storageopt"
	"github.com/omeyang/tilecache/pkg/config/xconf"
	"github.com/omeyang/tilecache/pkg/storage/xcache"
)

// DefaultSection 缓存配置所在的配置节。
const DefaultSection = "large_image"

// rawSettings 是配置节的原始值。字段均为 any，反序列化不会因类型错误失败，
// 缺失或为 null 的键保持 nil，由 ParseSettings 宽松转换。
type rawSettings struct {
	Backend           any `koanf:"cache_backend"`
	Portion           any `koanf:"cache_python_memory_portion"`
	MemcachedURL      any `koanf:"cache_memcached_url"`
	MemcachedUsername any `koanf:"cache_memcached_username"`
	MemcachedPassword any `koanf:"cache_memcached_password"`
	RedisURL          any `koanf:"cache_redis_url"`
	RedisUsername     any `koanf:"cache_redis_username"`
	RedisPassword     any `koanf:"cache_redis_password"`
	Sizes             any `koanf:"cache_sizes"`
	ProbeTimeout      any `koanf:"cache_probe_timeout"`
}

const (
	defaultMemcachedURL = "127.0.0.1"
	defaultRedisURL     = "127.0.0.1:6379"
)

// Family 是后端家族。
type Family string

// 支持的后端家族。
const (
	// FamilyPython 进程内 LRU（沿用宿主配置中的名称 "python"）。
	FamilyPython Family = "python"

	// FamilyMemcached 远端 memcached。
	FamilyMemcached Family = "memcached"

	// FamilyRedis 远端 redis。
	FamilyRedis Family = "redis"
)

// Remote 报告该家族是否使用远端服务。
func (f Family) Remote() bool {
	return f == FamilyMemcached || f == FamilyRedis
}

// ParseFamily 解析后端名称，大小写不敏感。
// "memory" 等价于 "python"；未知值回退到 "python"。
func ParseFamily(s string) Family {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(FamilyMemcached):
		return FamilyMemcached
	case string(FamilyRedis):
		return FamilyRedis
	default:
		return FamilyPython
	}
}

// Settings 是解析后的缓存配置。
type Settings struct {
	// Backend 后端家族。
	Backend Family

	// Portion 内存反比例，进程内缓存最多使用 1/Portion 的内存。
	Portion int

	// Memcached memcached 连接参数。
	Memcached xcache.MemcachedConfig

	// Redis redis 连接参数。
	Redis xcache.RedisConfig

	// Capacities 按缓存名称覆盖容量。
	Capacities map[string]int

	// ProbeTimeout 远端可达性探测超时。
	ProbeTimeout time.Duration

	// Hosted 配置是否由宿主服务提供，影响默认后端和默认比例。
	Hosted bool
}

// DefaultSettings 返回独立运行（无宿主配置）时的默认配置。
func DefaultSettings() Settings {
	return Settings{
		Backend: FamilyPython,
		Portion: xcache.DefaultPortion,
		Memcached: xcache.MemcachedConfig{
			URL:     defaultMemcachedURL,
			Timeout: storageopt.DefaultProbeTimeout,
		},
		Redis: xcache.RedisConfig{
			URL:         defaultRedisURL,
			DialTimeout: storageopt.DefaultProbeTimeout,
		},
		ProbeTimeout: storageopt.DefaultProbeTimeout,
	}
}

// ParseSettings 从配置的 section 节解析缓存配置，section 为空时使用 DefaultSection。
//
// 解析从不失败：缺失或格式错误的值回退到默认值。
// 宿主提供了配置（cfg.Loaded）时，缺省后端为 memcached、缺省比例为 8；
// 否则缺省后端为 python、缺省比例为 32。
func ParseSettings(cfg xconf.Config, section string) Settings {
	s := DefaultSettings()
	if cfg == nil {
		return s
	}
	if section == "" {
		section = DefaultSection
	}
	var raw rawSettings
	if err := cfg.Unmarshal(section, &raw); err != nil {
		// 节本身不是映射（如标量），按未配置处理。
		raw = rawSettings{}
	}
	s.Hosted = cfg.Loaded()

	defaultPortion := xcache.DefaultPortion
	if s.Hosted {
		s.Backend = FamilyMemcached
		defaultPortion = xcache.HostedPortion
	}
	if raw.Backend != nil {
		// 显式配置为空值时与原行为一致，回退到进程内缓存。
		s.Backend = ParseFamily(toString(raw.Backend))
	}

	s.Portion = defaultPortion
	if n, ok := toInt(raw.Portion); ok {
		s.Portion = max(n, xcache.MinPortion)
	}

	s.Memcached = xcache.MemcachedConfig{
		URL:      stringOr(raw.MemcachedURL, defaultMemcachedURL),
		Username: stringOr(raw.MemcachedUsername, ""),
		Password: stringOr(raw.MemcachedPassword, ""),
	}
	s.Redis = xcache.RedisConfig{
		URL:      stringOr(raw.RedisURL, defaultRedisURL),
		Username: stringOr(raw.RedisUsername, ""),
		Password: stringOr(raw.RedisPassword, ""),
	}

	if m, ok := raw.Sizes.(map[string]any); ok {
		s.Capacities = make(map[string]int, len(m))
		for name, v := range m {
			if n, ok := toInt(v); ok && n > 0 {
				s.Capacities[name] = n
			}
		}
	}

	if d, ok := toDuration(raw.ProbeTimeout); ok && d > 0 {
		s.ProbeTimeout = d
	}
	s.Memcached.Timeout = s.ProbeTimeout
	s.Redis.DialTimeout = s.ProbeTimeout
	return s
}

// =============================================================================
// 宽松类型转换
// =============================================================================

func stringOr(v any, def string) string {
	if s := toString(v); s != "" {
		return s
	}
	return def
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return fmt.Sprint(t)
	}
}

// maxExactFloat 是 float64 能精确表示的最大整数。
const maxExactFloat = 1 << 53

// toInt 接受整数、整数值的浮点数和十进制字符串，其余视为格式错误。
// 非整数浮点数按截断处理（JSON 数字统一解析为 float64）。
func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return clampInt64(t), true
	case uint64:
		return clampInt64(int64(min(t, math.MaxInt64))), true //nolint:gosec // 已截断到 MaxInt64
	case float64:
		if math.IsNaN(t) || math.Abs(t) > maxExactFloat {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func clampInt64(n int64) int {
	return int(max(min(n, math.MaxInt), math.MinInt))
}

// toDuration 接受 Go duration 字符串（"500ms"）或以秒为单位的数字。
func toDuration(v any) (time.Duration, bool) {
	if s, ok := v.(string); ok {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err == nil {
			return d, true
		}
	}
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t > math.MaxInt64/float64(time.Second) {
			return 0, false
		}
		return time.Duration(t * float64(time.Second)), true
	case int:
		return time.Duration(t) * time.Second, true
	default:
		return 0, false
	}
}
