package xcache

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// NewKey 由构造参数生成缓存 key。
//
// 字符串参数使用 Go 引号形式（保留非法 UTF-8 字节），其余参数编码为 JSON，
// 每部分以长度前缀拼接："{len}:{encoded}"。
// 因此不同参数序列永远不会产生相同的 key，即使参数本身包含分隔符。
//
// JSON 会丢失信息的参数（含未导出字段或 `json:"-"` 字段的结构体）以及无法编码为 JSON
// 的参数退化为 "#%T:%#v" 表示。这类 key 中的指针按地址区分，只在本进程内稳定。
func NewKey(args ...any) string {
	var b strings.Builder
	for _, arg := range args {
		writePart(&b, encodeArg(arg))
	}
	return b.String()
}

// KeyBuilder 生成带命名空间的 key。
//
// 命名空间用于隔离同一进程中相互独立的逻辑生命周期，
// 例如复用同一端口的连续测试运行。
type KeyBuilder struct {
	// Namespace 命名空间，为空时等价于 NewKey。
	Namespace string
}

// Key 生成带命名空间前缀的 key。
// 带命名空间的 key 以 "ns" 开头，不带的以数字开头，两者不会冲突。
func (kb KeyBuilder) Key(args ...any) string {
	if kb.Namespace == "" {
		return NewKey(args...)
	}
	var b strings.Builder
	b.WriteString("ns")
	writePart(&b, kb.Namespace)
	b.WriteString(NewKey(args...))
	return b.String()
}

// HashKey 返回 key 的 xxhash64 十六进制表示（16 个字符）。
// 用于限制远端 key 的长度（memcached key 不超过 250 字节且不能含空白）。
func HashKey(key string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}

func writePart(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

func encodeArg(arg any) string {
	if s, ok := arg.(string); ok {
		return strconv.Quote(s)
	}
	if jsonLossless(reflect.ValueOf(arg), 0) {
		if data, err := json.Marshal(arg); err == nil {
			return string(data)
		}
	}
	// JSON 输出不会以 '#' 开头，两种编码不会重叠。
	return fmt.Sprintf("#%T:%#v", arg, arg)
}

// maxEncodeDepth 限制 jsonLossless 的递归深度，超过时按有损处理。
const maxEncodeDepth = 32

var (
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// jsonLossless 报告 v 的 JSON 编码是否保留了区分不同值所需的全部字段。
func jsonLossless(v reflect.Value, depth int) bool {
	if !v.IsValid() {
		return true
	}
	if depth > maxEncodeDepth {
		return false
	}
	t := v.Type()
	if implementsMarshaler(t) {
		return true
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return true
		}
		return jsonLossless(v.Elem(), depth+1)
	case reflect.Struct:
		for i := range t.NumField() {
			f := t.Field(i)
			if f.Tag.Get("json") == "-" {
				return false
			}
			if !f.IsExported() && !(f.Anonymous && embedsStruct(f.Type)) {
				return false
			}
			if !jsonLossless(v.Field(i), depth+1) {
				return false
			}
		}
		return true
	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			if !jsonLossless(v.Index(i), depth+1) {
				return false
			}
		}
		return true
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if !jsonLossless(iter.Value(), depth+1) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func implementsMarshaler(t reflect.Type) bool {
	return t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType)
}

// embedsStruct 报告未导出的嵌入字段是否为结构体，其导出字段会被 JSON 提升。
func embedsStruct(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}
