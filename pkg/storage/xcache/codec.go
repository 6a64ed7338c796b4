package xcache

import (
	"encoding/json"
	"fmt"
)

// Codec 定义值与远端存储字节之间的编解码。
// 只有可序列化的值（瓦片字节、元数据记录）才能放入远端后端；
// 包装打开文件的句柄只能使用进程内后端。
type Codec[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// BytesCodec 是 []byte 的恒等编解码器。
type BytesCodec struct{}

// Marshal 原样返回 v。
func (BytesCodec) Marshal(v []byte) ([]byte, error) { return v, nil }

// Unmarshal 原样返回 data。
func (BytesCodec) Unmarshal(data []byte) ([]byte, error) { return data, nil }

// JSONCodec 使用 encoding/json 编解码，适合元数据记录。
type JSONCodec[V any] struct{}

// Marshal 将 v 编码为 JSON。
func (JSONCodec[V]) Marshal(v V) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("xcache: json marshal: %w", err)
	}
	return data, nil
}

// Unmarshal 将 JSON 解码为 V。
func (JSONCodec[V]) Unmarshal(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("xcache: json unmarshal: %w", err)
	}
	return v, nil
}

var (
	_ Codec[[]byte]         = BytesCodec{}
	_ Codec[map[string]any] = JSONCodec[map[string]any]{}
)
