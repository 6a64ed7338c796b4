package xcache

import (
	"testing"
)

// =============================================================================
// Key Fuzz 测试
// =============================================================================

func FuzzNewKey_NoCollision(f *testing.F) {
	f.Add("a", "b", "ab", "")
	f.Add("a,b", "", "a", "b")
	f.Add("1:x", "y", "1", ":xy")
	f.Add("中文", "key", "中", "文key")
	f.Add("key\x00null", "x", "key", "\x00nullx")

	f.Fuzz(func(t *testing.T, a1, a2, b1, b2 string) {
		if a1 == b1 && a2 == b2 {
			return
		}
		if NewKey(a1, a2) == NewKey(b1, b2) {
			t.Fatalf("collision: (%q, %q) and (%q, %q)", a1, a2, b1, b2)
		}
	})
}

// tileRequest 混合导出和未导出字段，模拟调用方的复合参数。
type tileRequest struct {
	Path  string
	Level int
	x, y  int
}

func FuzzNewKey_StructNoCollision(f *testing.F) {
	f.Add("a.svs", 0, 1, 2, "a.svs", 0, 2, 1)
	f.Add("a.svs", 1, 0, 0, "a.svs", 0, 0, 0)
	f.Add("", 0, 0, 0, "", 0, 0, 1)

	f.Fuzz(func(t *testing.T, p1 string, l1, x1, y1 int, p2 string, l2, x2, y2 int) {
		a := tileRequest{Path: p1, Level: l1, x: x1, y: y1}
		b := tileRequest{Path: p2, Level: l2, x: x2, y: y2}
		if a == b {
			if NewKey(a) != NewKey(b) {
				t.Fatalf("equal values gave different keys: %+v", a)
			}
			return
		}
		if NewKey(a) == NewKey(b) {
			t.Fatalf("collision: %+v and %+v", a, b)
		}
		if NewKey(&a) == NewKey(&b) {
			t.Fatalf("pointer collision: %+v and %+v", a, b)
		}
		if NewKey(p1, []int{x1, y1}) == NewKey(p2, []int{x2, y2}) && (p1 != p2 || x1 != x2 || y1 != y2) {
			t.Fatalf("slice collision: %q %d,%d and %q %d,%d", p1, x1, y1, p2, x2, y2)
		}
	})
}

func FuzzHashKey_Length(f *testing.F) {
	f.Add("")
	f.Add("tile/0/0/0")
	f.Add("含 空白 的 key")

	f.Fuzz(func(t *testing.T, key string) {
		if got := HashKey(key); len(got) != 16 {
			t.Fatalf("HashKey(%q) = %q, want 16 hex chars", key, got)
		}
	})
}
