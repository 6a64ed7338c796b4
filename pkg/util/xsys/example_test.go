package xsys_test

import (
	"fmt"

	"github.com/omeyang/tilecache/pkg/util/xsys"
)

func ExampleTotalMemory() {
	total, err := xsys.TotalMemory()
	if err != nil {
		// 平台不支持时由调用方回退到名义值
		total = 1 << 30
	}
	fmt.Println(total > 0)
	// Output: true
}
