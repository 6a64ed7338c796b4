//go:build darwin

package xsys

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func platformTotalMemory() (uint64, error) {
	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, fmt.Errorf("xsys: sysctl hw.memsize: %w", err)
	}
	return total, nil
}
