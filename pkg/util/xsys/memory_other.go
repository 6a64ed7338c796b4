//go:build !linux && !darwin

package xsys

func platformTotalMemory() (uint64, error) {
	return 0, ErrUnsupportedPlatform
}
