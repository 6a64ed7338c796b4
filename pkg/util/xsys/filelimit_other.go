//go:build !unix

package xsys

// FileLimit 在非 Unix 平台上返回 [ErrUnsupportedPlatform]。
func FileLimit() (uint64, error) {
	return 0, ErrUnsupportedPlatform
}
