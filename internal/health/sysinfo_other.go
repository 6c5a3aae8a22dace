//go:build !linux

package health

import "errors"

var errUnsupportedPlatform = errors.New("resource sampling not supported on this platform")

func realFreeDiskBytes(_ string) (uint64, error) {
	return 0, errUnsupportedPlatform
}

func realFreeMemoryBytes() (uint64, error) {
	return 0, errUnsupportedPlatform
}
