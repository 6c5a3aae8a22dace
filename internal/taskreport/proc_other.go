//go:build !linux

package taskreport

import "errors"

var errUnsupportedPlatform = errors.New("process enumeration is only implemented on linux")

var enumerateProcesses = func() ([]procInfo, error) {
	return nil, errUnsupportedPlatform
}
