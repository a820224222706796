// Package v4l2 captures raw video frames from Video4Linux2 devices.
//
// A capture walks Open, CheckCapabilities, NegotiateFormat, NewBufferPool,
// NewStreamController, Prepare, Start and CaptureLoop.Run, and unwinds in
// reverse. Run does the whole traversal for a single device.
package v4l2

import (
	"fmt"
	"strconv"
	"strings"
)

// Version returns the version of the go-v4l2 library
func Version() string {
	return "1.0.0"
}

// DevicePath returns the device node path for video node n.
func DevicePath(n int) string {
	return fmt.Sprintf("%s/video%d", devDir, n)
}

// OpenByName opens the first video node whose sysfs name matches name,
// ignoring case.
func OpenByName(name string, opts ...Option) (*Session, error) {
	devices, err := Devices()
	if err != nil {
		return nil, err
	}

	for _, dev := range devices {
		if strings.EqualFold(dev.Name, name) {
			return Open(dev.Path, opts...)
		}
	}

	return nil, newError("open "+name, KindConfiguration, ErrDeviceNotFound)
}

// IsValidDevicePath checks if a path is a valid video node path
func IsValidDevicePath(path string) bool {
	rest, ok := strings.CutPrefix(path, devDir+"/video")
	if !ok || rest == "" {
		return false
	}

	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 || n > 255 {
		return false
	}
	return strconv.Itoa(n) == rest
}
