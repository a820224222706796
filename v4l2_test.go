package v4l2

import (
	"os"
	"testing"
)

func TestVersion(t *testing.T) {
	version := Version()
	if version == "" {
		t.Error("Version string is empty")
	}

	expected := "1.0.0"
	if version != expected {
		t.Errorf("Version mismatch: got %s, expected %s", version, expected)
	}
}

func TestIsValidDevicePath(t *testing.T) {
	tests := []struct {
		path  string
		valid bool
	}{
		{"/dev/video0", true},
		{"/dev/video12", true},
		{"/dev/video255", true},
		{"/dev/video256", false},
		{"/dev/video", false},
		{"/dev/video01", false},
		{"/dev/video-1", false},
		{"/dev/videoX", false},
		{"/dev/media0", false},
		{"/tmp/video0", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsValidDevicePath(tt.path); got != tt.valid {
				t.Errorf("IsValidDevicePath(%q) = %v, want %v", tt.path, got, tt.valid)
			}
		})
	}
}

func TestDevicePath(t *testing.T) {
	if got := DevicePath(3); got != "/dev/video3" {
		t.Errorf("DevicePath(3) = %q", got)
	}
	if !IsValidDevicePath(DevicePath(0)) {
		t.Error("DevicePath(0) is not a valid device path")
	}
}

func TestDevicesOnHost(t *testing.T) {
	if _, err := os.Stat(sysfsVideoDir); err != nil {
		t.Skip("no video4linux class in sysfs")
	}

	devices, err := Devices()
	if err != nil {
		t.Fatalf("Failed to list devices: %v", err)
	}
	for _, d := range devices {
		t.Logf("%s", d)
		if !IsValidDevicePath(d.Path) {
			t.Errorf("unexpected device path %q", d.Path)
		}
	}
}
