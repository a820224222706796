package v4l2

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSysfsFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content+"\n"), 0o644))
}

// fakeSysfs builds a video4linux class directory with one USB camera
// (video0, video1), one platform device (video10) and nodes that must be
// skipped.
func fakeSysfs(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	class := filepath.Join(base, "class")

	usbDev := filepath.Join(base, "devices", "1-8")
	iface := filepath.Join(usbDev, "1-8:1.0")
	writeSysfsFile(t, filepath.Join(usbDev, "idVendor"), "046d")
	writeSysfsFile(t, filepath.Join(usbDev, "idProduct"), "0825")
	writeSysfsFile(t, filepath.Join(usbDev, "product"), "C270 HD WEBCAM")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "drivers", "uvcvideo"), 0o755))
	require.NoError(t, os.MkdirAll(iface, 0o755))
	require.NoError(t, os.Symlink(filepath.Join(base, "drivers", "uvcvideo"), filepath.Join(iface, "driver")))

	platform := filepath.Join(base, "devices", "vivid.0")
	require.NoError(t, os.MkdirAll(filepath.Join(base, "drivers", "vivid"), 0o755))
	require.NoError(t, os.MkdirAll(platform, 0o755))
	require.NoError(t, os.Symlink(filepath.Join(base, "drivers", "vivid"), filepath.Join(platform, "driver")))

	node := func(name, dev, card, index, device string) {
		dir := filepath.Join(class, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		if dev != "" {
			writeSysfsFile(t, filepath.Join(dir, "dev"), dev)
		}
		writeSysfsFile(t, filepath.Join(dir, "name"), card)
		writeSysfsFile(t, filepath.Join(dir, "index"), index)
		if device != "" {
			require.NoError(t, os.Symlink(device, filepath.Join(dir, "device")))
		}
	}
	node("video10", "81:10", "vivid", "0", platform)
	node("video0", "81:0", "UVC Camera (046d:0825)", "0", iface)
	node("video1", "81:1", "UVC Camera (046d:0825)", "1", iface)
	node("video2", "", "broken", "0", "")
	node("v4l-subdev0", "81:20", "sensor", "0", "")
	return class
}

func TestSysfsEnumerateDevices(t *testing.T) {
	e := &SysfsEnumerator{root: fakeSysfs(t), dev: "/dev"}

	devices, err := e.EnumerateDevices()
	require.NoError(t, err)
	require.Len(t, devices, 3)

	assert.Equal(t, "/dev/video0", devices[0].Path)
	assert.Equal(t, "/dev/video1", devices[1].Path)
	assert.Equal(t, "/dev/video10", devices[2].Path)

	cam := devices[0]
	assert.Equal(t, "video0", cam.Node)
	assert.Equal(t, "UVC Camera (046d:0825)", cam.Name)
	assert.Equal(t, uint32(81), cam.Major)
	assert.Equal(t, uint32(0), cam.Minor)
	assert.Equal(t, "uvcvideo", cam.Driver)
	assert.Equal(t, uint16(0x046d), cam.VendorID)
	assert.Equal(t, uint16(0x0825), cam.ProductID)
	assert.Equal(t, "/dev/video0: UVC Camera (046d:0825) [uvcvideo 046d:0825]", cam.String())
	assert.Empty(t, cam.Manufacturer)
	assert.Equal(t, "C270 HD WEBCAM", cam.ProductName())
	assert.Equal(t, "Logitech, Inc.", cam.VendorName())

	assert.Equal(t, 1, devices[1].Index)

	vivid := devices[2]
	assert.Equal(t, 10, vivid.Number)
	assert.Equal(t, "vivid", vivid.Driver)
	assert.Zero(t, vivid.VendorID)
	assert.Equal(t, "/dev/video10: vivid [vivid]", vivid.String())
	assert.Empty(t, vivid.VendorName())
	assert.Empty(t, vivid.ProductName())
}

func TestSysfsMissingClass(t *testing.T) {
	e := &SysfsEnumerator{root: filepath.Join(t.TempDir(), "missing"), dev: "/dev"}
	_, err := e.EnumerateDevices()
	assert.Error(t, err)
}
