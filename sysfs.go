package v4l2

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	sysfsVideoDir = "/sys/class/video4linux"
	devDir        = "/dev"
)

// DeviceInfo describes a video4linux node as seen in sysfs
type DeviceInfo struct {
	Path      string
	Node      string
	Number    int
	Name      string
	Index     int
	Major     uint32
	Minor     uint32
	Driver    string
	VendorID  uint16
	ProductID uint16
	// Manufacturer and Product are the USB string descriptors, when the
	// kernel exposes them.
	Manufacturer string
	Product      string
	SysfsPath    string
}

// VendorName names the USB vendor, preferring the device's own string.
func (d DeviceInfo) VendorName() string {
	if d.Manufacturer != "" {
		return d.Manufacturer
	}
	if d.VendorID == 0 {
		return ""
	}
	return VendorName(d.VendorID)
}

// ProductName names the USB product, preferring the device's own string.
func (d DeviceInfo) ProductName() string {
	if d.Product != "" {
		return d.Product
	}
	if d.VendorID == 0 && d.ProductID == 0 {
		return ""
	}
	return ProductName(d.VendorID, d.ProductID)
}

func (d DeviceInfo) String() string {
	if d.VendorID != 0 || d.ProductID != 0 {
		return fmt.Sprintf("%s: %s [%s %04x:%04x]", d.Path, d.Name, d.Driver, d.VendorID, d.ProductID)
	}
	return fmt.Sprintf("%s: %s [%s]", d.Path, d.Name, d.Driver)
}

// SysfsEnumerator lists video4linux nodes via sysfs
type SysfsEnumerator struct {
	root string
	dev  string
}

// NewSysfsEnumerator creates a new sysfs enumerator
func NewSysfsEnumerator() *SysfsEnumerator {
	return &SysfsEnumerator{root: sysfsVideoDir, dev: devDir}
}

// EnumerateDevices returns every videoN node, ordered by node number
func (e *SysfsEnumerator) EnumerateDevices() ([]*DeviceInfo, error) {
	entries, err := os.ReadDir(e.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read sysfs video4linux directory: %w", err)
	}

	var devices []*DeviceInfo
	for _, entry := range entries {
		name := entry.Name()

		// Only capture/output nodes; skip v4l-subdev, vbi, radio, swradio
		if !strings.HasPrefix(name, "video") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimPrefix(name, "video"))
		if err != nil {
			continue
		}

		device, err := e.loadDeviceFromSysfs(filepath.Join(e.root, name), name)
		if err == nil {
			device.Number = num
			devices = append(devices, device)
		}
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Number < devices[j].Number
	})
	return devices, nil
}

// loadDeviceFromSysfs loads a single node from sysfs
func (e *SysfsEnumerator) loadDeviceFromSysfs(sysfsPath, node string) (*DeviceInfo, error) {
	device := &DeviceInfo{
		Path:      filepath.Join(e.dev, node),
		Node:      node,
		SysfsPath: sysfsPath,
	}

	readFile := func(path string) string {
		data, err := os.ReadFile(path)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(data))
	}
	readString := func(filename string) string {
		return readFile(filepath.Join(sysfsPath, filename))
	}

	readUint16Hex := func(path string) uint16 {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0
		}
		val, err := strconv.ParseUint(strings.TrimSpace(string(data)), 16, 16)
		if err != nil {
			return 0
		}
		return uint16(val)
	}

	// "dev" holds major:minor and is the only required attribute
	dev := readString("dev")
	if _, err := fmt.Sscanf(dev, "%d:%d", &device.Major, &device.Minor); err != nil {
		return nil, fmt.Errorf("parse %s/dev %q: %w", node, dev, err)
	}

	device.Name = readString("name")
	if idx, err := strconv.Atoi(readString("index")); err == nil {
		device.Index = idx
	}

	if target, err := os.Readlink(filepath.Join(sysfsPath, "device", "driver")); err == nil {
		device.Driver = filepath.Base(target)
	}

	// USB cameras: device is the interface, the parent carries the IDs
	if iface, err := filepath.EvalSymlinks(filepath.Join(sysfsPath, "device")); err == nil {
		parent := filepath.Dir(iface)
		device.VendorID = readUint16Hex(filepath.Join(parent, "idVendor"))
		device.ProductID = readUint16Hex(filepath.Join(parent, "idProduct"))
		device.Manufacturer = readFile(filepath.Join(parent, "manufacturer"))
		device.Product = readFile(filepath.Join(parent, "product"))
	}

	return device, nil
}

// Devices lists the video4linux nodes present on the system.
func Devices() ([]*DeviceInfo, error) {
	return NewSysfsEnumerator().EnumerateDevices()
}

// CaptureDevices lists the nodes that answer a capability query as video
// capture devices with streaming or read I/O. Nodes that cannot be opened
// are skipped.
func CaptureDevices() ([]*DeviceInfo, error) {
	all, err := Devices()
	if err != nil {
		return nil, err
	}
	var out []*DeviceInfo
	for _, d := range all {
		s, err := Open(d.Path)
		if err != nil {
			continue
		}
		c, err := s.QueryCapabilities()
		s.Close()
		if err != nil || !c.Has(CapVideoCapture) {
			continue
		}
		if c.Has(CapStreaming) || c.Has(CapReadWrite) {
			out = append(out, d)
		}
	}
	return out, nil
}
