package v4l2

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Capability flags reported by VIDIOC_QUERYCAP
const (
	CapVideoCapture uint32 = 0x00000001
	CapVideoOutput  uint32 = 0x00000002
	CapVideoOverlay uint32 = 0x00000004
	CapVBICapture   uint32 = 0x00000010
	CapTuner        uint32 = 0x00010000
	CapAudio        uint32 = 0x00020000
	CapReadWrite    uint32 = 0x01000000
	CapAsyncIO      uint32 = 0x02000000
	CapStreaming    uint32 = 0x04000000
	CapMetaCapture  uint32 = 0x00800000
	CapDeviceCaps   uint32 = 0x80000000
)

var capabilityNames = []struct {
	flag uint32
	name string
}{
	{CapVideoCapture, "video-capture"},
	{CapVideoOutput, "video-output"},
	{CapVideoOverlay, "video-overlay"},
	{CapVBICapture, "vbi-capture"},
	{CapTuner, "tuner"},
	{CapAudio, "audio"},
	{CapMetaCapture, "meta-capture"},
	{CapReadWrite, "readwrite"},
	{CapAsyncIO, "async-io"},
	{CapStreaming, "streaming"},
	{CapDeviceCaps, "device-caps"},
}

// Capability is the answer to a capability query.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
}

// Effective returns the capability set of the opened node. Drivers that
// expose several nodes report per-node caps in DeviceCaps.
func (c Capability) Effective() uint32 {
	if c.Capabilities&CapDeviceCaps != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// Has reports whether every bit of flag is present in the effective set.
func (c Capability) Has(flag uint32) bool {
	return c.Effective()&flag == flag
}

// VersionString formats the kernel version field as major.minor.patch.
func (c Capability) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", (c.Version>>16)&0xff, (c.Version>>8)&0xff, c.Version&0xff)
}

// Names lists the effective capability flags by name.
func (c Capability) Names() []string {
	eff := c.Effective()
	var names []string
	for _, cn := range capabilityNames {
		if eff&cn.flag != 0 {
			names = append(names, cn.name)
		}
	}
	return names
}

func (c Capability) String() string {
	return fmt.Sprintf("%s (%s) on %s [%s]", c.Card, c.Driver, c.BusInfo, strings.Join(c.Names(), ","))
}

// Memory is the V4L2 memory type of a buffer.
type Memory uint32

const (
	MemoryMMap    Memory = 1
	MemoryUserPtr Memory = 2
)

// IOMethod selects the buffer-exchange strategy.
type IOMethod int

const (
	// IOMMap exchanges kernel-allocated buffers mapped into the process.
	IOMMap IOMethod = iota
	// IORead copies each frame with read(2) into one process buffer.
	IORead
	// IOUserPtr hands process-allocated buffers to the driver.
	IOUserPtr
)

func (m IOMethod) String() string {
	switch m {
	case IOMMap:
		return "mmap"
	case IORead:
		return "read"
	case IOUserPtr:
		return "userptr"
	default:
		return fmt.Sprintf("iomethod(%d)", int(m))
	}
}

// ParseIOMethod accepts "mmap", "read" and "userptr" (or "userp").
func ParseIOMethod(s string) (IOMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mmap":
		return IOMMap, nil
	case "read":
		return IORead, nil
	case "userptr", "userp":
		return IOUserPtr, nil
	default:
		return 0, fmt.Errorf("unknown io method %q", s)
	}
}

// Buffer flags
const (
	BufFlagMapped   uint32 = 0x00000001
	BufFlagQueued   uint32 = 0x00000002
	BufFlagDone     uint32 = 0x00000004
	BufFlagKeyFrame uint32 = 0x00000008
	BufFlagError    uint32 = 0x00000040
)

// Buffer describes one buffer as exchanged with the driver. BytesUsed,
// Sequence and Timestamp are only meaningful after a dequeue.
type Buffer struct {
	Index     uint32
	Memory    Memory
	Length    uint32
	BytesUsed uint32
	Offset    uint32
	UserPtr   uintptr
	Flags     uint32
	Field     Field
	Sequence  uint32
	Timestamp time.Time
}

// Driver is the request/response surface of one open capture device. Every
// method maps to one kernel request; failures carry the OS error code
// (syscall.Errno) so callers can tell would-block and interrupted calls
// apart from real failures.
//
// A Driver is used by a single goroutine.
type Driver interface {
	QueryCapability() (Capability, error)
	GetFormat() (Format, error)
	SetFormat(f Format) (Format, error)
	CropCapability() (CropCapability, error)
	SetCrop(r Rect) error
	EnumFormat(index uint32) (FormatDescription, error)
	EnumFrameSize(pf FourCC, index uint32) (FrameSize, error)
	EnumFrameInterval(pf FourCC, width, height, index uint32) (FrameInterval, error)

	RequestBuffers(count uint32, mem Memory) (uint32, error)
	QueryBuffer(index uint32, mem Memory) (Buffer, error)
	Map(offset, length uint32) ([]byte, error)
	Unmap(region []byte) error
	Queue(b Buffer) error
	Dequeue(mem Memory) (Buffer, error)
	StreamOn() error
	StreamOff() error
	Read(p []byte) (int, error)

	// Wait blocks until the device is readable, ctx is done or timeout
	// elapses. It reports false with a nil error on timeout.
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
	Close() error
}

// Allocator provides the process-owned frame memory used by the read and
// user pointer strategies.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(region []byte) error
}

// HeapAllocator allocates frame memory on the Go heap.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	return make([]byte, size), nil
}

func (HeapAllocator) Free([]byte) error { return nil }
