//go:build linux

package v4l2

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// pollSlice bounds a single poll so cancellation is noticed promptly.
const pollSlice = 100 * time.Millisecond

type fileDriver struct {
	fd   int
	path string
}

// openDriver opens a capture node non-blocking after checking that it is a
// character device.
func openDriver(path string) (Driver, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		switch {
		case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENOTDIR):
			return nil, newError("open "+path, KindConfiguration, wrapErrno(ErrDeviceNotFound, err))
		case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
			return nil, newError("open "+path, KindConfiguration, wrapErrno(ErrPermissionDenied, err))
		}
		return nil, newError("open "+path, KindConfiguration, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return nil, newError("open "+path, KindConfiguration, ErrNotCharDevice)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		switch {
		case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
			return nil, newError("open "+path, KindConfiguration, wrapErrno(ErrPermissionDenied, err))
		case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
			return nil, newError("open "+path, KindConfiguration, wrapErrno(ErrDeviceNotFound, err))
		}
		return nil, newError("open "+path, KindConfiguration, err)
	}
	return &fileDriver{fd: fd, path: path}, nil
}

// WrapFD creates a Session from an existing file descriptor, for instance one
// passed in by a parent process. The fd must be an open video4linux node; the
// session takes ownership of it and closes it in Close.
func WrapFD(fd int, opts ...Option) (*Session, error) {
	if fd < 0 {
		return nil, newError("wrap fd", KindConfiguration, fmt.Errorf("invalid file descriptor: %d", fd))
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, newError("wrap fd", KindConfiguration, err)
	}

	path := fmt.Sprintf("<fd:%d>", fd)
	if target, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", fd)); err == nil {
		path = target
	}

	d := &fileDriver{fd: fd, path: path}
	if _, err := d.QueryCapability(); err != nil {
		return nil, newError("wrap fd", KindConfiguration, wrapErrno(ErrNotV4L2Device, err))
	}
	return newSession(path, d, opts...), nil
}

// ioctl issues a request, retrying while the call is interrupted.
func (d *fileDriver) ioctl(req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

func (d *fileDriver) QueryCapability() (Capability, error) {
	var c v4l2Capability
	if err := d.ioctl(vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return Capability{}, err
	}
	return Capability{
		Driver:       cString(c.driver[:]),
		Card:         cString(c.card[:]),
		BusInfo:      cString(c.busInfo[:]),
		Version:      c.version,
		Capabilities: c.capabilities,
		DeviceCaps:   c.deviceCaps,
	}, nil
}

func formatFromPix(p *v4l2PixFormat) Format {
	return Format{
		Width:        p.width,
		Height:       p.height,
		PixelFormat:  FourCC(p.pixelformat),
		Field:        Field(p.field),
		BytesPerLine: p.bytesperline,
		SizeImage:    p.sizeimage,
		Colorspace:   p.colorspace,
	}
}

func (d *fileDriver) GetFormat() (Format, error) {
	f := v4l2Format{typ: bufTypeVideoCapture}
	if err := d.ioctl(vidiocGFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, err
	}
	return formatFromPix(f.pix()), nil
}

// SetFormat returns the format the driver actually adopted.
func (d *fileDriver) SetFormat(want Format) (Format, error) {
	f := v4l2Format{typ: bufTypeVideoCapture}
	p := f.pix()
	p.width = want.Width
	p.height = want.Height
	p.pixelformat = uint32(want.PixelFormat)
	p.field = uint32(want.Field)
	if err := d.ioctl(vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return Format{}, err
	}
	return formatFromPix(f.pix()), nil
}

func (d *fileDriver) CropCapability() (CropCapability, error) {
	cc := v4l2Cropcap{typ: bufTypeVideoCapture}
	if err := d.ioctl(vidiocCropcap, unsafe.Pointer(&cc)); err != nil {
		return CropCapability{}, err
	}
	return CropCapability{
		Bounds:      cc.bounds.rect(),
		DefRect:     cc.defrect.rect(),
		PixelAspect: cc.pixelaspect.fraction(),
	}, nil
}

func (d *fileDriver) SetCrop(r Rect) error {
	c := v4l2Crop{
		typ: bufTypeVideoCapture,
		c:   v4l2Rect{left: r.Left, top: r.Top, width: r.Width, height: r.Height},
	}
	return d.ioctl(vidiocSCrop, unsafe.Pointer(&c))
}

func (d *fileDriver) EnumFormat(index uint32) (FormatDescription, error) {
	fd := v4l2Fmtdesc{index: index, typ: bufTypeVideoCapture}
	if err := d.ioctl(vidiocEnumFmt, unsafe.Pointer(&fd)); err != nil {
		return FormatDescription{}, err
	}
	return FormatDescription{
		Index:       fd.index,
		PixelFormat: FourCC(fd.pixelformat),
		Description: cString(fd.description[:]),
		Compressed:  fd.flags&fmtFlagCompressed != 0,
		Emulated:    fd.flags&fmtFlagEmulated != 0,
	}, nil
}

func (d *fileDriver) EnumFrameSize(pf FourCC, index uint32) (FrameSize, error) {
	fs := v4l2Frmsizeenum{index: index, pixelFormat: uint32(pf)}
	if err := d.ioctl(vidiocEnumFramesizes, unsafe.Pointer(&fs)); err != nil {
		return FrameSize{}, err
	}
	size := FrameSize{Type: FrameSizeType(fs.typ)}
	if size.Type == FrameSizeDiscrete {
		size.MinWidth, size.MaxWidth = fs.union[0], fs.union[0]
		size.MinHeight, size.MaxHeight = fs.union[1], fs.union[1]
		return size, nil
	}
	size.MinWidth = fs.union[0]
	size.MaxWidth = fs.union[1]
	size.StepWidth = fs.union[2]
	size.MinHeight = fs.union[3]
	size.MaxHeight = fs.union[4]
	size.StepHeight = fs.union[5]
	return size, nil
}

func (d *fileDriver) EnumFrameInterval(pf FourCC, width, height, index uint32) (FrameInterval, error) {
	fi := v4l2Frmivalenum{index: index, pixelFormat: uint32(pf), width: width, height: height}
	if err := d.ioctl(vidiocEnumFrameintervals, unsafe.Pointer(&fi)); err != nil {
		return FrameInterval{}, err
	}
	iv := FrameInterval{Type: FrameSizeType(fi.typ), Min: fi.union[0].fraction()}
	if iv.Type != FrameSizeDiscrete {
		iv.Max = fi.union[1].fraction()
		iv.Step = fi.union[2].fraction()
	}
	return iv, nil
}

func (d *fileDriver) RequestBuffers(count uint32, mem Memory) (uint32, error) {
	req := v4l2RequestBuffers{count: count, typ: bufTypeVideoCapture, memory: uint32(mem)}
	if err := d.ioctl(vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return req.count, nil
}

func bufferFromKernel(b *v4l2Buffer) Buffer {
	out := Buffer{
		Index:     b.index,
		Memory:    Memory(b.memory),
		Length:    b.length,
		BytesUsed: b.bytesused,
		Flags:     b.flags,
		Field:     Field(b.field),
		Sequence:  b.sequence,
	}
	if out.Memory == MemoryUserPtr {
		out.UserPtr = b.m
	} else {
		out.Offset = b.offset()
	}
	if sec, nsec := b.timestamp.Unix(); sec != 0 || nsec != 0 {
		out.Timestamp = time.Unix(sec, nsec)
	}
	return out
}

func (d *fileDriver) QueryBuffer(index uint32, mem Memory) (Buffer, error) {
	b := v4l2Buffer{index: index, typ: bufTypeVideoCapture, memory: uint32(mem)}
	if err := d.ioctl(vidiocQuerybuf, unsafe.Pointer(&b)); err != nil {
		return Buffer{}, err
	}
	return bufferFromKernel(&b), nil
}

func (d *fileDriver) Map(offset, length uint32) ([]byte, error) {
	return unix.Mmap(d.fd, int64(offset), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (d *fileDriver) Unmap(region []byte) error {
	return unix.Munmap(region)
}

func (d *fileDriver) Queue(buf Buffer) error {
	b := v4l2Buffer{
		index:  buf.Index,
		typ:    bufTypeVideoCapture,
		memory: uint32(buf.Memory),
		length: buf.Length,
	}
	if buf.Memory == MemoryUserPtr {
		b.m = buf.UserPtr
	} else {
		b.setOffset(buf.Offset)
	}
	return d.ioctl(vidiocQbuf, unsafe.Pointer(&b))
}

func (d *fileDriver) Dequeue(mem Memory) (Buffer, error) {
	b := v4l2Buffer{typ: bufTypeVideoCapture, memory: uint32(mem)}
	if err := d.ioctl(vidiocDqbuf, unsafe.Pointer(&b)); err != nil {
		return Buffer{}, err
	}
	return bufferFromKernel(&b), nil
}

func (d *fileDriver) StreamOn() error {
	typ := int32(bufTypeVideoCapture)
	return d.ioctl(vidiocStreamOn, unsafe.Pointer(&typ))
}

func (d *fileDriver) StreamOff() error {
	typ := int32(bufTypeVideoCapture)
	return d.ioctl(vidiocStreamOff, unsafe.Pointer(&typ))
}

func (d *fileDriver) Read(p []byte) (int, error) {
	return unix.Read(d.fd, p)
}

func (d *fileDriver) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		slice := min(remaining, pollSlice)
		ms := max(int(slice/time.Millisecond), 1)

		n, err := unix.Poll(fds, ms)
		if err != nil {
			return false, err
		}
		if n > 0 {
			if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 && fds[0].Revents&unix.POLLIN == 0 {
				return false, unix.EIO
			}
			return true, nil
		}
	}
}

func (d *fileDriver) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}

// pageAllocator hands out anonymous page-aligned mappings, which every
// driver accepts as user pointer memory.
type pageAllocator struct{}

func (pageAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, unix.EINVAL
	}
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func (pageAllocator) Free(region []byte) error {
	return unix.Munmap(region)
}

func defaultAllocator() Allocator {
	return pageAllocator{}
}
