//go:build linux

package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	bufTypeVideoCapture = 1

	fmtFlagCompressed = 0x0001
	fmtFlagEmulated   = 0x0002
)

const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func iow(typ, nr, size uintptr) uintptr {
	return ioc(iocWrite, typ, nr, size)
}

func ior(typ, nr, size uintptr) uintptr {
	return ioc(iocRead, typ, nr, size)
}

func iowr(typ, nr, size uintptr) uintptr {
	return ioc(iocRead|iocWrite, typ, nr, size)
}

var (
	vidiocQuerycap           = ior('V', 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocEnumFmt            = iowr('V', 2, unsafe.Sizeof(v4l2Fmtdesc{}))
	vidiocGFmt               = iowr('V', 4, unsafe.Sizeof(v4l2Format{}))
	vidiocSFmt               = iowr('V', 5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqbufs            = iowr('V', 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQuerybuf           = iowr('V', 9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQbuf               = iowr('V', 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDqbuf              = iowr('V', 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamOn           = iow('V', 18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff          = iow('V', 19, unsafe.Sizeof(int32(0)))
	vidiocCropcap            = iowr('V', 58, unsafe.Sizeof(v4l2Cropcap{}))
	vidiocSCrop              = iow('V', 60, unsafe.Sizeof(v4l2Crop{}))
	vidiocEnumFramesizes     = iowr('V', 74, unsafe.Sizeof(v4l2Frmsizeenum{}))
	vidiocEnumFrameintervals = iowr('V', 75, unsafe.Sizeof(v4l2Frmivalenum{}))
)

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format holds a 200 byte union whose overlay member carries pointers,
// so the union is pointer aligned: 208 bytes on 64-bit, 204 on 32-bit.
type v4l2Format struct {
	typ uint32
	raw [200 / unsafe.Sizeof(uintptr(0))]uintptr
}

func (f *v4l2Format) pix() *v4l2PixFormat {
	return (*v4l2PixFormat)(unsafe.Pointer(&f.raw[0]))
}

// v4l2RequestBuffers has size 20 bytes.
type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint32
}

type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

// v4l2Buffer has size 88 bytes on 64-bit and 68 on 32-bit. m is the
// offset/userptr/fd union; offset is its first four bytes.
type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp unix.Timeval
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	m         uintptr
	length    uint32
	reserved2 uint32
	requestFD int32
}

func (b *v4l2Buffer) offset() uint32 {
	return *(*uint32)(unsafe.Pointer(&b.m))
}

func (b *v4l2Buffer) setOffset(off uint32) {
	b.m = 0
	*(*uint32)(unsafe.Pointer(&b.m)) = off
}

type v4l2Rect struct {
	left   int32
	top    int32
	width  uint32
	height uint32
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

// v4l2Cropcap has size 44 bytes.
type v4l2Cropcap struct {
	typ         uint32
	bounds      v4l2Rect
	defrect     v4l2Rect
	pixelaspect v4l2Fract
}

// v4l2Crop has size 20 bytes.
type v4l2Crop struct {
	typ uint32
	c   v4l2Rect
}

// v4l2Fmtdesc has size 64 bytes.
type v4l2Fmtdesc struct {
	index       uint32
	typ         uint32
	flags       uint32
	description [32]byte
	pixelformat uint32
	mbusCode    uint32
	reserved    [3]uint32
}

// v4l2Frmsizeenum has size 44 bytes. The union holds either a discrete
// width/height pair or the six stepwise fields.
type v4l2Frmsizeenum struct {
	index       uint32
	pixelFormat uint32
	typ         uint32
	union       [6]uint32
	reserved    [2]uint32
}

// v4l2Frmivalenum has size 52 bytes. The union holds either a discrete
// fraction or min/max/step fractions.
type v4l2Frmivalenum struct {
	index       uint32
	pixelFormat uint32
	width       uint32
	height      uint32
	typ         uint32
	union       [3]v4l2Fract
	reserved    [2]uint32
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (r v4l2Rect) rect() Rect {
	return Rect{Left: r.left, Top: r.top, Width: r.width, Height: r.height}
}

func (f v4l2Fract) fraction() Fraction {
	return Fraction{Numerator: f.numerator, Denominator: f.denominator}
}
