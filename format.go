package v4l2

import (
	"fmt"
	"math"
	"strings"
)

// MinBytesPerPixel is the floor applied to bytes-per-line when a driver
// reports an implausibly small stride.
const MinBytesPerPixel = 2

// Field is the interlacing order of the frames.
type Field uint32

const (
	FieldAny Field = iota
	FieldNone
	FieldTop
	FieldBottom
	FieldInterlaced
	FieldSeqTB
	FieldSeqBT
	FieldAlternate
	FieldInterlacedTB
	FieldInterlacedBT
)

var fieldNames = map[Field]string{
	FieldAny:          "any",
	FieldNone:         "none",
	FieldTop:          "top",
	FieldBottom:       "bottom",
	FieldInterlaced:   "interlaced",
	FieldSeqTB:        "seq-tb",
	FieldSeqBT:        "seq-bt",
	FieldAlternate:    "alternate",
	FieldInterlacedTB: "interlaced-tb",
	FieldInterlacedBT: "interlaced-bt",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("field(%d)", uint32(f))
}

// ParseField parses a field order name as printed by Field.String.
func ParseField(s string) (Field, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FieldAny, nil
	}
	for f, name := range fieldNames {
		if name == s {
			return f, nil
		}
	}
	return FieldAny, fmt.Errorf("unknown field order %q", s)
}

// Format is the frame geometry and encoding in effect for a session. The
// value returned by negotiation, not the request, is authoritative.
type Format struct {
	Width        uint32
	Height       uint32
	PixelFormat  FourCC
	Field        Field
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d %s field=%s stride=%d size=%d",
		f.Width, f.Height, f.PixelFormat, f.Field, f.BytesPerLine, f.SizeImage)
}

// withDriverFloor raises BytesPerLine and SizeImage to the minimum a frame
// of this geometry can occupy. Some drivers report zero or short values.
func (f Format) withDriverFloor() Format {
	if floor := saturatingMul(f.Width, MinBytesPerPixel); f.BytesPerLine < floor {
		f.BytesPerLine = floor
	}
	if floor := saturatingMul(f.BytesPerLine, f.Height); f.SizeImage < floor {
		f.SizeImage = floor
	}
	return f
}

func saturatingMul(a, b uint32) uint32 {
	p := uint64(a) * uint64(b)
	if p > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(p)
}

// FormatRequest asks the driver to adopt a format. The driver may adjust
// width, height and stride.
type FormatRequest struct {
	Width       uint32
	Height      uint32
	PixelFormat FourCC
	Field       Field
}

// DefaultFormatRequest is the forced format of the capture command: VGA YUYV.
func DefaultFormatRequest() FormatRequest {
	return FormatRequest{
		Width:       640,
		Height:      480,
		PixelFormat: PixelFmtYUYV,
		Field:       FieldAny,
	}
}

func (r FormatRequest) format() Format {
	return Format{
		Width:       r.Width,
		Height:      r.Height,
		PixelFormat: r.PixelFormat,
		Field:       r.Field,
	}
}

// FormatDescription is one entry of the driver's format enumeration.
type FormatDescription struct {
	Index       uint32
	PixelFormat FourCC
	Description string
	Compressed  bool
	Emulated    bool
}

// FrameSizeType tells how a FrameSize should be read.
type FrameSizeType uint32

const (
	FrameSizeDiscrete   FrameSizeType = 1
	FrameSizeContinuous FrameSizeType = 2
	FrameSizeStepwise   FrameSizeType = 3
)

// FrameSize is one entry of the frame size enumeration. Discrete sizes have
// equal Min and Max values and zero steps.
type FrameSize struct {
	Type       FrameSizeType
	MinWidth   uint32
	MaxWidth   uint32
	StepWidth  uint32
	MinHeight  uint32
	MaxHeight  uint32
	StepHeight uint32
}

func (s FrameSize) String() string {
	if s.Type == FrameSizeDiscrete {
		return fmt.Sprintf("%dx%d", s.MaxWidth, s.MaxHeight)
	}
	return fmt.Sprintf("%dx%d-%dx%d (step %d,%d)",
		s.MinWidth, s.MinHeight, s.MaxWidth, s.MaxHeight, s.StepWidth, s.StepHeight)
}

// Fraction is a rational number, used for frame intervals.
type Fraction struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the frame rate for an interval fraction.
func (f Fraction) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// FrameInterval is one entry of the frame interval enumeration. Only Min is
// set for discrete intervals.
type FrameInterval struct {
	Type FrameSizeType
	Min  Fraction
	Max  Fraction
	Step Fraction
}

// Rect is a crop rectangle.
type Rect struct {
	Left   int32
	Top    int32
	Width  uint32
	Height uint32
}

// CropCapability is the answer to a crop capability query.
type CropCapability struct {
	Bounds      Rect
	DefRect     Rect
	PixelAspect Fraction
}
