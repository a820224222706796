package v4l2

import (
	"fmt"
	"strings"
	"sync"
)

// FourCC is a V4L2 pixel format code, four ASCII bytes packed little-endian.
type FourCC uint32

// NewFourCC packs four characters into a FourCC.
func NewFourCC(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Common pixel formats
var (
	PixelFmtYUYV   = NewFourCC('Y', 'U', 'Y', 'V')
	PixelFmtUYVY   = NewFourCC('U', 'Y', 'V', 'Y')
	PixelFmtMJPEG  = NewFourCC('M', 'J', 'P', 'G')
	PixelFmtJPEG   = NewFourCC('J', 'P', 'E', 'G')
	PixelFmtRGB24  = NewFourCC('R', 'G', 'B', '3')
	PixelFmtBGR24  = NewFourCC('B', 'G', 'R', '3')
	PixelFmtNV12   = NewFourCC('N', 'V', '1', '2')
	PixelFmtYUV420 = NewFourCC('Y', 'U', '1', '2')
	PixelFmtGrey   = NewFourCC('G', 'R', 'E', 'Y')
	PixelFmtH264   = NewFourCC('H', '2', '6', '4')
)

// String returns the four characters of the code, e.g. "YUYV".
func (f FourCC) String() string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '.'
		}
	}
	return strings.TrimRight(string(b), " ")
}

// Description returns a human readable name for the format, or the empty
// string when the format is not in the table.
func (f FourCC) Description() string {
	return formats.describe(f)
}

// ParseFourCC parses a format name such as "YUYV" or "MJPG". Names shorter
// than four characters are padded with spaces, as V4L2 does for "RGB" style
// codes.
func ParseFourCC(s string) (FourCC, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if alias, ok := fourCCAliases[s]; ok {
		return alias, nil
	}
	if len(s) == 0 || len(s) > 4 {
		return 0, fmt.Errorf("invalid pixel format %q", s)
	}
	for len(s) < 4 {
		s += " "
	}
	return NewFourCC(s[0], s[1], s[2], s[3]), nil
}

var fourCCAliases = map[string]FourCC{
	"MJPEG":  PixelFmtMJPEG,
	"YUV420": PixelFmtYUV420,
	"RGB24":  PixelFmtRGB24,
	"BGR24":  PixelFmtBGR24,
}

type formatDatabase struct {
	names map[FourCC]string
	mu    sync.RWMutex
}

var formats = &formatDatabase{
	names: map[FourCC]string{
		PixelFmtYUYV:   "YUYV 4:2:2",
		PixelFmtUYVY:   "UYVY 4:2:2",
		PixelFmtMJPEG:  "Motion-JPEG",
		PixelFmtJPEG:   "JFIF JPEG",
		PixelFmtRGB24:  "24-bit RGB 8-8-8",
		PixelFmtBGR24:  "24-bit BGR 8-8-8",
		PixelFmtNV12:   "Y/UV 4:2:0",
		PixelFmtYUV420: "Planar YUV 4:2:0",
		PixelFmtGrey:   "8-bit Greyscale",
		PixelFmtH264:   "H.264",
	},
}

func (db *formatDatabase) describe(f FourCC) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.names[f]
}

func (db *formatDatabase) register(f FourCC, desc string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.names[f] = desc
}

// RegisterFormat adds or replaces the description of a pixel format. The
// info command registers the driver supplied descriptions it enumerates.
func RegisterFormat(f FourCC, description string) {
	formats.register(f, description)
}
