package v4l2

import (
	"errors"
	"log/slog"
	"sync"
	"syscall"

	"github.com/google/uuid"
)

// DefaultBufferCount is the number of buffers requested from the driver.
const DefaultBufferCount = 4

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used for diagnostics. Verbose output from the
// pipeline is logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithBufferCount sets how many buffers the pool asks the driver for.
// Drivers may grant fewer; fewer than two fails setup.
func WithBufferCount(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.bufferCount = uint32(n)
		}
	}
}

// WithAllocator sets the allocator for read and user pointer buffers.
func WithAllocator(a Allocator) Option {
	return func(s *Session) {
		if a != nil {
			s.allocator = a
		}
	}
}

// Session owns one open capture device and everything derived from it: the
// capability answer, the negotiated format and at most one live buffer pool.
type Session struct {
	id          string
	path        string
	drv         Driver
	log         *slog.Logger
	bufferCount uint32
	allocator   Allocator

	mu         sync.Mutex
	caps       *Capability
	format     Format
	negotiated bool
	pool       *BufferPool
	closed     bool
}

// Open opens the capture device at path.
func Open(path string, opts ...Option) (*Session, error) {
	drv, err := openDriver(path)
	if err != nil {
		return nil, err
	}
	s := newSession(path, drv, opts...)
	s.log.Debug("device opened")
	return s, nil
}

// NewSession wraps an already open driver. The session takes ownership of d
// and closes it in Close.
func NewSession(d Driver, opts ...Option) *Session {
	return newSession("", d, opts...)
}

func newSession(path string, d Driver, opts ...Option) *Session {
	s := &Session{
		id:          uuid.NewString(),
		path:        path,
		drv:         d,
		log:         slog.New(slog.DiscardHandler),
		bufferCount: DefaultBufferCount,
		allocator:   defaultAllocator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session_id", s.id)
	if path != "" {
		s.log = s.log.With("device", path)
	}
	return s
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Path returns the device path, or "" for wrapped drivers.
func (s *Session) Path() string { return s.path }

// Logger returns the session's logger.
func (s *Session) Logger() *slog.Logger { return s.log }

func (s *Session) check(op string) error {
	if s.closed {
		return newError(op, KindConfiguration, ErrDeviceClosed)
	}
	return nil
}

// QueryCapabilities asks the driver what the device is. A device that does
// not answer is not a V4L2 device.
func (s *Session) QueryCapabilities() (Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCapabilities()
}

func (s *Session) queryCapabilities() (Capability, error) {
	if err := s.check("query capabilities"); err != nil {
		return Capability{}, err
	}
	if s.caps != nil {
		return *s.caps, nil
	}
	c, err := s.drv.QueryCapability()
	if err != nil {
		return Capability{}, newError("query capabilities", KindConfiguration, wrapErrno(ErrNotV4L2Device, err))
	}
	s.caps = &c
	s.log.Debug("capabilities",
		"driver", c.Driver,
		"card", c.Card,
		"bus", c.BusInfo,
		"version", c.VersionString(),
		"caps", c.Names())
	return c, nil
}

// CheckCapabilities verifies that the device can capture video with the
// given method.
func (s *Session) CheckCapabilities(method IOMethod) (Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.queryCapabilities()
	if err != nil {
		return c, err
	}
	const op = "check capabilities"
	if !c.Has(CapVideoCapture) {
		return c, newError(op, KindConfiguration, ErrNotCaptureDevice)
	}
	switch method {
	case IORead:
		if !c.Has(CapReadWrite) {
			return c, newError(op, KindConfiguration, ErrReadUnsupported)
		}
	case IOMMap, IOUserPtr:
		if !c.Has(CapStreaming) {
			return c, newError(op, KindConfiguration, ErrStreamingUnsupported)
		}
	default:
		return c, newError(op, KindConfiguration, ErrUnsupportedMode)
	}
	return c, nil
}

// ResetCrop restores the default crop rectangle. Cropping is optional, so
// driver errors are only logged.
func (s *Session) ResetCrop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("reset crop"); err != nil {
		return err
	}

	cc, err := s.drv.CropCapability()
	if err != nil {
		s.log.Debug("crop capability unavailable", "error", err)
		return nil
	}
	if err := s.drv.SetCrop(cc.DefRect); err != nil {
		if errors.Is(err, syscall.EINVAL) {
			s.log.Debug("cropping not supported")
		} else {
			s.log.Debug("reset crop failed", "error", err)
		}
	}
	return nil
}

// NegotiateFormat applies req, or reads the current format when req is nil.
// The driver's answer, corrected for drivers that under-report the stride
// and image size, is returned and becomes the session's format.
func (s *Session) NegotiateFormat(req *FormatRequest) (Format, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "negotiate format"
	if err := s.check(op); err != nil {
		return Format{}, err
	}
	if s.pool != nil {
		return Format{}, newError(op, KindConfiguration, ErrFormatLocked)
	}

	var (
		f   Format
		err error
	)
	if req != nil {
		f, err = s.drv.SetFormat(req.format())
	} else {
		f, err = s.drv.GetFormat()
	}
	if err != nil {
		return Format{}, newError(op, KindConfiguration, wrapErrno(ErrFormatRejected, err))
	}

	reported := f
	f = f.withDriverFloor()
	if f != reported {
		s.log.Debug("driver under-reported frame size",
			"bytesperline", reported.BytesPerLine,
			"sizeimage", reported.SizeImage)
	}
	if req != nil && (f.Width != req.Width || f.Height != req.Height || f.PixelFormat != req.PixelFormat) {
		s.log.Debug("driver adjusted format", "requested", req.format().String(), "got", f.String())
	}

	s.format = f
	s.negotiated = true
	s.log.Debug("format negotiated", "format", f.String())
	return f, nil
}

// Format returns the negotiated format and whether negotiation happened.
func (s *Session) Format() (Format, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format, s.negotiated
}

// EnumFormats lists the pixel formats the device can capture.
func (s *Session) EnumFormats() ([]FormatDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("enumerate formats"); err != nil {
		return nil, err
	}
	return enumerate("enumerate formats", s.drv.EnumFormat)
}

// EnumFrameSizes lists the frame sizes supported for pf.
func (s *Session) EnumFrameSizes(pf FourCC) ([]FrameSize, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("enumerate frame sizes"); err != nil {
		return nil, err
	}
	return enumerate("enumerate frame sizes", func(i uint32) (FrameSize, error) {
		return s.drv.EnumFrameSize(pf, i)
	})
}

// EnumFrameIntervals lists the frame intervals supported for pf at the
// given size.
func (s *Session) EnumFrameIntervals(pf FourCC, width, height uint32) ([]FrameInterval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("enumerate frame intervals"); err != nil {
		return nil, err
	}
	return enumerate("enumerate frame intervals", func(i uint32) (FrameInterval, error) {
		return s.drv.EnumFrameInterval(pf, width, height, i)
	})
}

// enumerate walks a driver enumeration until it reports EINVAL. Drivers
// that do not implement the enumeration at all yield an empty list.
func enumerate[T any](op string, fn func(index uint32) (T, error)) ([]T, error) {
	var out []T
	for i := uint32(0); ; i++ {
		v, err := fn(i)
		if err != nil {
			if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
				return out, nil
			}
			return out, newError(op, KindIO, err)
		}
		out = append(out, v)
	}
}

// NewBufferPool sets up buffers for method, sized to the negotiated format.
// A session holds at most one pool; it must be released before another is
// created or the format is renegotiated.
func (s *Session) NewBufferPool(method IOMethod) (*BufferPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "new buffer pool"
	if err := s.check(op); err != nil {
		return nil, err
	}
	if !s.negotiated {
		return nil, newError(op, KindConfiguration, ErrFormatNotNegotiated)
	}
	if s.pool != nil {
		return nil, newError(op, KindConfiguration, ErrPoolActive)
	}

	p, err := newBufferPool(s, method)
	if err != nil {
		return nil, err
	}
	s.pool = p
	return p, nil
}

func (s *Session) detach(p *BufferPool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == p {
		s.pool = nil
	}
}

// Close stops streaming, releases the buffer pool and closes the device.
// It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pool := s.pool
	s.mu.Unlock()

	var errs []error
	if pool != nil {
		if err := pool.teardown(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.drv.Close(); err != nil {
		errs = append(errs, newError("close", KindIO, err))
	}
	s.log.Debug("device closed")
	return errors.Join(errs...)
}
