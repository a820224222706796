package v4l2

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind classifies an error by how the pipeline must react to it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration covers bad paths, unsupported devices or strategies
	// and rejected formats. Always reported before streaming begins.
	KindConfiguration
	// KindResource covers allocation and mapping failures.
	KindResource
	// KindTransient covers would-block and interrupted calls. The capture
	// loop recovers from these internally.
	KindTransient
	// KindProtocol means the pipeline's contract with the driver broke:
	// unknown dequeued buffer, rejected requeue, rejected stream control.
	KindProtocol
	// KindWatchdog means the bounded wait expired with no data.
	KindWatchdog
	// KindIO is any other steady-state I/O failure.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindResource:
		return "resource"
	case KindTransient:
		return "transient"
	case KindProtocol:
		return "protocol"
	case KindWatchdog:
		return "watchdog"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Device errors
var (
	ErrDeviceNotFound       = errors.New("device not found")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrNotCharDevice        = errors.New("not a character device")
	ErrNotV4L2Device        = errors.New("not a V4L2 device")
	ErrNotCaptureDevice     = errors.New("not a video capture device")
	ErrStreamingUnsupported = errors.New("streaming i/o not supported")
	ErrReadUnsupported      = errors.New("read i/o not supported")
	ErrDeviceClosed         = errors.New("device closed")
	ErrNotSupported         = errors.New("not supported on this platform")
)

// Format errors
var (
	ErrFormatRejected      = errors.New("format rejected")
	ErrFormatLocked        = errors.New("format locked while buffers are allocated")
	ErrFormatNotNegotiated = errors.New("format not negotiated")
)

// Buffer pool errors
var (
	ErrUnsupportedMode     = errors.New("buffer strategy not supported")
	ErrInsufficientBuffers = errors.New("insufficient buffer memory")
	ErrAllocationFailed    = errors.New("buffer allocation failed")
	ErrMapFailed           = errors.New("buffer mapping failed")
	ErrPoolActive          = errors.New("buffer pool already active")
	ErrBuffersBusy         = errors.New("buffers owned by driver")
	ErrReleased            = errors.New("buffer pool already released")
)

// Streaming errors
var (
	ErrInvalidTransition = errors.New("invalid stream state transition")
	ErrControllerExists  = errors.New("stream controller already attached")
	ErrStreamControl     = errors.New("stream control rejected")
	ErrQueue             = errors.New("buffer enqueue rejected")
	ErrRequeue           = errors.New("buffer requeue rejected")
	ErrUnknownBuffer     = errors.New("dequeued buffer matches no pool entry")
	ErrNotStreaming      = errors.New("device not streaming")
	ErrWatchdogTimeout   = errors.New("timed out waiting for frame")
	ErrNilHandler        = errors.New("nil frame handler")
	ErrLoopRunning       = errors.New("capture loop already running")
)

// Error is returned by every fallible pipeline operation. Err wraps one of
// the sentinel errors above and, where there is one, the OS error code.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// wrapErrno joins a sentinel with the errno that caused it so both match
// with errors.Is.
func wrapErrno(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// KindOf reports the classification of err. Bare would-block and
// interrupted errnos are transient even when not wrapped in an *Error.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if isTransient(err) {
		return KindTransient
	}
	return KindUnknown
}

// IsRetryable reports whether err is a transient condition the caller may
// simply retry.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	return err != nil && !IsRetryable(err)
}

func isTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR)
}
