package v4l2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"
	"time"
)

// DefaultWaitTimeout is how long the loop waits for a frame before the
// watchdog fires.
const DefaultWaitTimeout = 2 * time.Second

// Frame is one completed capture. Data aliases pool memory and is only valid
// until the handler returns.
type Frame struct {
	Data      []byte
	Format    Format
	Index     int
	Sequence  uint32
	Timestamp time.Time
}

// FrameHandler consumes frames. A non-nil error ends the capture run after
// the frame's buffer has been requeued.
type FrameHandler func(Frame) error

// Stats summarises a capture run.
type Stats struct {
	Frames          uint64
	Bytes           uint64
	EmptyPolls      uint64
	TransientErrors uint64
	Timeouts        uint64
	Canceled        bool
	Elapsed         time.Duration
}

// FPS returns the average frame rate of the run.
func (s Stats) FPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Frames) / s.Elapsed.Seconds()
}

// LoopOption configures a CaptureLoop.
type LoopOption func(*CaptureLoop)

// WithTimeout sets the per-frame wait bound.
func WithTimeout(d time.Duration) LoopOption {
	return func(l *CaptureLoop) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithFrameBudget stops the loop after n frames. Zero means unbounded.
func WithFrameBudget(n uint64) LoopOption {
	return func(l *CaptureLoop) { l.budget = n }
}

// WithMaxTimeouts tolerates up to n consecutive wait timeouts, logging each,
// before the watchdog fails the run. The default is zero: the first timeout
// is fatal.
func WithMaxTimeouts(n int) LoopOption {
	return func(l *CaptureLoop) {
		if n >= 0 {
			l.maxTimeouts = n
		}
	}
}

// WithLoopLogger overrides the logger inherited from the session.
func WithLoopLogger(log *slog.Logger) LoopOption {
	return func(l *CaptureLoop) {
		if log != nil {
			l.log = log
		}
	}
}

// CaptureLoop waits for, dequeues, delivers and requeues frames until its
// budget is reached, the context ends or a fatal error occurs.
type CaptureLoop struct {
	ctrl        *StreamController
	pool        *BufferPool
	drv         Driver
	log         *slog.Logger
	timeout     time.Duration
	budget      uint64
	maxTimeouts int

	running atomic.Bool
}

// NewCaptureLoop creates a loop over the controller's pool.
func NewCaptureLoop(ctrl *StreamController, opts ...LoopOption) *CaptureLoop {
	l := &CaptureLoop{
		ctrl:    ctrl,
		pool:    ctrl.pool,
		drv:     ctrl.drv,
		log:     ctrl.log,
		timeout: DefaultWaitTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run captures frames, calling h once per frame on the calling goroutine.
// Cancelling ctx is a clean stop: Run returns the stats so far with
// Canceled set and a nil error.
func (l *CaptureLoop) Run(ctx context.Context, h FrameHandler) (stats Stats, err error) {
	if h == nil {
		return stats, newError("capture", KindConfiguration, ErrNilHandler)
	}
	if !l.running.CompareAndSwap(false, true) {
		return stats, newError("capture", KindConfiguration, ErrLoopRunning)
	}
	defer l.running.Store(false)
	if st := l.ctrl.State(); st != StateStreaming {
		return stats, newError("capture", KindConfiguration, fmt.Errorf("%w: stream is %s", ErrNotStreaming, st))
	}

	start := time.Now()
	defer func() { stats.Elapsed = time.Since(start) }()

	format := l.pool.Format()
	timeouts := 0
	for l.budget == 0 || stats.Frames < l.budget {
		if ctx.Err() != nil {
			stats.Canceled = true
			return stats, nil
		}

		ready, err := l.drv.Wait(ctx, l.timeout)
		if err != nil {
			if ctx.Err() != nil {
				stats.Canceled = true
				return stats, nil
			}
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return stats, newError("wait", KindIO, err)
		}
		if !ready {
			stats.Timeouts++
			timeouts++
			if timeouts > l.maxTimeouts {
				return stats, newError("wait", KindWatchdog,
					fmt.Errorf("%w after %s", ErrWatchdogTimeout, l.timeout))
			}
			l.log.Warn("wait timed out", "timeout", l.timeout, "consecutive", timeouts)
			continue
		}
		timeouts = 0

		dq, err := l.pool.strat.dequeue(l.drv)
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN):
				stats.EmptyPolls++
				continue
			case errors.Is(err, syscall.EINTR):
				stats.TransientErrors++
				l.log.Debug("dequeue interrupted", "error", err)
				continue
			}
			var e *Error
			if errors.As(err, &e) {
				return stats, err
			}
			return stats, newError("dequeue", KindIO, err)
		}

		herr := h(Frame{
			Data:      dq.data,
			Format:    format,
			Index:     dq.index,
			Sequence:  dq.buf.Sequence,
			Timestamp: dq.buf.Timestamp,
		})
		stats.Frames++
		stats.Bytes += uint64(len(dq.data))

		if err := l.pool.strat.requeue(l.drv, dq); err != nil {
			rerr := newError("requeue", KindProtocol, fmt.Errorf("%w: buffer %d: %w", ErrRequeue, dq.index, err))
			if herr != nil {
				return stats, errors.Join(fmt.Errorf("frame handler: %w", herr), rerr)
			}
			return stats, rerr
		}
		if herr != nil {
			return stats, fmt.Errorf("frame handler: %w", herr)
		}
	}
	l.log.Debug("frame budget reached", "frames", stats.Frames)
	return stats, nil
}
