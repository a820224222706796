package v4l2

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config describes one capture run.
type Config struct {
	Method IOMethod
	// Format forces a format. Nil keeps the driver's current one.
	Format      *FormatRequest
	FrameBudget uint64
	Timeout     time.Duration
	MaxTimeouts int

	// BufferCount, Allocator and Logger configure the session Run opens.
	// RunSession uses the options its session was created with instead.
	BufferCount int
	Allocator   Allocator
	Logger      *slog.Logger
}

func (c Config) sessionOptions() []Option {
	var opts []Option
	if c.Logger != nil {
		opts = append(opts, WithLogger(c.Logger))
	}
	if c.BufferCount > 0 {
		opts = append(opts, WithBufferCount(c.BufferCount))
	}
	if c.Allocator != nil {
		opts = append(opts, WithAllocator(c.Allocator))
	}
	return opts
}

func (c Config) loopOptions() []LoopOption {
	return []LoopOption{
		WithTimeout(c.Timeout),
		WithFrameBudget(c.FrameBudget),
		WithMaxTimeouts(c.MaxTimeouts),
	}
}

// Run opens the device at path, captures frames into h as cfg describes and
// tears everything down again, whatever the outcome.
func Run(ctx context.Context, path string, cfg Config, h FrameHandler) (Stats, error) {
	s, err := Open(path, cfg.sessionOptions()...)
	if err != nil {
		return Stats{}, err
	}
	stats, err := RunSession(ctx, s, cfg, h)
	if cerr := s.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return stats, err
}

// RunSession captures from an open session. The session stays open; its
// pool is stopped and released before RunSession returns.
func RunSession(ctx context.Context, s *Session, cfg Config, h FrameHandler) (stats Stats, err error) {
	if _, err := s.CheckCapabilities(cfg.Method); err != nil {
		return stats, err
	}
	if err := s.ResetCrop(); err != nil {
		return stats, err
	}
	if _, err := s.NegotiateFormat(cfg.Format); err != nil {
		return stats, err
	}

	pool, err := s.NewBufferPool(cfg.Method)
	if err != nil {
		return stats, err
	}
	defer func() {
		if rerr := pool.Release(); rerr != nil && !errors.Is(rerr, ErrReleased) {
			err = errors.Join(err, rerr)
		}
	}()

	ctrl, err := NewStreamController(pool)
	if err != nil {
		return stats, err
	}
	defer func() {
		if serr := ctrl.Stop(); serr != nil {
			err = errors.Join(err, serr)
		}
	}()

	if err := ctrl.Prepare(); err != nil {
		return stats, err
	}
	if err := ctrl.Start(); err != nil {
		return stats, err
	}

	loop := NewCaptureLoop(ctrl, cfg.loopOptions()...)
	stats, err = loop.Run(ctx, h)
	s.log.Debug("capture finished",
		"frames", stats.Frames,
		"bytes", stats.Bytes,
		"fps", stats.FPS(),
		"canceled", stats.Canceled)
	return stats, err
}
