package v4l2

import (
	"fmt"
	"log/slog"
	"sync"
)

// StreamState is the lifecycle position of a StreamController.
type StreamState int

const (
	StateIdle StreamState = iota
	StateBuffersPrepared
	StateStreaming
	StateStopped
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffersPrepared:
		return "buffers-prepared"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StreamController drives one buffer pool through
// Idle -> BuffersPrepared -> Streaming -> Stopped. A stopped controller may
// be prepared again.
type StreamController struct {
	pool *BufferPool
	drv  Driver
	log  *slog.Logger

	mu    sync.Mutex
	state StreamState
}

// NewStreamController attaches a controller to pool. A pool accepts one
// controller.
func NewStreamController(pool *BufferPool) (*StreamController, error) {
	c := &StreamController{
		pool:  pool,
		drv:   pool.drv,
		log:   pool.log,
		state: StateIdle,
	}
	if err := pool.attach(c); err != nil {
		return nil, err
	}
	return c, nil
}

// State returns the current state.
func (c *StreamController) State() StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pool returns the controlled buffer pool.
func (c *StreamController) Pool() *BufferPool { return c.pool }

func (c *StreamController) transition(op string, to StreamState) error {
	return newError(op, KindConfiguration,
		fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to))
}

// Prepare hands every buffer to the driver. If the driver rejects one, the
// controller still moves to BuffersPrepared so that Stop reclaims the
// buffers already queued.
func (c *StreamController) Prepare() error {
	const op = "prepare buffers"
	if c.pool.Released() {
		return newError(op, KindConfiguration, ErrReleased)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle && c.state != StateStopped {
		return c.transition(op, StateBuffersPrepared)
	}

	n, err := c.pool.strat.enqueueAll(c.drv)
	c.state = StateBuffersPrepared
	if err != nil {
		return newError(op, KindProtocol, fmt.Errorf("%w: buffer %d: %w", ErrQueue, n, err))
	}
	c.log.Debug("buffers queued", "count", n)
	return nil
}

// Start turns the stream on.
func (c *StreamController) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	const op = "stream on"
	if c.state != StateBuffersPrepared {
		return c.transition(op, StateStreaming)
	}
	if c.pool.Method() != IORead {
		if err := c.drv.StreamOn(); err != nil {
			return newError(op, KindProtocol, wrapErrno(ErrStreamControl, err))
		}
	}
	c.state = StateStreaming
	c.log.Debug("streaming started")
	return nil
}

// Stop turns the stream off, which returns every queued buffer to the
// process. Stopping an idle or stopped controller does nothing.
func (c *StreamController) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle, StateStopped:
		return nil
	case StateBuffersPrepared, StateStreaming:
	default:
		return c.transition("stream off", StateStopped)
	}
	if c.pool.Method() != IORead {
		if err := c.drv.StreamOff(); err != nil {
			return newError("stream off", KindProtocol, wrapErrno(ErrStreamControl, err))
		}
	}
	c.state = StateStopped
	c.log.Debug("streaming stopped")
	return nil
}
