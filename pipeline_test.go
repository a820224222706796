package v4l2

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSession(t *testing.T) {
	drv := newMockDriver()
	s := NewSession(drv)
	req := DefaultFormatRequest()

	frames := 0
	stats, err := RunSession(context.Background(), s, Config{
		Method:      IOMMap,
		Format:      &req,
		FrameBudget: 3,
		Timeout:     time.Second,
	}, func(f Frame) error {
		frames++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, frames)
	assert.Equal(t, uint64(3), stats.Frames)

	want := []string{"querycap", "cropcap", "s_crop", "s_fmt", "reqbufs 4"}
	assert.Equal(t, want, drv.calls[:len(want)])
	assert.Equal(t, []string{"streamoff", "reqbufs 0"}, drv.calls[len(drv.calls)-2:])
	assert.Zero(t, drv.closed, "RunSession leaves the session open")

	// the session can run again
	_, err = RunSession(context.Background(), s, Config{Method: IOMMap, FrameBudget: 1},
		func(Frame) error { return nil })
	require.NoError(t, err)
}

func TestRunSessionUsesSessionOptions(t *testing.T) {
	drv := newMockDriver()
	sessionAlloc := &countingAllocator{}
	s := NewSession(drv, WithAllocator(sessionAlloc), WithBufferCount(3))

	cfgAlloc := &countingAllocator{}
	_, err := RunSession(context.Background(), s, Config{
		Method:      IOUserPtr,
		FrameBudget: 1,
		BufferCount: 8,
		Allocator:   cfgAlloc,
	}, func(Frame) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, 3, sessionAlloc.allocs)
	assert.Equal(t, 3, sessionAlloc.frees)
	assert.Zero(t, cfgAlloc.allocs)
	assert.Equal(t, []uint32{3, 0}, drv.reqbufsSeen)
}

func TestRunSessionTearsDownOnError(t *testing.T) {
	drv := newMockDriver()
	drv.dqScript = []dqStep{{}, {err: syscall.ENODEV}}
	s := NewSession(drv)

	stats, err := RunSession(context.Background(), s, Config{Method: IOMMap}, func(Frame) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.ENODEV)
	assert.Equal(t, uint64(1), stats.Frames)
	assert.Equal(t, []string{"streamoff", "reqbufs 0"}, drv.calls[len(drv.calls)-2:])
	assert.Equal(t, drv.maps, drv.unmaps)
}

func TestRunSessionStartFailure(t *testing.T) {
	drv := newMockDriver()
	drv.streamOnErr = syscall.EBUSY
	s := NewSession(drv)

	_, err := RunSession(context.Background(), s, Config{Method: IOMMap}, func(Frame) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamControl)
	assert.Equal(t, KindProtocol, KindOf(err))
	assert.Contains(t, drv.calls, "streamoff")
	assert.Equal(t, 4, drv.unmaps)
}

func TestRunSessionStopFailureKeepsBuffers(t *testing.T) {
	drv := newMockDriver()
	drv.streamOffErr = syscall.EIO
	s := NewSession(drv)

	_, err := RunSession(context.Background(), s, Config{Method: IOMMap, FrameBudget: 1}, func(Frame) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamControl)
	assert.ErrorIs(t, err, ErrBuffersBusy)
	assert.Zero(t, drv.unmaps)
}

func TestRunSessionCapabilityMismatch(t *testing.T) {
	drv := newMockDriver()
	drv.caps.Capabilities = CapVideoCapture | CapStreaming
	s := NewSession(drv)

	_, err := RunSession(context.Background(), s, Config{Method: IORead}, func(Frame) error { return nil })
	assert.ErrorIs(t, err, ErrReadUnsupported)
	assert.Empty(t, drv.reqbufsSeen)
}

func TestRunSessionHandlerError(t *testing.T) {
	drv := newMockDriver()
	s := NewSession(drv)
	errSink := errors.New("sink closed")

	_, err := RunSession(context.Background(), s, Config{Method: IOMMap}, func(Frame) error { return errSink })
	assert.ErrorIs(t, err, errSink)
	assert.False(t, drv.streaming)
}

func TestRunSessionCanceled(t *testing.T) {
	drv := newMockDriver()
	s := NewSession(drv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := RunSession(ctx, s, Config{Method: IOMMap}, func(Frame) error { return nil })
	require.NoError(t, err)
	assert.True(t, stats.Canceled)
	assert.Zero(t, stats.Frames)
}
