package v4l2

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(t *testing.T, drv *mockDriver, method IOMethod) *StreamController {
	t.Helper()
	s := negotiatedSession(t, drv, WithAllocator(&countingAllocator{}))
	pool, err := s.NewBufferPool(method)
	require.NoError(t, err)
	ctrl, err := NewStreamController(pool)
	require.NoError(t, err)
	return ctrl
}

func TestStreamLifecycle(t *testing.T) {
	drv := newMockDriver()
	ctrl := newController(t, drv, IOMMap)
	assert.Equal(t, StateIdle, ctrl.State())

	require.NoError(t, ctrl.Prepare())
	assert.Equal(t, StateBuffersPrepared, ctrl.State())
	assert.Len(t, drv.queued, 4)

	require.NoError(t, ctrl.Start())
	assert.Equal(t, StateStreaming, ctrl.State())
	assert.True(t, drv.streaming)

	require.NoError(t, ctrl.Stop())
	assert.Equal(t, StateStopped, ctrl.State())
	assert.False(t, drv.streaming)

	// a stopped controller can be prepared again
	require.NoError(t, ctrl.Prepare())
	require.NoError(t, ctrl.Start())
	assert.Equal(t, StateStreaming, ctrl.State())
}

func TestStreamInvalidTransitions(t *testing.T) {
	drv := newMockDriver()
	ctrl := newController(t, drv, IOMMap)

	err := ctrl.Start()
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateIdle, ctrl.State())

	require.NoError(t, ctrl.Prepare())
	assert.ErrorIs(t, ctrl.Prepare(), ErrInvalidTransition)

	require.NoError(t, ctrl.Start())
	assert.ErrorIs(t, ctrl.Start(), ErrInvalidTransition)
	assert.ErrorIs(t, ctrl.Prepare(), ErrInvalidTransition)
	assert.Equal(t, StateStreaming, ctrl.State())
}

func TestStreamStopIsNoopWhenIdle(t *testing.T) {
	drv := newMockDriver()
	ctrl := newController(t, drv, IOMMap)

	require.NoError(t, ctrl.Stop())
	assert.Equal(t, StateIdle, ctrl.State())
	assert.NotContains(t, drv.calls, "streamoff")

	require.NoError(t, ctrl.Prepare())
	require.NoError(t, ctrl.Stop())
	require.NoError(t, ctrl.Stop())
	assert.Equal(t, StateStopped, ctrl.State())

	streamoffs := 0
	for _, c := range drv.calls {
		if c == "streamoff" {
			streamoffs++
		}
	}
	assert.Equal(t, 1, streamoffs)
}

func TestStreamStartRejected(t *testing.T) {
	drv := newMockDriver()
	drv.streamOnErr = syscall.EINVAL
	ctrl := newController(t, drv, IOMMap)

	require.NoError(t, ctrl.Prepare())
	err := ctrl.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamControl)
	assert.Equal(t, KindProtocol, KindOf(err))
	assert.Equal(t, StateBuffersPrepared, ctrl.State())

	// teardown still reclaims the queued buffers
	require.NoError(t, ctrl.Stop())
	assert.Equal(t, StateStopped, ctrl.State())
	require.NoError(t, ctrl.Pool().Release())
}

func TestStreamPrepareQueueFailure(t *testing.T) {
	drv := newMockDriver()
	drv.queueErrAt = 3
	drv.queueErr = syscall.EINVAL
	ctrl := newController(t, drv, IOMMap)

	err := ctrl.Prepare()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueue)
	assert.Equal(t, KindProtocol, KindOf(err))
	assert.Equal(t, StateBuffersPrepared, ctrl.State(), "partially queued buffers must be reclaimed by stop")

	require.NoError(t, ctrl.Stop())
	assert.Contains(t, drv.calls, "streamoff")
}

func TestStreamUserPtrQueuesPointers(t *testing.T) {
	drv := newMockDriver()
	ctrl := newController(t, drv, IOUserPtr)

	require.NoError(t, ctrl.Prepare())
	require.Len(t, drv.queued, 4)
	for i, b := range drv.queued {
		assert.Equal(t, MemoryUserPtr, b.Memory)
		assert.Equal(t, regionAddr(ctrl.Pool().Region(i)), b.UserPtr)
		assert.Equal(t, uint32(614400), b.Length)
	}
}

func TestStreamReadSkipsStreamControl(t *testing.T) {
	drv := newMockDriver()
	ctrl := newController(t, drv, IORead)

	require.NoError(t, ctrl.Prepare())
	require.NoError(t, ctrl.Start())
	require.NoError(t, ctrl.Stop())

	assert.NotContains(t, drv.calls, "streamon")
	assert.NotContains(t, drv.calls, "streamoff")
	assert.Empty(t, drv.queued)
}

func TestStreamControllerPerPool(t *testing.T) {
	drv := newMockDriver()
	ctrl := newController(t, drv, IOMMap)

	_, err := NewStreamController(ctrl.Pool())
	assert.ErrorIs(t, err, ErrControllerExists)
}

func TestStreamPrepareAfterRelease(t *testing.T) {
	drv := newMockDriver()
	ctrl := newController(t, drv, IOMMap)
	require.NoError(t, ctrl.Pool().Release())

	assert.ErrorIs(t, ctrl.Prepare(), ErrReleased)
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestStreamStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "buffers-prepared", StateBuffersPrepared.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(9)", StreamState(9).String())
}
