package v4l2

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("x"), KindUnknown},
		{"bare eagain", syscall.EAGAIN, KindTransient},
		{"wrapped eintr", fmt.Errorf("dequeue: %w", syscall.EINTR), KindTransient},
		{"typed", newError("op", KindProtocol, ErrRequeue), KindProtocol},
		{"typed wrapped", fmt.Errorf("outer: %w", newError("op", KindWatchdog, ErrWatchdogTimeout)), KindWatchdog},
		{"joined", errors.Join(errors.New("a"), newError("op", KindResource, ErrMapFailed)), KindResource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryableAndFatal(t *testing.T) {
	assert.True(t, IsRetryable(syscall.EAGAIN))
	assert.False(t, IsFatal(syscall.EAGAIN))
	assert.False(t, IsFatal(nil))
	assert.True(t, IsFatal(newError("wait", KindWatchdog, ErrWatchdogTimeout)))
	assert.True(t, IsFatal(newError("open", KindConfiguration, ErrDeviceNotFound)))
}

func TestWrapErrno(t *testing.T) {
	err := newError("request buffers", KindConfiguration, wrapErrno(ErrUnsupportedMode, syscall.EINVAL))

	assert.ErrorIs(t, err, ErrUnsupportedMode)
	assert.ErrorIs(t, err, syscall.EINVAL)
	assert.Equal(t, "request buffers: buffer strategy not supported: invalid argument", err.Error())
	assert.Equal(t, ErrMapFailed, wrapErrno(ErrMapFailed, nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "configuration", KindConfiguration.String())
	assert.Equal(t, "watchdog", KindWatchdog.String())
	assert.Equal(t, "unknown", Kind(42).String())
}
