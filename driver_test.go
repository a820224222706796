package v4l2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIOMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    IOMethod
		wantErr bool
	}{
		{"", IOMMap, false},
		{"mmap", IOMMap, false},
		{"MMAP", IOMMap, false},
		{"read", IORead, false},
		{"userptr", IOUserPtr, false},
		{"userp", IOUserPtr, false},
		{"dmabuf", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIOMethod(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) IOMethod {
	t.Helper()
	m, err := ParseIOMethod(s)
	require.NoError(t, err)
	return m
}

func TestCapabilityEffective(t *testing.T) {
	c := Capability{Capabilities: CapVideoCapture | CapStreaming}
	assert.Equal(t, CapVideoCapture|CapStreaming, c.Effective())
	assert.True(t, c.Has(CapVideoCapture|CapStreaming))
	assert.False(t, c.Has(CapReadWrite))

	c = Capability{
		Capabilities: CapVideoCapture | CapVideoOutput | CapStreaming | CapDeviceCaps,
		DeviceCaps:   CapVideoOutput | CapStreaming,
	}
	assert.False(t, c.Has(CapVideoCapture))
	assert.Equal(t, []string{"video-output", "streaming"}, c.Names())
}

func TestCapabilityString(t *testing.T) {
	c := Capability{
		Driver:       "uvcvideo",
		Card:         "Integrated Camera",
		BusInfo:      "usb-0000:00:14.0-8",
		Capabilities: CapVideoCapture | CapStreaming,
	}
	assert.Equal(t, "Integrated Camera (uvcvideo) on usb-0000:00:14.0-8 [video-capture,streaming]", c.String())
}

func TestHeapAllocator(t *testing.T) {
	var a HeapAllocator
	b, err := a.Alloc(4096)
	require.NoError(t, err)
	assert.Len(t, b, 4096)
	assert.NoError(t, a.Free(b))

	_, err = a.Alloc(0)
	assert.Error(t, err)
}
