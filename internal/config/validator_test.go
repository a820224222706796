package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no devices", func(c *Config) { c.Capture.Devices = nil }, "capture.devices"},
		{"relative device", func(c *Config) { c.Capture.Devices = []string{"video0"} }, "capture.devices"},
		{"duplicate device", func(c *Config) { c.Capture.Devices = []string{"/dev/video0", "/dev//video0"} }, "capture.devices"},
		{"unknown io method", func(c *Config) { c.Capture.IOMethod = "dmabuf" }, "capture.io_method"},
		{"zero width when forcing", func(c *Config) { c.Capture.ForceFormat = true; c.Capture.Width = 0 }, "capture.width"},
		{"bad fourcc when forcing", func(c *Config) { c.Capture.ForceFormat = true; c.Capture.PixelFormat = "TOOLONG" }, "capture.pixel_format"},
		{"bad field when forcing", func(c *Config) { c.Capture.ForceFormat = true; c.Capture.Field = "diagonal" }, "capture.field"},
		{"one buffer", func(c *Config) { c.Capture.Buffers = 1 }, "capture.buffers"},
		{"too many buffers", func(c *Config) { c.Capture.Buffers = 64 }, "capture.buffers"},
		{"tiny timeout", func(c *Config) { c.Capture.Timeout = time.Millisecond }, "capture.timeout"},
		{"huge timeout", func(c *Config) { c.Capture.Timeout = time.Hour }, "capture.timeout"},
		{"negative max timeouts", func(c *Config) { c.Capture.MaxTimeouts = -1 }, "capture.max_timeouts"},
		{"stdout with two devices", func(c *Config) {
			c.Sink.Stdout = true
			c.Capture.Devices = []string{"/dev/video0", "/dev/video2"}
		}, "sink.stdout"},
		{"rtp without port", func(c *Config) { c.Sink.RTP = "localhost" }, "sink.rtp"},
		{"rtp without host", func(c *Config) { c.Sink.RTP = ":5004" }, "sink.rtp"},
		{"rtp bad port", func(c *Config) { c.Sink.RTP = "localhost:99999" }, "sink.rtp"},
		{"static payload type", func(c *Config) { c.Sink.RTPPayloadType = 26 }, "sink.rtp_payload_type"},
		{"tiny mtu", func(c *Config) { c.Sink.RTPMTU = 12 }, "sink.rtp_mtu"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			require.Len(t, errs, 1, "%v", errs)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestValidateAcceptsVariants(t *testing.T) {
	cfg := Default()
	cfg.Capture.Devices = []string{"/dev/video0", "/dev/v4l/by-id/usb-cam-video-index0"}
	cfg.Capture.IOMethod = "read"
	cfg.Capture.ForceFormat = true
	cfg.Sink.RTP = "[::1]:5004"
	cfg.Logging.Level = "DEBUG"
	cfg.Logging.Format = "json"

	assert.Empty(t, cfg.Validate())
}

func TestValidationErrors(t *testing.T) {
	assert.Empty(t, ValidationErrors(nil).Error())

	one := ValidationErrors{{Field: "capture.buffers", Value: 1, Message: "must be between 2 and 32"}}
	assert.Equal(t, "capture.buffers: must be between 2 and 32 (got: 1)", one.Error())

	cfg := Default()
	cfg.Capture.Buffers = 0
	cfg.Logging.Level = "loud"
	many := ValidationErrors(cfg.Validate())
	require.Len(t, many, 2)
	msg := many.Error()
	assert.True(t, strings.HasPrefix(msg, "2 validation errors:"), msg)
	assert.Contains(t, msg, "1. capture.buffers")
	assert.Contains(t, msg, "2. logging.level")
}
