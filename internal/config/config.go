package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kevmo314/go-v4l2"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// V4L2CAP_CAPTURE_IO_METHOD for capture.io_method.
const EnvPrefix = "V4L2CAP"

// Config represents the complete v4l2cap configuration
type Config struct {
	Capture CaptureConfig `mapstructure:"capture"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CaptureConfig controls how frames are acquired
type CaptureConfig struct {
	// Devices are the capture nodes to read from, one pipeline each (default: ["/dev/video0"])
	Devices []string `mapstructure:"devices"`
	// IOMethod selects the buffer strategy: "mmap", "read" or "userptr" (default: "mmap")
	IOMethod string `mapstructure:"io_method"`
	// ForceFormat applies Width, Height, PixelFormat and Field instead of the driver's current format
	ForceFormat bool   `mapstructure:"force_format"`
	Width       uint32 `mapstructure:"width"`
	Height      uint32 `mapstructure:"height"`
	// PixelFormat is a FourCC name such as "YUYV" or "MJPG"
	PixelFormat string `mapstructure:"pixel_format"`
	// Field is the interlacing order, e.g. "any", "none", "interlaced"
	Field string `mapstructure:"field"`
	// Count is the number of frames to grab, 0 = until interrupted
	Count uint64 `mapstructure:"count"`
	// Buffers is how many driver buffers to request for mmap and userptr (default: 4)
	Buffers int `mapstructure:"buffers"`
	// Timeout bounds the wait for each frame (default: 2s)
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxTimeouts is how many consecutive timeouts are tolerated before giving up (default: 0)
	MaxTimeouts int `mapstructure:"max_timeouts"`
}

// SinkConfig controls where frames go
type SinkConfig struct {
	// Stdout writes every raw frame to standard output
	Stdout bool `mapstructure:"stdout"`
	// RTP sends frames to this host:port over UDP, empty = disabled
	RTP string `mapstructure:"rtp"`
	// RTPPayloadType is the dynamic payload type stamped on RTP packets (default: 96)
	RTPPayloadType uint8 `mapstructure:"rtp_payload_type"`
	// RTPMTU is the maximum packet size including the RTP header (default: 1200)
	RTPMTU int `mapstructure:"rtp_mtu"`
	// Progress prints a dot per frame to stderr (default: true)
	Progress bool `mapstructure:"progress"`
}

// LoggingConfig controls diagnostic output
type LoggingConfig struct {
	// Level is the minimum level logged: debug, info, warn, error (default: "info")
	Level string `mapstructure:"level"`
	// Format is "text" or "json" (default: "text")
	Format string `mapstructure:"format"`
	// Dir, when set, sends logs to {dir}/v4l2cap.log instead of stderr
	Dir string `mapstructure:"dir"`
}

// Default returns a Config with the capture program's defaults
func Default() *Config {
	req := v4l2.DefaultFormatRequest()
	return &Config{
		Capture: CaptureConfig{
			Devices:     []string{v4l2.DevicePath(0)},
			IOMethod:    v4l2.IOMMap.String(),
			Width:       req.Width,
			Height:      req.Height,
			PixelFormat: req.PixelFormat.String(),
			Field:       req.Field.String(),
			Buffers:     v4l2.DefaultBufferCount,
			Timeout:     v4l2.DefaultWaitTimeout,
		},
		Sink: SinkConfig{
			RTPPayloadType: 96,
			RTPMTU:         1200,
			Progress:       true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("capture.devices", defaults.Capture.Devices)
	viper.SetDefault("capture.io_method", defaults.Capture.IOMethod)
	viper.SetDefault("capture.force_format", defaults.Capture.ForceFormat)
	viper.SetDefault("capture.width", defaults.Capture.Width)
	viper.SetDefault("capture.height", defaults.Capture.Height)
	viper.SetDefault("capture.pixel_format", defaults.Capture.PixelFormat)
	viper.SetDefault("capture.field", defaults.Capture.Field)
	viper.SetDefault("capture.count", defaults.Capture.Count)
	viper.SetDefault("capture.buffers", defaults.Capture.Buffers)
	viper.SetDefault("capture.timeout", defaults.Capture.Timeout)
	viper.SetDefault("capture.max_timeouts", defaults.Capture.MaxTimeouts)

	viper.SetDefault("sink.stdout", defaults.Sink.Stdout)
	viper.SetDefault("sink.rtp", defaults.Sink.RTP)
	viper.SetDefault("sink.rtp_payload_type", defaults.Sink.RTPPayloadType)
	viper.SetDefault("sink.rtp_mtu", defaults.Sink.RTPMTU)
	viper.SetDefault("sink.progress", defaults.Sink.Progress)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.format", defaults.Logging.Format)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// BindEnv enables V4L2CAP_* environment overrides. Dots in nested keys become
// underscores, e.g. V4L2CAP_SINK_RTP for sink.rtp.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the configuration from viper
func Load() (*Config, error) {
	cfg := Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "v4l2cap")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "v4l2cap")
}

// ConfigFile returns the default configuration file path
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// FormatRequest returns the forced format, or nil when the driver's current
// format should be kept.
func (c *CaptureConfig) FormatRequest() (*v4l2.FormatRequest, error) {
	if !c.ForceFormat {
		return nil, nil
	}
	pf, err := v4l2.ParseFourCC(c.PixelFormat)
	if err != nil {
		return nil, err
	}
	field, err := v4l2.ParseField(c.Field)
	if err != nil {
		return nil, err
	}
	return &v4l2.FormatRequest{
		Width:       c.Width,
		Height:      c.Height,
		PixelFormat: pf,
		Field:       field,
	}, nil
}

// Method parses IOMethod.
func (c *CaptureConfig) Method() (v4l2.IOMethod, error) {
	return v4l2.ParseIOMethod(strings.TrimSpace(c.IOMethod))
}

// CaptureConfig converts the capture section into a pipeline configuration
// for one device.
func (c *Config) CaptureConfig(log *slog.Logger) (v4l2.Config, error) {
	method, err := c.Capture.Method()
	if err != nil {
		return v4l2.Config{}, err
	}
	req, err := c.Capture.FormatRequest()
	if err != nil {
		return v4l2.Config{}, err
	}
	return v4l2.Config{
		Method:      method,
		Format:      req,
		FrameBudget: c.Capture.Count,
		Timeout:     c.Capture.Timeout,
		MaxTimeouts: c.Capture.MaxTimeouts,
		BufferCount: c.Capture.Buffers,
		Logger:      log,
	}, nil
}
