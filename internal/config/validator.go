package config

import (
	"fmt"
	"net"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kevmo314/go-v4l2"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "capture.io_method")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log formats
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// ValidIOMethods returns the list of valid io methods
func ValidIOMethods() []string {
	return []string{v4l2.IOMMap.String(), v4l2.IORead.String(), v4l2.IOUserPtr.String()}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateDevices()...)
	errors = append(errors, c.validateCapture()...)
	errors = append(errors, c.validateSink()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateDevices validates the device list
func (c *Config) validateDevices() []ValidationError {
	var errors []ValidationError

	if len(c.Capture.Devices) == 0 {
		errors = append(errors, ValidationError{
			Field:   "capture.devices",
			Value:   c.Capture.Devices,
			Message: "at least one device is required",
		})
	}

	seen := make(map[string]bool, len(c.Capture.Devices))
	for _, dev := range c.Capture.Devices {
		if !filepath.IsAbs(dev) {
			errors = append(errors, ValidationError{
				Field:   "capture.devices",
				Value:   dev,
				Message: "must be an absolute path",
			})
			continue
		}
		clean := filepath.Clean(dev)
		if seen[clean] {
			errors = append(errors, ValidationError{
				Field:   "capture.devices",
				Value:   dev,
				Message: "listed more than once",
			})
		}
		seen[clean] = true
	}

	return errors
}

// validateCapture validates the CaptureConfig
func (c *Config) validateCapture() []ValidationError {
	var errors []ValidationError

	if _, err := c.Capture.Method(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "capture.io_method",
			Value:   c.Capture.IOMethod,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidIOMethods(), ", ")),
		})
	}

	if c.Capture.ForceFormat {
		if c.Capture.Width == 0 || c.Capture.Height == 0 {
			errors = append(errors, ValidationError{
				Field:   "capture.width",
				Value:   fmt.Sprintf("%dx%d", c.Capture.Width, c.Capture.Height),
				Message: "width and height must be positive when forcing a format",
			})
		}
		if _, err := v4l2.ParseFourCC(c.Capture.PixelFormat); err != nil {
			errors = append(errors, ValidationError{
				Field:   "capture.pixel_format",
				Value:   c.Capture.PixelFormat,
				Message: "must be a FourCC of at most four characters",
			})
		}
		if _, err := v4l2.ParseField(c.Capture.Field); err != nil {
			errors = append(errors, ValidationError{
				Field:   "capture.field",
				Value:   c.Capture.Field,
				Message: "unknown field order",
			})
		}
	}

	// The driver needs two buffers to stream; more than 32 is never granted.
	const minBuffers = 2
	const maxBuffers = 32
	if c.Capture.Buffers < minBuffers || c.Capture.Buffers > maxBuffers {
		errors = append(errors, ValidationError{
			Field:   "capture.buffers",
			Value:   c.Capture.Buffers,
			Message: fmt.Sprintf("must be between %d and %d", minBuffers, maxBuffers),
		})
	}

	const minTimeout = 10 * time.Millisecond
	const maxTimeout = time.Minute
	if c.Capture.Timeout < minTimeout || c.Capture.Timeout > maxTimeout {
		errors = append(errors, ValidationError{
			Field:   "capture.timeout",
			Value:   c.Capture.Timeout,
			Message: fmt.Sprintf("must be between %s and %s", minTimeout, maxTimeout),
		})
	}

	if c.Capture.MaxTimeouts < 0 {
		errors = append(errors, ValidationError{
			Field:   "capture.max_timeouts",
			Value:   c.Capture.MaxTimeouts,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateSink validates the SinkConfig
func (c *Config) validateSink() []ValidationError {
	var errors []ValidationError

	// Raw frames from several devices on one stream cannot be told apart.
	if c.Sink.Stdout && len(c.Capture.Devices) > 1 {
		errors = append(errors, ValidationError{
			Field:   "sink.stdout",
			Value:   len(c.Capture.Devices),
			Message: "cannot write frames of more than one device to stdout",
		})
	}

	if c.Sink.RTP != "" {
		if msg := checkHostPort(c.Sink.RTP); msg != "" {
			errors = append(errors, ValidationError{
				Field:   "sink.rtp",
				Value:   c.Sink.RTP,
				Message: msg,
			})
		}
	}

	// RFC 3551 dynamic range
	if c.Sink.RTPPayloadType < 96 || c.Sink.RTPPayloadType > 127 {
		errors = append(errors, ValidationError{
			Field:   "sink.rtp_payload_type",
			Value:   c.Sink.RTPPayloadType,
			Message: "must be a dynamic payload type (96-127)",
		})
	}

	const minMTU = 64
	const maxMTU = 65507
	if c.Sink.RTPMTU < minMTU || c.Sink.RTPMTU > maxMTU {
		errors = append(errors, ValidationError{
			Field:   "sink.rtp_mtu",
			Value:   c.Sink.RTPMTU,
			Message: fmt.Sprintf("must be between %d and %d", minMTU, maxMTU),
		})
	}

	return errors
}

func checkHostPort(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "must be host:port"
	}
	if host == "" {
		return "host is required"
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "port must be between 1 and 65535"
	}
	return ""
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if !slices.Contains(ValidLogFormats(), strings.ToLower(c.Logging.Format)) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Value:   c.Logging.Format,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogFormats(), ", ")),
		})
	}

	return errors
}
