package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kevmo314/go-v4l2"
	"github.com/kevmo314/go-v4l2/internal/config"
	"github.com/kevmo314/go-v4l2/internal/logging"
	"github.com/kevmo314/go-v4l2/internal/sink"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newCaptureCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "capture",
		Short: "Grab frames from one or more devices",
		Long: `Stream frames from each device until the frame count is reached or the
command is interrupted. Every device runs its own pipeline.

Frames can be written raw to stdout (-o), sent as RTP over UDP (--rtp) and
are acknowledged with a dot on stderr.`,
		Example: `  v4l2cap capture -d /dev/video0 -c 100 -o > frames.yuyv
  v4l2cap capture -d /dev/video0 -d /dev/video2 -u --rtp 127.0.0.1:5004`,
		Args: noArgs,
		RunE: runCapture,
	}

	flags := c.Flags()
	flags.StringArrayP("device", "d", nil, "video device (repeatable) [/dev/video0]")
	flags.BoolP("mmap", "m", false, "use memory mapped buffers [default]")
	flags.BoolP("read", "r", false, "use read() calls")
	flags.BoolP("userp", "u", false, "use application allocated buffers")
	flags.BoolP("output", "o", false, "write raw frames to stdout")
	flags.BoolP("format", "f", false, "force the configured format [640x480 YUYV]")
	flags.Uint64P("count", "c", 0, "number of frames to grab, 0 = until interrupted")
	flags.String("pixel-format", "", "FourCC forced with -f, e.g. YUYV or MJPG")
	flags.Int("buffers", 0, "driver buffers for mmap and userptr")
	flags.Duration("timeout", 0, "wait bound per frame")
	flags.Int("max-timeouts", 0, "consecutive timeouts tolerated before giving up")
	flags.String("rtp", "", "send frames as RTP to host:port")
	flags.Bool("progress", true, "print a dot on stderr per frame")

	bindFlags(flags, map[string]string{
		"capture.devices":      "device",
		"capture.force_format": "format",
		"capture.count":        "count",
		"capture.pixel_format": "pixel-format",
		"capture.buffers":      "buffers",
		"capture.timeout":      "timeout",
		"capture.max_timeouts": "max-timeouts",
		"sink.stdout":          "output",
		"sink.rtp":             "rtp",
		"sink.progress":        "progress",
	})
	return c
}

// ioMethodFlag resolves -m, -r and -u into capture.io_method. At most one
// may be given.
func ioMethodFlag(cmd *cobra.Command) error {
	var chosen []string
	for _, name := range []string{"mmap", "read", "userp"} {
		if on, _ := cmd.Flags().GetBool(name); on {
			chosen = append(chosen, name)
		}
	}
	switch len(chosen) {
	case 0:
		return nil
	case 1:
		method, err := v4l2.ParseIOMethod(chosen[0])
		if err != nil {
			return usageError{err}
		}
		viper.Set("capture.io_method", method.String())
		return nil
	default:
		return usageError{fmt.Errorf("--%s and --%s cannot be combined", chosen[0], chosen[1])}
	}
}

func runCapture(cmd *cobra.Command, args []string) error {
	if err := ioMethodFlag(cmd); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return capture(ctx, cfg, log, cmd.OutOrStdout(), cmd.ErrOrStderr(), v4l2.Run)
}

// runFunc is the per-device pipeline, v4l2.Run outside of tests.
type runFunc func(ctx context.Context, path string, cfg v4l2.Config, h v4l2.FrameHandler) (v4l2.Stats, error)

// capture runs one pipeline per configured device. The first failing
// pipeline cancels the others.
func capture(ctx context.Context, cfg *config.Config, log *logging.Logger, stdout, stderr io.Writer, run runFunc) (err error) {
	pc, err := cfg.CaptureConfig(log.Slog())
	if err != nil {
		return usageError{err}
	}

	var shared []sink.Sink
	if cfg.Sink.Stdout {
		bw := bufio.NewWriterSize(stdout, 1<<20)
		shared = append(shared, sink.NewWriter(bw))
	}
	if cfg.Sink.Progress {
		shared = append(shared, sink.NewProgress(stderr, log.WithComponent("progress").Slog()))
	}
	defer func() {
		if cerr := sink.Multi(shared...).Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	// All sinks are dialed before any pipeline starts.
	outs := make([]sink.Sink, len(cfg.Capture.Devices))
	for i, dev := range cfg.Capture.Devices {
		sinks := append([]sink.Sink(nil), shared...)
		if cfg.Sink.RTP != "" {
			rtpSink, err := sink.DialRTP(cfg.Sink.RTP, sink.RTPOptions{
				PayloadType: cfg.Sink.RTPPayloadType,
				MTU:         cfg.Sink.RTPMTU,
			})
			if err != nil {
				return usageError{err}
			}
			log.WithDevice(dev).Info("sending rtp", "addr", cfg.Sink.RTP, "ssrc", rtpSink.SSRC())
			defer rtpSink.Close()
			sinks = append(sinks, rtpSink)
		}
		outs[i] = sink.Multi(sinks...)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, dev := range cfg.Capture.Devices {
		dlog := log.WithDevice(dev)
		out := outs[i]

		g.Go(func() error {
			dlog.Info("capture starting", "io", pc.Method, "count", pc.FrameBudget)
			stats, err := run(gctx, dev, pc, sink.Handler(out))
			dlog.Info("capture finished",
				"frames", stats.Frames,
				"bytes", stats.Bytes,
				"fps", fmt.Sprintf("%.1f", stats.FPS()),
				"timeouts", stats.Timeouts,
				"empty_polls", stats.EmptyPolls,
				"transient_errors", stats.TransientErrors,
				"canceled", stats.Canceled)
			if err != nil {
				dlog.Error("capture failed", "error", err, "kind", v4l2.KindOf(err))
				return fmt.Errorf("%s: %w", dev, err)
			}
			return nil
		})
	}
	return g.Wait()
}
