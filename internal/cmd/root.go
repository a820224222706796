// Package cmd implements the v4l2cap command line.
package cmd

import (
	"fmt"
	"strings"

	"github.com/kevmo314/go-v4l2/internal/config"
	"github.com/kevmo314/go-v4l2/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// NewRootCmd builds the v4l2cap command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "v4l2cap",
		Short: "Capture raw frames from Video4Linux2 devices",
		Long: `v4l2cap grabs raw frames from V4L2 capture devices using read(2),
driver mapped buffers or user pointer buffers, and hands them to stdout,
an RTP stream or a progress meter.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initConfig()
			return nil
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.config/v4l2cap/config.yaml)")
	flags.BoolP("verbose", "v", false, "log pipeline diagnostics")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("log-dir", "", "write logs to DIR/v4l2cap.log instead of stderr")
	bindFlags(flags, map[string]string{
		"config":         "config",
		"verbose":        "verbose",
		"logging.level":  "log-level",
		"logging.format": "log-format",
		"logging.dir":    "log-dir",
	})

	root.AddCommand(
		newCaptureCmd(),
		newInfoCmd(),
		newDevicesCmd(),
		newVersionCmd(),
	)
	return root
}

// bindFlags binds viper keys to the named flags of fs.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	// e.g., V4L2CAP_CAPTURE_IO_METHOD for capture.io_method
	config.BindEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadConfig reads and validates the merged configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, usageError{err}
	}
	if viper.GetBool("verbose") {
		cfg.Logging.Level = logging.LevelDebug
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}
	return cfg, nil
}

// newLogger builds the command's logger. Without a log directory it writes
// to the command's stderr.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*logging.Logger, error) {
	if cfg.Logging.Dir != "" {
		return logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level, cfg.Logging.Format)
	}
	return logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, strings.ToLower(cfg.Logging.Format)), nil
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageError{fmt.Errorf("%s takes no arguments, got %q", cmd.CommandPath(), args[0])}
	}
	return nil
}

func maxOneArg(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return usageError{fmt.Errorf("%s takes at most one device, got %d", cmd.CommandPath(), len(args))}
	}
	return nil
}
