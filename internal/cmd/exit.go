package cmd

import (
	"errors"

	"github.com/kevmo314/go-v4l2"
	"github.com/kevmo314/go-v4l2/internal/config"
)

// Exit statuses
const (
	ExitOK      = 0
	ExitFailure = 1
	// ExitUsage reports bad flags, bad configuration or a device that cannot
	// do what was asked. Nothing was captured.
	ExitUsage = 2
)

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ue usageError
	var ve config.ValidationErrors
	if errors.As(err, &ue) || errors.As(err, &ve) || v4l2.KindOf(err) == v4l2.KindConfiguration {
		return ExitUsage
	}
	return ExitFailure
}
