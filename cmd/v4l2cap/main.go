package main

import (
	"fmt"
	"os"

	"github.com/kevmo314/go-v4l2/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "v4l2cap:", err)
		os.Exit(cmd.ExitCode(err))
	}
}
