// Package main implements the batchsync command. batchsync rebuilds
// batch_synced events from the legacy ad storage tree, caches them and
// republishes them to NATS.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/c360/batchsync/errors"
)

// Build information
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "batchsync"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(3)
		}
	}()

	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for invalid flags or configuration and 1 for everything else
func exitCode(err error) int {
	if errors.Classify(err) == errors.ErrorInvalid {
		return 2
	}
	return 1
}
