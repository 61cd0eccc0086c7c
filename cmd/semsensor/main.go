// Package main implements the semsensor command: it validates and runs a
// single sensor, pushing its trigger events to the configured sinks.
package main

import (
	"fmt"
	"os"
	"runtime"
)

// Build information, set with -ldflags.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

const appName = "semsensor"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
