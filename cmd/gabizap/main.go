package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// main only owns the process boundary; run does the wiring so it can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errAccessDenied):
		os.Exit(2)
	case errors.Is(err, errUsage):
		os.Exit(64)
	default:
		fmt.Fprintln(os.Stderr, "gabizap:", err)
		os.Exit(1)
	}
}
