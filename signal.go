package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. The first signal aborts the in-flight
// request and lets a download remove its partial file. stop cancels the
// context, releases the signal handler and ends the watcher goroutine; it is
// safe to call more than once.
func shutdownContext(parent context.Context, logger *slog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, canceling request",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-done:
			return
		}
	}()

	var once sync.Once

	stop := func() {
		once.Do(func() {
			close(done)
			cancel()
		})
	}

	return ctx, stop
}
