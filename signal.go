package main

import (
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// canceler is anything a first interrupt should stop cooperatively.
type canceler interface {
	Cancel()
}

// cancelOnSignal calls target.Cancel on the first SIGINT/SIGTERM and
// force-exits on the second. In-flight items finish after the first signal;
// the second is for when something hangs. The returned stop func releases
// the handler and is safe to call more than once.
func cancelOnSignal(target canceler, logger *slog.Logger) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, cancelling batch",
				slog.String("signal", sig.String()),
			)
			target.Cancel()
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

	return func() {
		once.Do(func() { close(done) })
	}
}
