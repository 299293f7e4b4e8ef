package signalhandler

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"inspectwatch/logging"
)

// SetupHandler returns a context cancelled on the first SIGINT or SIGTERM. A
// second signal exits immediately.
func SetupHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	// Create a channel to receive OS signals
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			logging.LogInfo("Received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case <-sigChan:
			logging.LogWarning("Second signal received, exiting now")
			os.Exit(1)
		case <-parent.Done():
		}
	}()

	return ctx, cancel
}
