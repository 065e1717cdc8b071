package platform

import (
	"context"
	"os/signal"
)

// NewShutdownContext returns a context cancelled when the process receives a shutdown signal
func NewShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, shutdownSignals...)
}
