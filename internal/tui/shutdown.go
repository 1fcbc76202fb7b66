package tui

import (
	"context"
	"errors"
	"time"
)

// ShutdownManager stops durtop's components in reverse start order.
type ShutdownManager struct {
	// DrainTimeout bounds how long in-flight OTLP requests may take to finish.
	DrainTimeout time.Duration

	// StopReceiver stops the OTLP receivers from accepting new connections.
	StopReceiver func(ctx context.Context) error

	// StopMonitor stops the alarm monitor.
	StopMonitor func()

	// CloseStore flushes pending writes and closes the store.
	CloseStore func() error

	// Cleanup performs any remaining cleanup, such as syncing the logger.
	Cleanup func()
}

// NewShutdownManager creates a ShutdownManager with a 5-second drain timeout.
func NewShutdownManager() *ShutdownManager {
	return &ShutdownManager{
		DrainTimeout: 5 * time.Second,
	}
}

// Shutdown stops the receivers first so no new records arrive, then the
// monitor so no alarms fire into a closing store, then the store. Every step
// runs even when an earlier one fails; the errors are joined.
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.DrainTimeout)
	defer cancel()

	var errs []error

	if sm.StopReceiver != nil {
		if err := sm.StopReceiver(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if sm.StopMonitor != nil {
		sm.StopMonitor()
	}

	if sm.CloseStore != nil {
		if err := sm.CloseStore(); err != nil {
			errs = append(errs, err)
		}
	}

	if sm.Cleanup != nil {
		sm.Cleanup()
	}

	return errors.Join(errs...)
}
