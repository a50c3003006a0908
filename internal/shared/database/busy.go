package database

import (
	"context"
	stderrors "errors"
	"time"

	"quietend-server/internal/shared/errors"
)

// WithBusyTimeout derives a context bounded by the configured read timeout.
// Queries that exceed it surface as ErrorTypeStoreBusy via MapBusy, which
// background tasks treat as skip-and-retry-next-cycle.
func WithBusyTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// MapBusy converts a context deadline error into a store-busy error and
// passes every other error through unchanged.
func MapBusy(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.WrapStoreBusy("store read timed out", err)
	}
	return err
}
