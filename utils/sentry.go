package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry configures the global hub. The caller must defer FlushSentry.
func InitSentry(dsn, environment, version string) error {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          "marketing-analytics@" + version,
		TracesSampleRate: 0.2,
	})

	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	return nil
}

// FlushSentry waits for buffered events before the program terminates.
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

func CaptureError(err error, extras map[string]interface{}) {
	captureOn(sentry.CurrentHub(), err, extras)
}

// CaptureErrorContext reports err on the hub carried by ctx, so the event
// keeps the request scope and transaction. Without one it falls back to
// the current hub.
func CaptureErrorContext(ctx context.Context, err error, extras map[string]interface{}) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	captureOn(hub, err, extras)
}

func captureOn(hub *sentry.Hub, err error, extras map[string]interface{}) {
	if hub == nil {
		return
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		hub.CaptureException(err)
	})
}
