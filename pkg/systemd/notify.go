// Package systemd reports daemon state to a supervising systemd unit over
// the sd_notify socket. Every call is a no-op outside systemd (no
// NOTIFY_SOCKET in the environment), so callers never need to branch on
// how the process was launched.
package systemd

import (
	"context"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady signals Type=notify units that startup finished. The bool is
// false when not running under systemd.
func NotifyReady() (bool, error) {
	return sd.SdNotify(false, sd.SdNotifyReady)
}

// NotifyStopping signals that an orderly shutdown has begun.
func NotifyStopping() (bool, error) {
	return sd.SdNotify(false, sd.SdNotifyStopping)
}

// WatchdogInterval reports the keepalive interval requested via WatchdogSec,
// zero when no watchdog is armed.
func WatchdogInterval() (time.Duration, error) {
	return sd.SdWatchdogEnabled(false)
}

// RunWatchdog pings the systemd watchdog at half the configured interval
// until ctx ends. It returns immediately when no watchdog is armed, so it is
// safe to run unconditionally.
func RunWatchdog(ctx context.Context) error {
	interval, err := WatchdogInterval()
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = sd.SdNotify(false, sd.SdNotifyWatchdog)
		}
	}
}
