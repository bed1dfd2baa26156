// Package systemd reports service state to the systemd manager over
// sd_notify. Every call is a no-op when the process was not started by
// systemd (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "deadlined/pkg/logx"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

// Ready tells systemd that startup finished (Type=notify units).
func Ready() (bool, error) { return notify(false, daemon.SdNotifyReady) }

// Stopping tells systemd that shutdown has begun.
func Stopping() (bool, error) { return notify(false, daemon.SdNotifyStopping) }

// Reloading marks a config reload; systemd expects Ready afterwards.
func Reloading() (bool, error) { return notify(false, daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) (bool, error) { return notify(false, "STATUS="+msg) }

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns immediately when WatchdogSec is not set.
func Watchdog(ctx context.Context, log logx.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := notify(false, daemon.SdNotifyWatchdog); err != nil {
				log.Warn("systemd watchdog ping failed", logx.Err(err))
			}
		}
	}
}
