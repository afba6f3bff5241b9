// Package systemd reports service state to the systemd manager over
// sd_notify. Every call is a no-op when the process was not started by a
// Type=notify unit.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

func notify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

func Ready() error     { return notify(daemon.SdNotifyReady) }
func Reloading() error { return notify(daemon.SdNotifyReloading) }
func Stopping() error  { return notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(format string, args ...any) error {
	return notify("STATUS=" + fmt.Sprintf(format, args...))
}

// Watchdog pings the manager at half of WatchdogSec until ctx is done. It
// returns immediately when the unit has no watchdog.
func Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
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
			if err := notify(daemon.SdNotifyWatchdog); err != nil {
				return err
			}
		}
	}
}
