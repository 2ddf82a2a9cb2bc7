package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"greensched/internal/app"
)

const shutdownTimeout = time.Minute

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}
}

func run(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(path)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := a.Start(runCtx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	sdNotify(daemon.SdNotifyReady)
	go watchdog(runCtx)

	reason := app.StopAppStop
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-ctx.Done():
	}
	sdNotify(daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

// sdNotify is a no-op outside systemd.
func sdNotify(state string) {
	_, _ = daemon.SdNotify(false, state)
}

// watchdog pings systemd at half the configured WatchdogSec.
func watchdog(ctx context.Context) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sdNotify(daemon.SdNotifyWatchdog)
		}
	}
}
