//go:build linux

package jobs

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

func (u *Unit) start(ctx context.Context) error {
	name := unitName(u.Name)
	conn, err := u.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	done := make(chan string, 1)
	if _, err := conn.StartUnitContext(ctx, name, u.mode(), done); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	select {
	case result := <-done:
		return unitResult(name, result)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", name, ctx.Err())
	}
}

func (u *Unit) connect(ctx context.Context) (*dbus.Conn, error) {
	if u.User {
		return dbus.NewUserConnectionContext(ctx)
	}
	return dbus.NewSystemConnectionContext(ctx)
}
