package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"greensched/internal/task/scheduler"
)

// ErrUnsupported is returned by Unit on platforms without systemd.
var ErrUnsupported = errors.New("systemd: unsupported OS (linux only)")

const defaultUnitMode = "replace"

// Unit starts a systemd unit once per execution and waits for the start job
// to finish. It is a blocking invoker.
type Unit struct {
	Name string
	// Mode is the systemd job mode; "replace" when empty.
	Mode string
	// User selects the per-user service manager.
	User bool
}

var _ scheduler.Invoker = (*Unit)(nil)

func (u *Unit) Blocking() bool { return true }

func (u *Unit) Invoke(ctx context.Context, _ scheduler.Execution) <-chan error {
	ch := make(chan error, 1)
	ch <- u.start(ctx)
	close(ch)
	return ch
}

func (u *Unit) String() string { return "systemd " + unitName(u.Name) }

func (u *Unit) mode() string {
	if m := strings.TrimSpace(u.Mode); m != "" {
		return m
	}
	return defaultUnitMode
}

// unitName adds the .service suffix to bare names.
func unitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

// unitResult maps a systemd job result to an error.
func unitResult(unit, result string) error {
	switch result {
	case "done":
		return nil
	case "":
		return fmt.Errorf("%s: start job ended without a result", unit)
	default:
		return fmt.Errorf("%s: start job %s", unit, result)
	}
}
