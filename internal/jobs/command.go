package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"greensched/internal/task/scheduler"
)

const maxOutputTail = 4 << 10

// Command runs a program once per execution. It is a blocking invoker: the
// process runs on an engine worker.
type Command struct {
	Args []string
	Dir  string
	Env  map[string]string
}

var _ scheduler.Invoker = (*Command)(nil)

// ParseCommand splits line with shell quoting rules. No shell is involved,
// so pipes and globs are passed through literally.
func ParseCommand(line string) (*Command, error) {
	args, err := shellquote.Split(line)
	if err != nil {
		return nil, fmt.Errorf("command %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil, errors.New("command: empty command line")
	}
	return &Command{Args: args}, nil
}

func (c *Command) Blocking() bool { return true }

func (c *Command) Invoke(ctx context.Context, e scheduler.Execution) <-chan error {
	ch := make(chan error, 1)
	ch <- c.run(ctx, e)
	close(ch)
	return ch
}

func (c *Command) run(ctx context.Context, e scheduler.Execution) error {
	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.environ(e)...)

	var out tailBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if tail := strings.TrimSpace(out.String()); tail != "" {
			return fmt.Errorf("%s: exit code %d: %s", c.Args[0], exitErr.ExitCode(), tail)
		}
		return fmt.Errorf("%s: exit code %d", c.Args[0], exitErr.ExitCode())
	}
	return fmt.Errorf("%s: %w", c.Args[0], err)
}

// environ lists the configured variables followed by the execution's.
func (c *Command) environ(e scheduler.Execution) []string {
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys)+4)
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	env = append(env,
		"GREENSCHED_JOB_ID="+e.JobID,
		"GREENSCHED_EXECUTION_ID="+e.ID,
		"GREENSCHED_FIRE_TIME="+e.FireTime.Format(time.RFC3339),
		"GREENSCHED_SCHEDULED_FIRE_TIME="+e.ScheduledFireTime.Format(time.RFC3339),
	)
	return env
}

func (c *Command) String() string { return shellquote.Join(c.Args...) }

// tailBuffer keeps the last maxOutputTail bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > maxOutputTail {
		p = p[len(p)-maxOutputTail:]
	}
	if over := t.buf.Len() + len(p) - maxOutputTail; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string { return t.buf.String() }
