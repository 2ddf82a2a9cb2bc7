package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	crerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greensched/internal/task/scheduler"
)

const validConfig = `
scheduler:
  enabled: true
forecast:
  driver: profile
  profile:
    base: 300
    step: 15m
    bands:
      - {from: "02:00", to: "03:00", value: 50}
jobs:
  - id: backup
    fixed_window: "00:00 06:00"
    duration: 30m
    carbon_intensity_zone: NL
    run: log
`

const brokenConfig = `
jobs:
  - id: backup
    duration: 30m
    run: log
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "greensched.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "validate", "--config", writeConfig(t, validConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "ok (1 jobs)")

	out, err = execute(t, "validate", "--config", writeConfig(t, brokenConfig))
	require.ErrorIs(t, err, errInvalid)
	assert.Contains(t, out, "job backup:")
	assert.Contains(t, out, "either fixedWindow or successive must be specified")
	assert.Contains(t, out, "hint:")
}

func TestValidateMissingFile(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, errInvalid)
	assert.Contains(t, out, "error:")
}

func TestPlanCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "plan", "--config", writeConfig(t, validConfig), "--at", "2024-06-03T12:00:00Z")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "JOB"))
	assert.Contains(t, lines[1], "backup")
	assert.Contains(t, lines[1], "2024-06-04 02:00 UTC")
	assert.Contains(t, lines[1], "14 hours from now")
	assert.Contains(t, lines[1], "50.0")
	assert.Contains(t, lines[1], "forecast")
}

func TestPlanRejectsBadTime(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "plan", "--config", writeConfig(t, validConfig), "--at", "tomorrow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--at")
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "greensched "+Version))
}

func TestReportFlattensJoinedErrors(t *testing.T) {
	t.Parallel()

	err := errors.Join(
		errors.New("scheduler.timezone: unknown time zone Mars/Base"),
		&scheduler.ConfigurationError{JobID: "nightly", Problems: []error{
			crerrors.WithHint(crerrors.New("duration must be positive, got 0s"), "duration is how long the job may run"),
		}},
	)
	var buf bytes.Buffer
	report(&buf, err)
	assert.Equal(t, strings.Join([]string{
		"error: scheduler.timezone: unknown time zone Mars/Base",
		"job nightly: 1 problem(s)",
		"  - duration must be positive, got 0s",
		"    hint: duration is how long the job may run",
		"",
	}, "\n"), buf.String())
}
