package jobs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"greensched/internal/config"
	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

// Definition maps a job's constraint fields to a scheduler definition.
func Definition(jc config.JobConfig) scheduler.Definition {
	return scheduler.Definition{
		ID:                  jc.ID,
		FixedWindow:         jc.FixedWindow,
		Successive:          jc.Successive,
		Duration:            jc.Duration,
		DayOfWeek:           jc.DayOfWeek,
		DayOfMonth:          jc.DayOfMonth,
		Cron:                jc.Cron,
		TimeZone:            jc.TimeZone,
		CarbonIntensityZone: jc.CarbonIntensityZone,
		OverdueGracePeriod:  jc.OverdueGracePeriod,
		ConcurrentExecution: jc.ConcurrentExecution,
		Paused:              jc.Paused,
	}
}

type logSettings struct {
	Message string `json:"message"`
}

// Invoker builds the invoker for jc, wrapped with its timeout and logging.
func Invoker(jc config.JobConfig, client *http.Client, log logx.Logger) (scheduler.Invoker, error) {
	var inv scheduler.Invoker
	switch strings.ToLower(strings.TrimSpace(jc.Run)) {
	case "command":
		if jc.Command == nil {
			return nil, fmt.Errorf("job %s: command settings are required", jc.ID)
		}
		cmd, err := ParseCommand(jc.Command.Line)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", jc.ID, err)
		}
		cmd.Dir, cmd.Env = jc.Command.Dir, jc.Command.Env
		inv = cmd
	case "webhook":
		if jc.Webhook == nil {
			return nil, fmt.Errorf("job %s: webhook settings are required", jc.ID)
		}
		inv = &Webhook{
			URL:     jc.Webhook.URL,
			Method:  jc.Webhook.Method,
			Headers: jc.Webhook.Headers,
			Async:   jc.Webhook.Async,
			Client:  client,
		}
	case "systemd":
		if jc.Systemd == nil {
			return nil, fmt.Errorf("job %s: systemd settings are required", jc.ID)
		}
		inv = &Unit{Name: jc.Systemd.Unit, Mode: jc.Systemd.Mode, User: jc.Systemd.User}
	case "log", "":
		var ls logSettings
		if len(jc.Log) > 0 {
			if err := json.Unmarshal(jc.Log, &ls); err != nil {
				return nil, fmt.Errorf("job %s: log settings: %w", jc.ID, err)
			}
		}
		inv = Log{Log: log, Message: ls.Message}
	default:
		return nil, fmt.Errorf("job %s: unknown invoker %q", jc.ID, jc.Run)
	}

	timeout, err := config.ParseDurationField("timeout", jc.Timeout)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", jc.ID, err)
	}
	return WithLogging(WithTimeout(inv, timeout), log), nil
}
