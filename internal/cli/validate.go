package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	crerrors "github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"greensched/internal/app"
	"greensched/internal/config"
	"greensched/internal/task/scheduler"
	logx "greensched/pkg/logx"
)

// errInvalid is returned after the problems have been printed.
var errInvalid = errors.New("configuration is invalid")

func newValidateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and every job definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			cfg, err := config.NewManager(opts.configPath).Load()
			if err != nil {
				report(out, err)
				return errInvalid
			}
			jobs, err := app.BuildJobs(cfg, nil, logx.Nop(), time.Now)
			if err != nil {
				report(out, err)
				return errInvalid
			}
			fmt.Fprintf(out, "%s: ok (%d jobs)\n", opts.configPath, len(jobs))
			return nil
		},
	}
}

// report prints err one problem per line. Job problems are grouped under
// the job id and followed by their hints.
func report(w io.Writer, err error) {
	for _, e := range flatten(err) {
		var ce *scheduler.ConfigurationError
		if !errors.As(e, &ce) {
			fmt.Fprintf(w, "error: %v\n", e)
			continue
		}
		fmt.Fprintf(w, "job %s: %d problem(s)\n", ce.JobID, len(ce.Problems))
		for _, p := range ce.Problems {
			fmt.Fprintf(w, "  - %v\n", p)
			if hint := crerrors.FlattenHints(p); hint != "" {
				for _, line := range strings.Split(hint, "\n") {
					fmt.Fprintf(w, "    hint: %s\n", strings.TrimSpace(line))
				}
			}
		}
	}
}

// flatten expands errors.Join trees into their leaves.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*scheduler.ConfigurationError); ok {
		return []error{err}
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range j.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}
