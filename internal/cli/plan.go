package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"greensched/internal/app"
	"greensched/internal/config"
	"greensched/internal/task/scheduler"
)

func newPlanCmd(opts *options) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the next planned run of every job without running anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t
			}
			cfg, err := config.NewManager(opts.configPath).Load()
			if err != nil {
				report(cmd.ErrOrStderr(), err)
				return errInvalid
			}
			infos, err := app.Preview(cmd.Context(), cfg, now)
			if err != nil {
				report(cmd.ErrOrStderr(), err)
				return errInvalid
			}
			printPlan(cmd.OutOrStdout(), infos, now, cfg.Location())
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "plan as of this RFC 3339 time instead of now")
	return cmd
}

func printPlan(w io.Writer, infos []scheduler.JobInfo, now time.Time, loc *time.Location) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No jobs configured.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tNEXT RUN\tIN\tZONE\tINTENSITY\tSOURCE")
	for _, ji := range infos {
		next, in, intensity, source := "-", "-", "-", "forecast"
		if !ji.NextFire.IsZero() {
			next = ji.NextFire.In(loc).Format("2006-01-02 15:04 MST")
			in = humanize.RelTime(ji.NextFire, now, "ago", "from now")
		}
		if ji.Period != nil && ji.Period.Intensity > 0 {
			intensity = fmt.Sprintf("%.1f", ji.Period.Intensity)
		}
		switch {
		case ji.Paused:
			source = "paused"
		case ji.Fallback:
			source = "cron fallback"
		case ji.NextFire.IsZero():
			source = "unplanned"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", ji.ID, next, in, ji.Zone, intensity, source)
	}
	_ = tw.Flush()
}
