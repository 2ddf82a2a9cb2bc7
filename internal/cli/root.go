// Package cli implements the greensched command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X greensched/internal/cli.Version=...".
var Version = "dev"

type options struct {
	configPath string
}

// defaultConfig returns the config path, checking GREENSCHED_CONFIG first.
func defaultConfig() string {
	if p := os.Getenv("GREENSCHED_CONFIG"); p != "" {
		return p
	}
	return "./greensched.yaml"
}

// NewRootCmd creates the root cobra command for the greensched CLI.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "greensched",
		Short: "Carbon-aware job scheduler",
		Long: `greensched runs jobs inside time windows, picking the start with the
lowest forecast carbon intensity and falling back to cron when no forecast
is available.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfig(), "config file: .json, .yaml or .toml (or GREENSCHED_CONFIG env)")

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newPlanCmd(opts),
		newVersionCmd(),
	)
	return root
}
