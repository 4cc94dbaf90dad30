package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.trai.ch/xnail/internal/build"
)

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmdo := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(cmdo, "xnail version %s (commit: %s, date: %s)\n", build.Version, build.Commit, build.Date)
		},
	}
}

func (c *CLI) newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, overrides := globalOptions(cmd)
			return c.app.RenderConfig(configPath, overrides, cmd.OutOrStdout())
		},
	}
}
