package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transform daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, overrides := globalOptions(cmd)
			flags := cmd.Flags()
			if flags.Changed("require-pid") {
				v, _ := flags.GetInt("require-pid")
				overrides.RequirePID = &v
			}
			if flags.Changed("idle-timeout") {
				v, _ := flags.GetDuration("idle-timeout")
				overrides.IdleTimeout = &v
			}
			if flags.Changed("metrics-address") {
				v, _ := flags.GetString("metrics-address")
				overrides.MetricsAddress = &v
			}
			return c.app.Serve(cmd.Context(), configPath, overrides)
		},
	}
	cmd.Flags().Int("require-pid", 0, "Shut down automatically when this process exits")
	cmd.Flags().Duration("idle-timeout", 0, "Shut down automatically after this long without requests (0 disables)")
	cmd.Flags().String("metrics-address", "", "Serve Prometheus metrics on this host:port")
	return cmd
}

func (c *CLI) newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background daemon",
	}

	cmd.AddCommand(c.newDaemonStatusCmd())
	cmd.AddCommand(c.newDaemonStopCmd())

	return cmd
}

func (c *CLI) newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, overrides := globalOptions(cmd)
			return c.app.DaemonStatus(cmd.Context(), configPath, overrides)
		},
	}
}

func (c *CLI) newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, overrides := globalOptions(cmd)
			return c.app.StopDaemon(cmd.Context(), configPath, overrides)
		},
	}
}
