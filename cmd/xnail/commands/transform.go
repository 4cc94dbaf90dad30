package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.trai.ch/xnail/internal/app"
)

func (c *CLI) newTransformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform [flags] [--] <program-file> [<input-file>]",
		Short: "Run a program against an input document",
		Long: `Run a program against an input document on the background daemon,
starting it if necessary. The input is read from standard input when no
input file is given or when it is "-".`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return usageError(cmd, fmt.Sprintf("expected <program-file> [<input-file>], got %d arguments", len(args)))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, overrides := globalOptions(cmd)
			systemID, _ := cmd.Flags().GetString("system-identifier")
			params, _ := cmd.Flags().GetStringArray("parameter")
			local, _ := cmd.Flags().GetBool("local")

			opts := app.TransformOptions{
				ConfigPath:  configPath,
				Overrides:   overrides,
				Program:     args[0],
				SystemID:    systemID,
				HasSystemID: cmd.Flags().Changed("system-identifier"),
				Parameters:  params,
				Local:       local,
				Stdin:       cmd.InOrStdin(),
				Stdout:      cmd.OutOrStdout(),
				Stderr:      cmd.ErrOrStderr(),
			}
			if len(args) == 2 {
				opts.Input = args[1]
				opts.HasInput = true
			}
			return c.app.Transform(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringP("system-identifier", "s", "", "System identifier of the input document")
	cmd.Flags().StringArrayP("parameter", "p", nil, "Program parameter as NAME=VALUE (repeatable)")
	cmd.Flags().Bool("local", false, "Run in this process instead of on the daemon")
	return cmd
}
