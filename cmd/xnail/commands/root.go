// Package commands implements the CLI commands for xnail.
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.trai.ch/xnail/internal/app"
	"go.trai.ch/xnail/internal/build"
	"go.trai.ch/xnail/internal/core/domain"
)

// CLI represents the command line interface for xnail.
type CLI struct {
	app     Application
	rootCmd *cobra.Command
}

// Application represents the application logic interface.
type Application interface {
	Transform(ctx context.Context, opts app.TransformOptions) error
	Serve(ctx context.Context, configPath string, overrides app.Overrides) error
	DaemonStatus(ctx context.Context, configPath string, overrides app.Overrides) error
	StopDaemon(ctx context.Context, configPath string, overrides app.Overrides) error
	RenderConfig(configPath string, overrides app.Overrides, w io.Writer) error
}

// New creates a new CLI instance with the given app.
func New(a Application) *CLI {
	rootCmd := &cobra.Command{
		Use:           "xnail",
		Short:         "Transform documents with cached, precompiled programs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build.Version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"{{.Name}} version {{.Version}} (commit: %s, date: %s)\n",
		build.Commit,
		build.Date,
	))
	rootCmd.InitDefaultVersionFlag()
	rootCmd.Flags().Lookup("version").Usage = "Print the application version"

	rootCmd.InitDefaultHelpFlag()
	rootCmd.Flags().Lookup("help").Usage = "Show help for command"

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Configuration file (default "+domain.DefaultConfigPath()+")")
	flags.String("address", "", "Daemon address: a socket path or host:port")
	flags.String("address-type", "", "Address type: local or network (guessed when empty)")
	flags.String("log-level", "", "Log level: debug, info, warn or error")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError(cmd, err.Error())
	})

	c := &CLI{
		app:     a,
		rootCmd: rootCmd,
	}

	rootCmd.AddCommand(c.newTransformCmd())
	rootCmd.AddCommand(c.newServeCmd())
	rootCmd.AddCommand(c.newDaemonCmd())
	rootCmd.AddCommand(c.newConfigCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command. Used for testing.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}

// SetInput sets the input stream for the root command. Used for testing.
func (c *CLI) SetInput(in io.Reader) {
	c.rootCmd.SetIn(in)
}

// globalOptions reads the persistent flags. Only flags given on the command
// line become overrides.
func globalOptions(cmd *cobra.Command) (string, app.Overrides) {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")

	var o app.Overrides
	if flags.Changed("address") {
		v, _ := flags.GetString("address")
		o.Address = &v
	}
	if flags.Changed("address-type") {
		v, _ := flags.GetString("address-type")
		o.AddressType = &v
	}
	if flags.Changed("log-level") {
		v, _ := flags.GetString("log-level")
		o.LogLevel = &v
	}
	return configPath, o
}

func usageError(cmd *cobra.Command, message string) error {
	return domain.NewUserError(message + "\n\n" + cmd.UsageString())
}
