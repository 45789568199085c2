// Package app builds the cobra command of a harbor binary: configuration
// file discovery, environment and flag overlays, version flags and
// subcommands.
//
// Usage:
//
//	a := app.NewApp(
//	    app.WithName("harbor"),
//	    app.WithOptions(opts),
//	    app.WithRunFunc(run),
//	)
//	a.Run()
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kart-io/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kart-io/harbor/pkg/infra/config"
)

// CliOptions is the configuration of an App.
type CliOptions interface {
	AddFlags(fs *pflag.FlagSet)
	Complete() error
	Validate() error
}

// RunFunc runs the application. v holds the loaded configuration and has a
// config file when one was found.
type RunFunc func(ctx context.Context, v *viper.Viper) error

// App is a cobra root command bound to a CliOptions.
type App struct {
	name        string
	shortDesc   string
	description string
	options     CliOptions
	runFunc     RunFunc
	commands    []*cobra.Command
	noVersion   bool
	searchPaths []string

	cmd *cobra.Command
}

// Option configures an App.
type Option func(*App)

// WithName sets the application name, also the config file base name and
// the environment prefix.
func WithName(name string) Option {
	return func(a *App) {
		a.name = name
	}
}

// WithShortDescription sets the short description.
func WithShortDescription(desc string) Option {
	return func(a *App) {
		a.shortDesc = desc
	}
}

// WithDescription sets the long description.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithOptions sets the CLI options.
func WithOptions(opts CliOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithRunFunc sets the run function.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.runFunc = run
	}
}

// WithCommands adds subcommands.
func WithCommands(cmds ...*cobra.Command) Option {
	return func(a *App) {
		a.commands = append(a.commands, cmds...)
	}
}

// WithNoVersion disables the version flags.
func WithNoVersion() Option {
	return func(a *App) {
		a.noVersion = true
	}
}

// WithSearchPaths replaces the directories searched for <name>.yaml when
// --config is not given.
func WithSearchPaths(dirs ...string) Option {
	return func(a *App) {
		a.searchPaths = dirs
	}
}

// NewApp creates a new application instance.
func NewApp(opts ...Option) *App {
	a := &App{name: filepath.Base(os.Args[0])}
	for _, opt := range opts {
		opt(a)
	}
	if a.searchPaths == nil {
		a.searchPaths = []string{".", "./configs"}
		if home, err := os.UserHomeDir(); err == nil {
			a.searchPaths = append(a.searchPaths, filepath.Join(home, "."+a.name))
		}
		a.searchPaths = append(a.searchPaths, filepath.Join("/etc", a.name))
	}
	a.buildCommand()
	return a
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:          a.name,
		Short:        a.shortDesc,
		Long:         a.description,
		RunE:         a.runCommand,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	cmd.PersistentFlags().StringP("config", "c", "", "Path to config file.")
	if !a.noVersion {
		version.AddFlags(cmd.PersistentFlags())
	}
	if a.options != nil {
		a.options.AddFlags(cmd.Flags())
	}
	cmd.AddCommand(a.commands...)
	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	if !a.noVersion {
		version.PrintAndExitIfRequested()
	}

	v, err := a.LoadConfig(cmd)
	if err != nil {
		return err
	}
	if a.runFunc == nil {
		return nil
	}
	return a.runFunc(cmd.Context(), v)
}

// LoadConfig resolves the config file of cmd, loads it into the options and
// completes and validates them.
func (a *App) LoadConfig(cmd *cobra.Command) (*viper.Viper, error) {
	file, _ := cmd.Flags().GetString("config")
	if file == "" {
		file = a.findConfig()
	}

	var target interface{} = &struct{}{}
	if a.options != nil {
		target = a.options
	}
	v, err := config.Load(file, a.envPrefix(), cmd.Flags(), target)
	if err != nil {
		return nil, err
	}
	if a.options != nil {
		if err := a.options.Complete(); err != nil {
			return nil, err
		}
		if err := a.options.Validate(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (a *App) findConfig() string {
	for _, dir := range a.searchPaths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, a.name+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func (a *App) envPrefix() string {
	return strings.ToUpper(strings.ReplaceAll(a.name, "-", "_"))
}

// Run executes the application and exits non-zero on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Command returns the cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}
