// Package harbor assembles the harbor command: the server run loop and the
// stop client.
package harbor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kart-io/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kart-io/harbor/internal/bootstrap"
	"github.com/kart-io/harbor/pkg/infra/app"
	"github.com/kart-io/harbor/pkg/infra/server"
)

// Name is the name of the application.
const Name = "harbor"

const description = `Harbor hosts services built from engines, executors and
connectors, and stops them in order when a shutdown command arrives on its
shutdown port or the process is signalled.

Services are declared in the configuration file, see configs/harbor.yaml.`

// NewApp creates the harbor application.
func NewApp() *app.App {
	opts := NewOptions()

	var a *app.App
	stop := newStopCommand(opts, func(cmd *cobra.Command) error {
		_, err := a.LoadConfig(cmd)
		return err
	})
	a = app.NewApp(
		app.WithName(Name),
		app.WithShortDescription("Harbor server"),
		app.WithDescription(description),
		app.WithOptions(opts),
		app.WithCommands(stop),
		app.WithRunFunc(func(ctx context.Context, v *viper.Viper) error {
			return Run(ctx, opts, v)
		}),
	)
	return a
}

// Run runs a harbor server with the given options.
func Run(ctx context.Context, opts *Options, v *viper.Viper) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return bootstrap.Run(ctx, opts.BootstrapOptions(Name, version.Get().GitVersion), v)
}

func newStopCommand(opts *Options, load func(*cobra.Command) error) *cobra.Command {
	timeout := 5 * time.Second
	cmd := &cobra.Command{
		Use:          "stop",
		Short:        "Send the shutdown command to a running server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := load(cmd); err != nil {
				return err
			}
			addr, err := shutdownAddr(opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := server.SendShutdown(ctx, addr, opts.Server.Shutdown); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "shutdown sent to %s\n", addr)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", timeout, "Time allowed to reach the shutdown port.")
	cmd.Flags().IntVar(&opts.Server.Port, "server.port", opts.Server.Port, "Shutdown port of the running server.")
	cmd.Flags().IntVar(&opts.Server.PortOffset, "server.port-offset", opts.Server.PortOffset, "Offset added to the shutdown port.")
	cmd.Flags().StringVar(&opts.Server.Address, "server.address", opts.Server.Address, "Address of the running server.")
	return cmd
}

// shutdownAddr returns the dial address of the shutdown socket described by
// opts. A wildcard bind address is dialled on loopback.
func shutdownAddr(opts *Options) (string, error) {
	if opts.Server.Port < 0 {
		return "", errors.New("shutdown port is disabled")
	}
	if opts.Server.Port == 0 {
		return "", errors.New("shutdown port is ephemeral and cannot be addressed")
	}
	port := opts.Server.PortWithOffset()
	host := opts.Server.Address
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
