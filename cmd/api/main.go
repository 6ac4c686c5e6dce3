package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"google.golang.org/grpc"

	"carestream.org/internal/app"
	"carestream.org/internal/config"
	"carestream.org/internal/httpapi"
	"carestream.org/internal/obs"
)

// Overridden at link time.
var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	root := &cobra.Command{
		Use:   "carestream-api",
		Short: "CareStream clinical front-desk sync service",
	}
	root.PersistentFlags().String("config", "", "config file path (optional)")
	root.AddCommand(newServeCommand(), newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP, websocket and gRPC health servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := cmd.Root().PersistentFlags().GetString("config")
			if err != nil {
				return err
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			obs.Init()
			obs.InitBuildInfo(version, commit)

			fx.New(
				fx.Supply(cfg, app.Build{Version: version, Commit: commit}),
				app.InfraModule,
				app.ServiceModule,
				app.HTTPModule,
				fx.Invoke(func(*httpapi.API, *grpc.Server) {}),
				fx.StopTimeout(shutdownTimeout),
				fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
			).Run()
			return nil
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "Maximum time to wait for graceful shutdown")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "carestream-api %s (%s)\n", version, commit)
		},
	}
}
