// Command dsbridge runs a local datastore translator server: a Cloud
// Datastore v1 HTTP endpoint backed by an in-memory development stub.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudshims/dsbridge"
	"github.com/cloudshims/dsbridge/memstub"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "dsbridge",
		Short:        "Local Cloud Datastore v1 endpoint over a development stub",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	return root
}

func serveCmd() *cobra.Command {
	var (
		configPath string
		verbose    bool
		cfg        dsbridge.Config
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bind and serve the translator endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			effective := &cfg
			if configPath != "" {
				loaded, err := dsbridge.LoadConfig(configPath)
				if err != nil {
					return err
				}
				// Explicitly set flags win over the file.
				fl := cmd.Flags()
				if fl.Changed("project") {
					loaded.ProjectID = cfg.ProjectID
				}
				if fl.Changed("addr") {
					loaded.Addr = cfg.Addr
				}
				if fl.Changed("host") {
					loaded.Host = cfg.Host
				}
				if fl.Changed("require-host") {
					loaded.RequireHost = cfg.RequireHost
				}
				if fl.Changed("datastore-path") {
					loaded.DatastorePath = cfg.DatastorePath
				}
				effective = loaded
			}

			st, err := memstub.New(effective.AppID(), stubOptions(effective)...)
			if err != nil {
				return err
			}
			defer st.Close()

			srv, err := dsbridge.New(effective, st, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&cfg.ProjectID, "project", "", "project identifier to serve")
	cmd.Flags().StringVar(&cfg.Addr, "addr", "localhost:8081", "bind address")
	cmd.Flags().StringVar(&cfg.Host, "host", "", "expected Host header value")
	cmd.Flags().BoolVar(&cfg.RequireHost, "require-host", false, "reject requests whose Host header mismatches --host")
	cmd.Flags().StringVar(&cfg.DatastorePath, "datastore-path", "", "snapshot file for the development stub")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every rpc")
	return cmd
}

func stubOptions(cfg *dsbridge.Config) []memstub.Option {
	var opts []memstub.Option
	if cfg.DatastorePath != "" {
		opts = append(opts, memstub.WithPath(cfg.DatastorePath))
	}
	return opts
}
