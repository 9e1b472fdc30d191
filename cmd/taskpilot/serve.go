package main

import (
	"github.com/spf13/cobra"

	"taskpilot/pkg/logx"
	"taskpilot/pkg/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve POST /api/chat plus the status, health, log and Prometheus endpoints.

The authenticated user id is read from the identity provider header
(server.user_header, X-User-ID by default).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			a, err := buildApp(cfg, nil)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logx.Warnf("Failed to close database: %v", err)
				}
			}()

			srvOpts := server.Options{
				Addr:            cfg.Server.Addr,
				UserHeader:      cfg.Server.UserHeader,
				AllowedOrigins:  cfg.Server.AllowedOrigins,
				ShutdownTimeout: cfg.Server.ShutdownTimeout(),
				Gatherer:        a.registry,
				Limiter:         a.userLimiter,
			}
			if a.audit != nil {
				srvOpts.Audit = a.audit
			}
			return server.New(a.orchestrator, srvOpts).Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	return cmd
}
