package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/iamdeploy/pkg/server"
)

func newServeCommand() *cobra.Command {
	var (
		listen     string
		production bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the catalog, ad-hoc dispatch, status queries, dispatch history and
Prometheus metrics over HTTP. Policies are reloaded on change when
policy.watch is set.`,
		Example: `  iamdeploy serve --listen :9090
  iamdeploy serve --production`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, runtimeOptions{channel: true, history: true, production: production})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)
			rt.logEvents()

			if err := rt.watchPolicies(ctx); err != nil {
				return err
			}

			addr := rt.settings.Server.ListenAddress
			if listen != "" {
				addr = listen
			}

			srv := server.New(server.Config{
				ListenAddress: addr,
				Service:       rt.service,
				Store:         rt.store,
				Telemetry:     rt.tel,
			})
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from settings)")
	cmd.Flags().BoolVar(&production, "production", false, "JSON logs with sampling and asynchronous events")

	return cmd
}
