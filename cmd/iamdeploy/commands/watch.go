package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/iamdeploy/pkg/config"
	"github.com/openfroyo/iamdeploy/pkg/deploy"
)

func newWatchCommand() *cobra.Command {
	var (
		selector string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Apply definitions and re-apply them on change",
		Long: `Apply definitions once, then watch the definition files and apply them
again whenever they change. Policies are reloaded on change when
policy.watch is set. Stop with Ctrl-C.`,
		Example: `  iamdeploy watch definitions/ --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sources := sourcesOrDefault(args)

			rt, err := newRuntime(ctx, runtimeOptions{channel: !dryRun, history: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)
			rt.logEvents()

			if err := rt.watchPolicies(ctx); err != nil {
				return err
			}

			apply := func() {
				defs, set, err := loadDefinitions(ctx, sources, selector)
				if err != nil {
					rt.logger.WithError(err).Error("Failed to load definitions")
					return
				}
				report, err := rt.service.Apply(ctx, defs, deploy.Options{DryRun: dryRun, Sources: set.SourceFiles})
				if err != nil {
					rt.logger.WithError(err).Error("Apply failed")
					return
				}
				if jsonOutput {
					_ = printJSON(cmd.OutOrStdout(), report)
				} else {
					renderReport(cmd, report)
				}
			}

			apply()
			if err := config.WatchDefinitions(ctx, *rt.tel.Logger.Zerolog(), sources, apply); err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&selector, "selector", "l", "", "label selector, e.g. env=prod,team=iam")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record calls instead of sending them")

	return cmd
}
