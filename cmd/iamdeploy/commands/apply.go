package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/iamdeploy/pkg/deploy"
)

func newApplyCommand() *cobra.Command {
	var (
		selector        string
		dryRun          bool
		parallelism     int
		continueOnError bool
	)

	cmd := &cobra.Command{
		Use:   "apply [paths...]",
		Short: "Apply definitions to the management host",
		Long: `Apply definitions in dependency order.

This command:
  - Loads and validates the definitions
  - Orders them by depends_on into levels
  - Checks every definition against policy
  - Dispatches each level through the configured channel, in parallel
  - Records the run and every dispatch in the history database

Dependents of a failed, denied or skipped definition are skipped. Without
--continue-on-error the run stops after the first level with a failure.`,
		Example: `  # Apply all definitions in ./definitions
  iamdeploy apply definitions/

  # Record the calls without contacting the management host
  iamdeploy apply definitions/ --dry-run

  # Apply production definitions, four at a time
  iamdeploy apply definitions/ -l env=prod --parallelism 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			defs, set, err := loadDefinitions(ctx, args, selector)
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, runtimeOptions{channel: !dryRun, history: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			rt.logger.Zerolog().Info().
				Int("definitions", len(defs)).
				Bool("dry_run", dryRun).
				Msg("Applying definitions")

			report, err := rt.service.Apply(ctx, defs, deploy.Options{
				DryRun:          dryRun,
				Parallelism:     parallelism,
				ContinueOnError: continueOnError,
				Sources:         set.SourceFiles,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				renderReport(cmd, report)
			}
			return report.Err()
		},
	}

	cmd.Flags().StringVarP(&selector, "selector", "l", "", "label selector, e.g. env=prod,team=iam")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record calls instead of sending them")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "concurrent dispatches per level (default from settings)")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep applying independent definitions after a failure")

	return cmd
}

func renderReport(cmd *cobra.Command, report *deploy.Report) {
	out := cmd.OutOrStdout()

	t := newTable(out, "Definition", "Verb", "Operation", "Status", "Duration", "Error")
	for _, o := range report.Outcomes {
		operation := "-"
		if o.Invocation != nil {
			operation = o.Invocation.Operation
		}
		t.AppendRow([]interface{}{
			o.DefinitionID, o.Verb, operation,
			colorDispatchStatus(o.Status),
			o.Duration().Round(time.Millisecond),
			o.Error,
		})
	}
	t.Render()

	mode := ""
	if report.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(out, "Run %s %s%s: %d succeeded, %d failed, %d skipped\n",
		report.RunID, colorRunStatus(report.Status), mode,
		report.Succeeded, report.Failed, report.Skipped)
}
