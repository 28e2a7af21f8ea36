package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/iamdeploy/pkg/config"
)

func newValidateCommand() *cobra.Command {
	var selector string

	cmd := &cobra.Command{
		Use:   "validate [paths...]",
		Short: "Validate definition files",
		Long: `Validate definition files without contacting the management host.

This command checks:
  - CUE, YAML and JSON syntax and the definition schema
  - Starlark scripts
  - Dependencies and cycles
  - Properties against the catalog
  - Policy compliance (OPA/rego)`,
		Example: `  # Validate definitions in the current directory
  iamdeploy validate

  # Validate specific files
  iamdeploy validate partners.yaml oauth.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			set, err := config.NewDefinitionLoader().Load(ctx, sourcesOrDefault(args))
			if err != nil {
				return err
			}

			problems := newTable(out, "Location", "Problem")
			count := 0
			for _, ve := range set.Errors {
				problems.AppendRow([]interface{}{ve.File + " " + ve.Path, ve.Message})
				count++
			}

			defs := set.Definitions
			if selector != "" {
				labels, err := config.ParseSelector(selector)
				if err != nil {
					return err
				}
				defs = set.Select(labels)
			}

			rt, err := newRuntime(ctx, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			plan, err := rt.service.Plan(ctx, defs)
			if err != nil {
				problems.AppendRow([]interface{}{"dependencies", err.Error()})
				count++
			} else {
				for _, step := range plan.Blocked() {
					problems.AppendRow([]interface{}{step.DefinitionID, step.Error})
					count++
				}
			}

			if count == 0 {
				fmt.Fprintf(out, "%d definitions from %d files are valid\n", len(defs), len(set.SourceFiles))
				return nil
			}
			problems.Render()
			return fmt.Errorf("%d problems found", count)
		},
	}

	cmd.Flags().StringVarP(&selector, "selector", "l", "", "label selector, e.g. env=prod,team=iam")

	return cmd
}

func sourcesOrDefault(args []string) []string {
	if len(args) == 0 {
		return []string{"."}
	}
	return args
}
