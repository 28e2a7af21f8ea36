package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/openfroyo/iamdeploy/pkg/deploy"
)

func newPlanCommand() *cobra.Command {
	var (
		selector string
		dot      bool
	)

	cmd := &cobra.Command{
		Use:   "plan [paths...]",
		Short: "Show the operations an apply would send",
		Long: `Derive the remote operation call for every definition, in execution order,
together with its policy decision. Nothing is sent to the management host.`,
		Example: `  # Plan definitions in ./definitions
  iamdeploy plan definitions/

  # Render the dependency graph
  iamdeploy plan definitions/ --dot | dot -Tsvg > plan.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			defs, _, err := loadDefinitions(ctx, args, selector)
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, runtimeOptions{})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			plan, err := rt.service.Plan(ctx, defs)
			if err != nil {
				return err
			}

			switch {
			case dot:
				fmt.Fprint(out, plan.DOT)
			case jsonOutput:
				if err := printJSON(out, plan); err != nil {
					return err
				}
			default:
				renderPlan(cmd, plan)
			}

			if blocked := plan.Blocked(); len(blocked) > 0 {
				return fmt.Errorf("%d of %d definitions would fail", len(blocked), len(plan.Steps))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&selector, "selector", "l", "", "label selector, e.g. env=prod,team=iam")
	cmd.Flags().BoolVar(&dot, "dot", false, "print the dependency graph in Graphviz DOT format")

	return cmd
}

func renderPlan(cmd *cobra.Command, plan *deploy.Plan) {
	t := newTable(cmd.OutOrStdout(), "Level", "Definition", "Verb", "Invocation", "Policy")
	for _, step := range plan.Steps {
		invocation := "-"
		if step.Invocation != nil {
			invocation = step.Invocation.String()
		}

		policy := text.FgGreen.Sprint("allowed")
		switch {
		case step.Err != nil:
			policy = text.FgRed.Sprint(step.Error)
		case step.Decision != nil && !step.Decision.Allowed:
			policy = text.FgYellow.Sprint("advisory: " + strings.Join(step.Decision.Reasons(), "; "))
		case step.Decision == nil:
			policy = "-"
		}

		t.AppendRow([]interface{}{step.Level, step.DefinitionID, step.Verb, invocation, policy})
	}
	t.Render()
}
