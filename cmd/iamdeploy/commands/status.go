package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/iamdeploy/pkg/catalog"
	"github.com/openfroyo/iamdeploy/pkg/config"
)

// statusRow is one line of status output.
type statusRow struct {
	DefinitionID string `json:"definition_id"`
	Operation    string `json:"operation,omitempty"`
	Value        any    `json:"value,omitempty"`
	Error        string `json:"error,omitempty"`
}

func newStatusCommand() *cobra.Command {
	var (
		selector string
		category string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "status [paths...]",
		Short: "Query whether defined entities exist",
		Long: `Ask the management host whether the entity each definition describes
exists. Use --category and --name to query a single entity without a file.`,
		Example: `  # Check every defined entity
  iamdeploy status definitions/

  # Check one federation partner
  iamdeploy status --category federation-service-provider --name acme`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var defs []config.Definition
			if category != "" {
				if name == "" {
					name = category
				}
				identity, err := catalog.IdentityProperty(category)
				if err != nil {
					return err
				}
				defs = []config.Definition{{
					ID:         category + "/" + name,
					Category:   category,
					Name:       name,
					Properties: map[string]any{identity: name},
				}}
			} else {
				var err error
				if defs, _, err = loadDefinitions(ctx, args, selector); err != nil {
					return err
				}
			}

			rt, err := newRuntime(ctx, runtimeOptions{channel: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			rows := make([]statusRow, 0, len(defs))
			failed := 0
			for _, def := range defs {
				row := statusRow{DefinitionID: def.ID}
				result, err := rt.service.Status(ctx, def)
				if err != nil {
					row.Error = err.Error()
					failed++
				} else {
					row.Operation = result.Invocation.Operation
					row.Value = result.Value
				}
				rows = append(rows, row)
			}

			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), rows); err != nil {
					return err
				}
			} else {
				t := newTable(cmd.OutOrStdout(), "Definition", "Operation", "Result", "Error")
				for _, r := range rows {
					value := "-"
					if r.Value != nil {
						value = fmt.Sprint(r.Value)
					}
					t.AppendRow([]interface{}{r.DefinitionID, r.Operation, value, r.Error})
				}
				t.Render()
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d status queries failed", failed, len(rows))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&selector, "selector", "l", "", "label selector, e.g. env=prod,team=iam")
	cmd.Flags().StringVar(&category, "category", "", "category of a single entity to query")
	cmd.Flags().StringVar(&name, "name", "", "name of the entity given by --category")

	return cmd
}
