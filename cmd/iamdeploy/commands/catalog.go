package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/iamdeploy/pkg/catalog"
)

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the entity catalog",
		Long: `Inspect the built-in entity categories, their properties and the
remote operations each verb maps to.`,
	}

	cmd.AddCommand(newCatalogListCommand())
	cmd.AddCommand(newCatalogShowCommand())

	return cmd
}

func newCatalogListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List entity categories",
		Example: `  iamdeploy catalog list
  iamdeploy catalog list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := catalog.DescribeAll()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), all)
			}

			t := newTable(cmd.OutOrStdout(), "Category", "Flavor", "Segment", "Properties", "Operations")
			for _, d := range all {
				ops := make([]string, len(d.Operations))
				for i, op := range d.Operations {
					ops[i] = op.Kind
				}
				t.AppendRow([]interface{}{d.ID, d.Flavor, d.Segment, len(d.Properties), joinOrDash(ops)})
			}
			t.Render()
			return nil
		},
	}
}

func newCatalogShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "show <category>",
		Short:   "Show properties and operations of a category",
		Example: `  iamdeploy catalog show oauth-client`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := catalog.TypeFrom(args[0])
			if err != nil {
				return err
			}
			d := catalog.Describe(t)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), d)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s/%s)\nAddress: %s\n\n", d.ID, d.Flavor, d.Segment, d.Address)

			props := newTable(out, "Property", "Type", "Required", "Default")
			for _, p := range d.Properties {
				def := "-"
				if p.HasDefault {
					def = fmt.Sprintf("%q", p.Default)
				}
				props.AppendRow([]interface{}{p.ID, p.Type, p.Required, def})
			}
			props.Render()

			ops := newTable(out, "Kind", "Operation", "Slots", "Signature")
			for _, op := range d.Operations {
				ops.AppendRow([]interface{}{op.Kind, op.Name, joinOrDash(op.Slots), joinOrDash(op.Signature)})
			}
			ops.Render()
			return nil
		},
	}
}
