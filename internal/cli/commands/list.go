package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/prepared/internal/cli/ui"
)

func newListCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list [resource]",
		Short: "List resources or the properties of one resource",
		Long: `Without an argument, list every resource of the manifest with
belongs_to targets before the resources that reference them. With a
resource name, list its properties in declaration order.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := e.catalog()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				order, err := catalog.Schemas.GetDependencyOrder()
				if err != nil {
					return err
				}
				table := ui.NewTable(out, e.cfg.NoColor, "Resource", "Table", "Properties")
				for _, name := range order {
					rs, _ := catalog.Schemas.Get(name)
					table.AddRow(name, rs.TableName, strconv.Itoa(len(catalog.Properties.Properties(name))))
				}
				table.Render()
				return nil
			}

			if _, err := e.resource(catalog, args[0]); err != nil {
				return err
			}
			table := ui.NewTable(out, e.cfg.NoColor, "Property", "Kind", "Depends on")
			for _, d := range catalog.Properties.Properties(args[0]) {
				table.AddRow(d.Name(), d.Kind().String(), dependsOn(d))
			}
			table.Render()
			return nil
		},
	}
}
