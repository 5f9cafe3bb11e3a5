package commands

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/prepared/internal/cli/ui"
	"github.com/conduit-lang/prepared/internal/orm/properties"
)

func newResolveCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <resource> <property>...",
		Short: "Show the order in which properties would be prepared",
		Long: `Resolve the requested properties of a resource together with everything
they depend on, and print them in the order they are applied to a query.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := e.catalog()
			if err != nil {
				return err
			}
			handles, err := e.handles(catalog, args[0], args[1:])
			if err != nil {
				return err
			}

			ordered, err := properties.NewResolver(catalog.Properties).Resolve(handles)
			if err != nil {
				return e.report(ui.PrepareError(err, e.cfg.NoColor), err)
			}

			requested := make(map[string]bool, len(args)-1)
			for _, name := range args[1:] {
				requested[name] = true
			}

			table := ui.NewTable(cmd.OutOrStdout(), e.cfg.NoColor, "#", "Property", "Kind", "Depends on", "Requested")
			for i, d := range ordered {
				mark := ""
				if requested[d.Name()] {
					mark = "yes"
				}
				table.AddRow(strconv.Itoa(i+1), d.Name(), d.Kind().String(), dependsOn(d), mark)
			}
			table.Render()
			return nil
		},
	}
}
