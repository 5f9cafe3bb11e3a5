package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/prepared/internal/cli/ui"
	"github.com/conduit-lang/prepared/internal/orm/properties"
	"github.com/conduit-lang/prepared/internal/orm/query"
)

func newSQLCommand(e *env) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sql <resource> [property]...",
		Short: "Print the SQL of a query prepared with the given properties",
		Long: `Prepare a query of the resource with the requested properties and print the
statement and its arguments without running it. Prefetched properties are
listed with the restriction applied to the related records.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := e.catalog()
			if err != nil {
				return err
			}
			handles, err := e.handles(catalog, args[0], args[1:])
			if err != nil {
				return err
			}

			schemas := catalog.Resources()
			qb := query.NewQueryBuilder(schemas[args[0]], nil, schemas)
			if limit > 0 {
				qb.Limit(limit)
			}
			if _, err := properties.PrepareQuery(properties.NewPreparer(catalog.Properties, e.logger), qb, handles...); err != nil {
				return e.report(ui.PrepareError(err, e.cfg.NoColor), err)
			}

			stmt, params, err := qb.ToSQL()
			if err != nil {
				return e.report(ui.PrepareError(err, e.cfg.NoColor), err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, stmt)

			kv := ui.NewKeyValueTable(out, e.cfg.NoColor)
			kv.AddRow("Args", fmt.Sprint(params))
			for _, p := range qb.Prefetches() {
				kv.AddRow("Prefetch "+p.Attr, prefetchSummary(p))
			}
			kv.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows (0 for no limit)")
	return cmd
}

// prefetchSummary renders the relation a prefetch loads and its restriction
func prefetchSummary(p *query.BoundPrefetch) string {
	if p.Query == nil {
		return p.Relation
	}
	where, params, err := p.Query.WhereSQL("t", 1)
	if err != nil {
		return fmt.Sprintf("%s (%v)", p.Relation, err)
	}
	if where == "" {
		return p.Relation
	}
	return fmt.Sprintf("%s WHERE %s %v", p.Relation, where, params)
}
