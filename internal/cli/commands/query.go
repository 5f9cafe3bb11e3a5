package commands

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/prepared/internal/cli/ui"
	"github.com/conduit-lang/prepared/internal/orm/properties"
	"github.com/conduit-lang/prepared/internal/orm/query"
	"github.com/conduit-lang/prepared/internal/orm/relationships"
	"github.com/conduit-lang/prepared/internal/orm/transaction"
)

func newQueryCommand(e *env) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "query <resource> [property]...",
		Short: "Run a query prepared with the given properties",
		Long: `Prepare a query of the resource with the requested properties, run it
against the configured database and print the rows. Every prepared property
is shown, including the ones pulled in as dependencies.`,
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

			ctx := cmd.Context()
			db, err := e.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			schemas := catalog.Resources()
			rs := schemas[args[0]]
			preparer := properties.NewPreparer(catalog.Properties, e.logger)

			// The primary select and every prefetch read the same snapshot
			level := transaction.LevelDefault
			if e.cfg.Database.Driver == "pgx" {
				level = transaction.RepeatableRead
			}

			var qb *query.QueryBuilder
			var records []map[string]interface{}
			var total int
			err = transaction.NewManager(db).WithLogger(e.logger).ReadOnlyWithRetry(ctx, level, nil, func(tx *sql.Tx) error {
				qb = query.NewQueryBuilder(rs, tx, schemas).
					WithLoader(relationships.NewLoader(tx, schemas).WithLogger(e.logger))
				if rs.HasField("id") {
					qb.OrderByAsc("id")
				}
				if limit > 0 {
					qb.Limit(limit)
				}

				if _, err := properties.PrepareQuery(preparer, qb, handles...); err != nil {
					return e.report(ui.PrepareError(err, e.cfg.NoColor), err)
				}

				var err error
				records, err = qb.All(ctx)
				if err != nil {
					return fmt.Errorf("query failed: %w", err)
				}
				total = len(records)
				if limit > 0 && total == limit {
					if total, err = qb.Count(ctx); err != nil {
						return fmt.Errorf("count failed: %w", err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			e.logger.Info("query finished", zap.String("resource", rs.Name), zap.Int("rows", len(records)), zap.Int("total", total))

			columns := columnsOf(rs)
			for _, a := range qb.Annotations() {
				columns = append(columns, a.Name)
			}
			for _, p := range qb.Prefetches() {
				columns = append(columns, p.Attr)
			}

			table := ui.NewTable(cmd.OutOrStdout(), e.cfg.NoColor, columns...)
			for _, record := range records {
				cells := make([]string, len(columns))
				for i, col := range columns {
					cells[i] = formatValue(record[col])
				}
				table.AddRow(cells...)
			}
			table.Render()
			if total > len(records) {
				fmt.Fprintf(e.stderr, "showing %d of %d rows\n", len(records), total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows (0 for no limit)")
	return cmd
}
