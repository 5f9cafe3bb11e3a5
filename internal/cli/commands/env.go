package commands

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/prepared/internal/cli/config"
	"github.com/conduit-lang/prepared/internal/cli/ui"
	"github.com/conduit-lang/prepared/internal/manifest"
	"github.com/conduit-lang/prepared/internal/orm/properties"
	"github.com/conduit-lang/prepared/internal/orm/schema"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"   // SQLite driver
)

// env is shared by the subcommands and filled in before any of them runs
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	stderr io.Writer
}

// reportedError has already been written to stderr in full
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }

func (e *reportedError) Unwrap() error { return e.err }

// report writes message to stderr and returns err marked as reported
func (e *env) report(message string, err error) error {
	fmt.Fprint(e.stderr, message)
	return &reportedError{err: err}
}

// catalog loads and builds the configured manifest
func (e *env) catalog() (*manifest.Catalog, error) {
	m, err := manifest.Load(e.cfg.Manifest)
	if err != nil {
		return nil, e.report(ui.ManifestError(e.cfg.Manifest, err, e.cfg.NoColor), err)
	}
	catalog, err := m.Build()
	if err != nil {
		return nil, e.report(ui.ManifestError(e.cfg.Manifest, err, e.cfg.NoColor), err)
	}
	e.logger.Debug("manifest loaded",
		zap.String("path", e.cfg.Manifest),
		zap.Strings("resources", catalog.Schemas.List()),
		zap.Int("properties", catalog.Properties.Count()))
	return catalog, nil
}

// resource looks up a resource schema, suggesting close names when it is missing
func (e *env) resource(catalog *manifest.Catalog, name string) (*schema.ResourceSchema, error) {
	rs, ok := catalog.Schemas.Get(name)
	if !ok {
		err := fmt.Errorf("unknown resource %s", name)
		return nil, e.report(ui.ResourceNotFoundError(name, ui.Suggest(name, catalog.Schemas.List()), e.cfg.NoColor), err)
	}
	return rs, nil
}

// handles looks up the named properties of resource
func (e *env) handles(catalog *manifest.Catalog, resource string, names []string) ([]*properties.Descriptor, error) {
	if _, err := e.resource(catalog, resource); err != nil {
		return nil, err
	}

	declared := propertyNames(catalog.Properties.Properties(resource))
	for _, name := range names {
		if _, ok := catalog.Properties.Lookup(resource, name); !ok {
			err := fmt.Errorf("%w: %s.%s", properties.ErrUnknownProperty, resource, name)
			return nil, e.report(ui.PropertyNotFoundError(resource, name, ui.Suggest(name, declared), e.cfg.NoColor), err)
		}
	}
	return catalog.Properties.Handles(resource, names...)
}

// openDB opens and pings the configured database
func (e *env) openDB(ctx context.Context) (*sql.DB, error) {
	if e.cfg.Database.URL == "" {
		return nil, fmt.Errorf("no database configured: set --database-url, DATABASE_URL or database.url in prepared.yml")
	}
	db, err := sql.Open(e.cfg.Database.Driver, e.cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	e.logger.Debug("database connected", zap.String("driver", e.cfg.Database.Driver))
	return db, nil
}

func propertyNames(ds []*properties.Descriptor) []string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name()
	}
	return names
}

func dependsOn(d *properties.Descriptor) string {
	deps := d.DependsOn()
	if len(deps) == 0 {
		return "-"
	}
	return strings.Join(deps, ", ")
}

// formatValue renders a record value for a table cell
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case []map[string]interface{}:
		if len(val) == 1 {
			return "1 record"
		}
		return fmt.Sprintf("%d records", len(val))
	case map[string]interface{}:
		return "1 record"
	default:
		return fmt.Sprint(val)
	}
}

// columnsOf returns the sorted field names of rs with id first
func columnsOf(rs *schema.ResourceSchema) []string {
	cols := make([]string, 0, len(rs.Fields))
	for name := range rs.Fields {
		if name != "id" {
			cols = append(cols, name)
		}
	}
	sort.Strings(cols)
	if rs.HasField("id") {
		cols = append([]string{"id"}, cols...)
	}
	return cols
}
