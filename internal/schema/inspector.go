// internal/schema/inspector.go
//
// Table schema introspection for audit-column filtering.
//
// Context
// -------
// The lifecycle only writes an audit column when the target table has it.
// Inspector answers that from `information_schema.COLUMNS` of a reference
// database (every org shard of a tenant shares one schema), then keeps the
// answer in an LRU so each table is read once per process.
//
// An unqualified table name is read from the reference database itself,
// i.e. `DATABASE()` of that connection.  A table living in another schema,
// such as a tenant-scope table in the app-level database, is looked up by
// its qualified `schema.table` name, which is also its cache key.
// Descriptors may skip introspection entirely by declaring Columns.
//
// Notes
// -----
//   - A failed lookup is returned, never cached.
//   - A table with no columns is reported as ErrUnknownTable.
//   - Oxford commas, two spaces after periods.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/yanizio/tenantdb/internal/cache"
	"github.com/yanizio/tenantdb/internal/entity"
)

// DefaultCapacity bounds how many table schemas are kept.
const DefaultCapacity = 512

// ErrUnknownTable is returned when information_schema has no columns for a
// table.
var ErrUnknownTable = errors.New("schema: unknown table")

// Inspector loads and caches table column sets.  Safe for concurrent use.
type Inspector struct {
	db     *sqlx.DB
	tables *cache.LRU[string, entity.StaticSchema]
}

// NewInspector reads schemas from db.  capacity < 1 selects DefaultCapacity.
func NewInspector(db *sqlx.DB, capacity int) *Inspector {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Inspector{db: db, tables: cache.New[string, entity.StaticSchema](capacity)}
}

const (
	columnsQuery = `
        SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE
        FROM   information_schema.COLUMNS
        WHERE  TABLE_SCHEMA = DATABASE()
          AND  TABLE_NAME   = ?
        ORDER  BY ORDINAL_POSITION`

	qualifiedColumnsQuery = `
        SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE
        FROM   information_schema.COLUMNS
        WHERE  TABLE_SCHEMA = ?
          AND  TABLE_NAME   = ?
        ORDER  BY ORDINAL_POSITION`
)

// TableSchema returns the column set of table.  "schema.table" reads that
// schema; a bare name reads the reference database.
func (i *Inspector) TableSchema(ctx context.Context, table string) (entity.Schema, error) {
	if s, ok := i.tables.Get(table); ok {
		return s, nil
	}

	q, args := columnsQuery, []any{table}
	if db, name, ok := strings.Cut(table, "."); ok {
		q, args = qualifiedColumnsQuery, []any{strings.Trim(db, "`"), strings.Trim(name, "`")}
	}

	var rows []struct {
		Name     string `db:"COLUMN_NAME"`
		Type     string `db:"DATA_TYPE"`
		Nullable string `db:"IS_NULLABLE"`
	}
	if err := i.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", table, ErrUnknownTable)
	}

	s := make(entity.StaticSchema, len(rows))
	for _, r := range rows {
		s[r.Name] = entity.Column{Name: r.Name, Type: r.Type, Nullable: r.Nullable == "YES"}
	}
	i.tables.Add(table, s)
	return s, nil
}

// Forget drops a cached table, e.g. after a migration.
func (i *Inspector) Forget(table string) { i.tables.Remove(table) }
