package store

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/fileforge/fileforge/pkg/errors"
)

// DuckStore is the DuckDB-backed Store implementation. Each instance
// owns one in-memory database.
type DuckStore struct {
	db      *sql.DB
	threads int
}

// NewDuckStore opens a fresh in-memory database.
func NewDuckStore() (*DuckStore, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeOpenFailed, "failed to initialize embedded database")
	}

	s := &DuckStore{
		db:      db,
		threads: runtime.NumCPU(),
	}

	s.db.Exec(fmt.Sprintf("SET threads=%d", s.threads))

	return s, nil
}

// DB exposes the underlying connection for extension loads.
func (s *DuckStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *DuckStore) Close() error {
	return s.db.Close()
}

// Exec runs a statement that produces no result set.
func (s *DuckStore) Exec(ctx context.Context, query string, args ...interface{}) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.SQLError(err)
	}
	return nil
}

// Query runs arbitrary SQL verbatim and returns a cursor.
func (s *DuckStore) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.SQLError(err)
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, errors.SQLError(err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, errors.SQLError(err)
	}

	schema := make([]Column, len(cols))
	for i, name := range cols {
		schema[i] = Column{
			Name: name,
			Type: colTypes[i].DatabaseTypeName(),
		}
		if nullable, ok := colTypes[i].Nullable(); ok {
			schema[i].Nullable = nullable
		}
	}

	return &duckRows{rows: rows, schema: schema}, nil
}

// QueryView runs sql verbatim and attempts to materialize the
// statement as a temporary view named ff_result_<id>. The view attempt
// happens first so a failure there never consumes the cursor; a failed
// attempt yields an empty view name, not an error.
func (s *DuckStore) QueryView(ctx context.Context, query string) (Rows, string, error) {
	viewName := "ff_result_" + strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	create := fmt.Sprintf("CREATE TEMP VIEW %s AS (%s)", QuoteIdent(viewName), query)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		viewName = ""
	}

	rows, err := s.Query(ctx, query)
	if err != nil {
		if viewName != "" {
			s.db.ExecContext(ctx, "DROP VIEW IF EXISTS "+QuoteIdent(viewName))
		}
		return nil, "", err
	}
	return rows, viewName, nil
}

// CreateTable creates a table with the declared columns.
func (s *DuckStore) CreateTable(ctx context.Context, name string, cols []Column) error {
	if len(cols) == 0 {
		return errors.New(errors.CodeStoreWriteFailed, "cannot create table with no columns").
			WithContext("table", name)
	}
	defs := make([]string, len(cols))
	for i, c := range cols {
		typ := c.Type
		if typ == "" {
			typ = "VARCHAR"
		}
		defs[i] = QuoteIdent(c.Name) + " " + typ
	}
	query := fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdent(name), strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return errors.Wrap(err, errors.CodeStoreWriteFailed, "create table failed").
			WithContext("table", name)
	}
	return nil
}

// DropObject removes a table or view if it exists.
func (s *DuckStore) DropObject(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdent(name)); err == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "DROP VIEW IF EXISTS "+QuoteIdent(name)); err != nil {
		return errors.Wrap(err, errors.CodeSQLError, "drop failed").WithContext("object", name)
	}
	return nil
}

// RenameObject renames a table, falling back to a view rename.
func (s *DuckStore) RenameObject(ctx context.Context, oldName, newName string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", QuoteIdent(oldName), QuoteIdent(newName))
	if _, err := s.db.ExecContext(ctx, stmt); err == nil {
		return nil
	}
	stmt = fmt.Sprintf("ALTER VIEW %s RENAME TO %s", QuoteIdent(oldName), QuoteIdent(newName))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, errors.CodeSQLError, "rename failed").
			WithContext("from", oldName).
			WithContext("to", newName)
	}
	return nil
}

// Describe returns the schema of a table or view.
func (s *DuckStore) Describe(ctx context.Context, name string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, "DESCRIBE "+QuoteIdent(name))
	if err != nil {
		return nil, errors.SQLError(err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		var isNull, key, defaultVal, extra sql.NullString
		if err := rows.Scan(&col.Name, &col.Type, &isNull, &key, &defaultVal, &extra); err != nil {
			return nil, errors.SQLError(err)
		}
		col.Nullable = isNull.String == "YES"
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// RowCount returns the number of rows in an object.
func (s *DuckStore) RowCount(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+QuoteIdent(name)).Scan(&n)
	if err != nil {
		return 0, errors.SQLError(err)
	}
	return n, nil
}

// ObjectBytes estimates the resident size of one object from the
// engine's row estimate and the column count. The estimate is coarse
// and only used for accounting.
func (s *DuckStore) ObjectBytes(ctx context.Context, name string) (int64, error) {
	var estRows sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT estimated_size FROM duckdb_tables() WHERE table_name = ?", name).Scan(&estRows)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, errors.SQLError(err)
	}

	cols, err := s.Describe(ctx, name)
	if err != nil {
		return 0, err
	}
	const bytesPerCell = 16
	return estRows.Int64 * int64(len(cols)) * bytesPerCell, nil
}

// DatabaseBytes returns the resident memory of the whole database.
func (s *DuckStore) DatabaseBytes(ctx context.Context) (int64, error) {
	var usage string
	err := s.db.QueryRowContext(ctx,
		"SELECT memory_usage FROM pragma_database_size()").Scan(&usage)
	if err != nil {
		return 0, errors.SQLError(err)
	}
	return parseEngineBytes(usage), nil
}

// HasObject reports whether a table or view with the name exists.
func (s *DuckStore) HasObject(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?", name).Scan(&n)
	if err != nil {
		return false, errors.SQLError(err)
	}
	return n > 0, nil
}

// parseEngineBytes parses the engine's human-readable sizes ("1.2 MiB",
// "256.0 KiB", "0 bytes") into a byte count. Unparseable input yields 0.
func parseEngineBytes(s string) int64 {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return 0
	}
	val, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	unit := "bytes"
	if len(fields) > 1 {
		unit = fields[1]
	}
	switch strings.ToLower(unit) {
	case "bytes", "byte", "b":
		return int64(val)
	case "kib", "kb":
		return int64(val * 1024)
	case "mib", "mb":
		return int64(val * 1024 * 1024)
	case "gib", "gb":
		return int64(val * 1024 * 1024 * 1024)
	case "tib", "tb":
		return int64(val * 1024 * 1024 * 1024 * 1024)
	default:
		return int64(val)
	}
}

// duckRows adapts *sql.Rows to the Rows contract.
type duckRows struct {
	rows   *sql.Rows
	schema []Column
}

func (r *duckRows) Columns() []Column              { return r.schema }
func (r *duckRows) Next() bool                     { return r.rows.Next() }
func (r *duckRows) Scan(dest ...interface{}) error { return r.rows.Scan(dest...) }
func (r *duckRows) Err() error                     { return r.rows.Err() }
func (r *duckRows) Close() error                   { return r.rows.Close() }
