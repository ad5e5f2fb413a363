// Package store wraps the embedded analytical database behind a narrow
// contract so the workbook layer never touches SQL plumbing directly.
package store

import "context"

// Column describes one column of a stored object.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Rows is a minimal forward-only result cursor.
type Rows interface {
	// Columns returns the result schema.
	Columns() []Column

	// Next advances to the next row.
	Next() bool

	// Scan scans the current row into dest.
	Scan(dest ...interface{}) error

	// Err returns any error seen during iteration.
	Err() error

	// Close releases the cursor.
	Close() error
}

// Store is the embedded database contract the engine depends on.
// Implementations own connection lifecycle and identifier quoting of
// the names they are handed; SQL text passed to Query runs verbatim.
type Store interface {
	// Exec runs a statement that produces no result set.
	Exec(ctx context.Context, sql string, args ...interface{}) error

	// Query runs arbitrary SQL verbatim and returns a cursor.
	Query(ctx context.Context, sql string, args ...interface{}) (Rows, error)

	// QueryView runs sql verbatim and additionally attempts to
	// materialize the statement as a uniquely named temporary view.
	// The returned view name is empty when materialization failed;
	// that is not an error.
	QueryView(ctx context.Context, sql string) (Rows, string, error)

	// CreateTable creates a table with the given columns, all typed as
	// declared. Used by importers for staged row loads.
	CreateTable(ctx context.Context, name string, cols []Column) error

	// DropObject removes a table or view if it exists.
	DropObject(ctx context.Context, name string) error

	// RenameObject renames a table or view.
	RenameObject(ctx context.Context, oldName, newName string) error

	// Describe returns the schema of a table or view.
	Describe(ctx context.Context, name string) ([]Column, error)

	// RowCount returns the number of rows in an object.
	RowCount(ctx context.Context, name string) (int64, error)

	// ObjectBytes returns a coarse estimate of the resident size of an
	// object in bytes.
	ObjectBytes(ctx context.Context, name string) (int64, error)

	// DatabaseBytes returns the resident memory of the whole database.
	DatabaseBytes(ctx context.Context) (int64, error)

	// HasObject reports whether a table or view with the name exists.
	HasObject(ctx context.Context, name string) (bool, error)

	// Close releases the database.
	Close() error
}
