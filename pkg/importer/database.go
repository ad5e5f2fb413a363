package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/store"
)

// SqliteImporter copies every user table of a SQLite database into the
// store through the engine's sqlite extension.
type SqliteImporter struct{}

// NewSqliteImporter creates the SQLite importer.
func NewSqliteImporter() *SqliteImporter {
	return &SqliteImporter{}
}

// Formats returns the formats this importer handles.
func (i *SqliteImporter) Formats() []format.Format {
	return []format.Format{format.Sqlite}
}

// Import stages every user table as its own dataset.
func (i *SqliteImporter) Import(ctx context.Context, st store.Store, buf []byte, fileName string, opts Options) (*Result, error) {
	if err := st.Exec(ctx, "INSTALL sqlite; LOAD sqlite"); err != nil {
		return nil, errors.Wrap(err, errors.CodeImportFailed, "sqlite extension unavailable")
	}
	return stageAttachedDatabase(ctx, st, buf, fileName, ".sqlite", "(TYPE SQLITE, READ_ONLY)")
}

// DuckDbImporter copies every table of a database file in the engine's
// own format.
type DuckDbImporter struct{}

// NewDuckDbImporter creates the importer for the engine's file format.
func NewDuckDbImporter() *DuckDbImporter {
	return &DuckDbImporter{}
}

// Formats returns the formats this importer handles.
func (i *DuckDbImporter) Formats() []format.Format {
	return []format.Format{format.DuckDb}
}

// Import stages every table as its own dataset.
func (i *DuckDbImporter) Import(ctx context.Context, st store.Store, buf []byte, fileName string, opts Options) (*Result, error) {
	return stageAttachedDatabase(ctx, st, buf, fileName, ".duckdb", "(READ_ONLY)")
}

// stageAttachedDatabase spills the buffer, attaches it read-only under
// a throwaway alias, copies every table into staging, and detaches.
func stageAttachedDatabase(ctx context.Context, st store.Store, buf []byte, fileName, suffix, attachOpts string) (*Result, error) {
	path, cleanup, err := spill(buf, suffix)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	alias := "ff_src_" + uuid.New().String()[:8]
	attach := fmt.Sprintf("ATTACH '%s' AS %s %s", store.EscapeString(path), alias, attachOpts)
	if err := st.Exec(ctx, attach); err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedInput, "failed to attach database").
			WithContext("file", fileName)
	}
	defer st.Exec(ctx, "DETACH "+alias)

	tables, err := listAttachedTables(ctx, st, alias)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, errors.New(errors.CodeImportFailed, "database has no tables").
			WithContext("file", fileName)
	}

	var staged []string
	dropStaged := func() {
		for _, s := range staged {
			st.DropObject(ctx, s)
		}
	}

	datasets := make([]Dataset, 0, len(tables))
	for _, table := range tables {
		staging := stagingName()
		copyStmt := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s.%s",
			store.QuoteIdent(staging), alias, store.QuoteIdent(table))
		if err := st.Exec(ctx, copyStmt); err != nil {
			dropStaged()
			return nil, errors.Wrapf(err, errors.CodeImportFailed, "failed to copy table %q", table)
		}
		staged = append(staged, staging)

		ds, err := describeStaged(ctx, st, staging, fileName, table)
		if err != nil {
			dropStaged()
			return nil, err
		}
		datasets = append(datasets, ds)
	}

	return &Result{
		Datasets:    datasets,
		ApproxBytes: int64(len(buf)),
	}, nil
}

// listAttachedTables enumerates base tables of an attached database in
// name order.
func listAttachedTables(ctx context.Context, st store.Store, alias string) ([]string, error) {
	rows, err := st.Query(ctx,
		"SELECT table_name FROM duckdb_tables() WHERE database_name = ? ORDER BY table_name", alias)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeImportFailed, "failed to list tables")
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.CodeImportFailed, "failed to scan table name")
		}
		if strings.HasPrefix(name, "sqlite_") {
			continue
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
