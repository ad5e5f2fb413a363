package importer

import (
	"context"
	"fmt"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/store"
)

// DelimitedImporter stages CSV, TSV, and delimited text files through
// the engine's native reader over a spilled buffer.
type DelimitedImporter struct{}

// NewDelimitedImporter creates the delimited-text importer.
func NewDelimitedImporter() *DelimitedImporter {
	return &DelimitedImporter{}
}

// Formats returns the formats this importer handles.
func (i *DelimitedImporter) Formats() []format.Format {
	return []format.Format{format.Csv, format.Tsv, format.Txt}
}

// Import stages the buffer as one table.
func (i *DelimitedImporter) Import(ctx context.Context, st store.Store, buf []byte, fileName string, opts Options) (*Result, error) {
	f, err := format.Resolve(fileName, format.Auto)
	if err != nil {
		// Declared-format imports may carry any suffix.
		f = format.Csv
	}

	delim := opts.Delimiter
	if delim == 0 {
		delim = format.DefaultDelimiter(f)
	}
	if delim == 0 {
		delim = ','
	}

	path, cleanup, err := spill(buf, ".txt")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	staging := stagingName()
	query := fmt.Sprintf(
		"CREATE TABLE %s AS SELECT * FROM read_csv('%s', delim='%s', header=%t, sample_size=-1)",
		store.QuoteIdent(staging),
		store.EscapeString(path),
		store.EscapeString(string(delim)),
		opts.HasHeaderRow,
	)
	if err := st.Exec(ctx, query); err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedInput, "delimited read failed").
			WithContext("file", fileName)
	}

	ds, err := describeStaged(ctx, st, staging, fileName, "")
	if err != nil {
		st.DropObject(ctx, staging)
		return nil, err
	}

	return &Result{
		Datasets:    []Dataset{ds},
		ApproxBytes: int64(len(buf)),
	}, nil
}

// describeStaged fills a Dataset from a freshly staged table.
func describeStaged(ctx context.Context, st store.Store, staging, fileName, object string) (Dataset, error) {
	cols, err := st.Describe(ctx, staging)
	if err != nil {
		return Dataset{}, errors.Wrap(err, errors.CodeImportFailed, "failed to describe staged table")
	}
	rows, err := st.RowCount(ctx, staging)
	if err != nil {
		return Dataset{}, errors.Wrap(err, errors.CodeImportFailed, "failed to count staged rows")
	}
	return Dataset{
		DefaultName:  DefaultName(fileName, object),
		ObjectName:   object,
		StagingTable: staging,
		Columns:      cols,
		RowCount:     rows,
	}, nil
}
