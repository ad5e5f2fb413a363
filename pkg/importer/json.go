package importer

import (
	"context"
	"fmt"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/store"
)

// JSONImporter stages JSON documents and newline-delimited JSON
// through the engine's native reader over a spilled buffer.
type JSONImporter struct{}

// NewJSONImporter creates the JSON importer.
func NewJSONImporter() *JSONImporter {
	return &JSONImporter{}
}

// Formats returns the formats this importer handles.
func (i *JSONImporter) Formats() []format.Format {
	return []format.Format{format.Jsonl, format.Json}
}

// Import stages the buffer as one table.
func (i *JSONImporter) Import(ctx context.Context, st store.Store, buf []byte, fileName string, opts Options) (*Result, error) {
	path, cleanup, err := spill(buf, ".json")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	staging := stagingName()
	query := fmt.Sprintf(
		"CREATE TABLE %s AS SELECT * FROM read_json_auto('%s')",
		store.QuoteIdent(staging),
		store.EscapeString(path),
	)
	if err := st.Exec(ctx, query); err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedInput, "json read failed").
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
