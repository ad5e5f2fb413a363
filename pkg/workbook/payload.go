package workbook

import (
	json "github.com/goccy/go-json"

	"github.com/fileforge/fileforge/pkg/errors"
)

// Canonical JSON payload shapes. Field names are part of the external
// contract.

type columnPayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type sheetPayload struct {
	Name        string          `json:"name"`
	RowCount    int64           `json:"rowCount"`
	ColumnCount int             `json:"columnCount"`
	Columns     []columnPayload `json:"columns"`
}

type listDatasetsPayload struct {
	Sheets []sheetPayload `json:"sheets"`
}

type queryMetaPayload struct {
	RuntimeViewName *string `json:"runtimeViewName"`
}

type queryPayload struct {
	Columns []columnPayload  `json:"columns"`
	Rows    [][]interface{}  `json:"rows"`
	Meta    queryMetaPayload `json:"meta"`
}

type datasetSourcePayload struct {
	TechnicalName    string  `json:"technicalName"`
	SourceFilePath   string  `json:"sourceFilePath"`
	SourceObjectName *string `json:"sourceObjectName"`
}

type listDatasetSourcesPayload struct {
	Datasets []datasetSourcePayload `json:"datasets"`
}

type sourcePathsPayload struct {
	Paths []string `json:"paths"`
}

type sourceMemoryPayload struct {
	SourceFilePath   string  `json:"sourceFilePath"`
	SourceObjectName *string `json:"sourceObjectName"`
	ApproxBytes      int64   `json:"approxBytes"`
}

type workbookMemoryPayload struct {
	ApproxDbBytes         int64                 `json:"approxDbBytes"`
	ApproxFileBufferBytes int64                 `json:"approxFileBufferBytes"`
	ApproxTotalBytes      int64                 `json:"approxTotalBytes"`
	Sources               []sourceMemoryPayload `json:"sources"`
}

type datasetMemoryPayload struct {
	TechnicalName    string  `json:"technicalName"`
	SourceFilePath   string  `json:"sourceFilePath"`
	SourceObjectName *string `json:"sourceObjectName"`
	ApproxBytes      int64   `json:"approxBytes"`
}

type listDatasetMemoryPayload struct {
	Datasets []datasetMemoryPayload `json:"datasets"`
}

// marshal encodes a payload into the canonical JSON text.
func marshal(v interface{}) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "payload encoding failed")
	}
	return string(out), nil
}

// optional turns an empty string into a JSON null.
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
