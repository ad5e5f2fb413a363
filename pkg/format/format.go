// Package format defines the stable file format enumeration and
// suffix-based resolution used across importers, the manifest codec,
// and the ABI surface.
package format

import (
	"path/filepath"
	"strings"

	"github.com/fileforge/fileforge/pkg/errors"
)

// Format represents a supported input format. The integer values are
// part of the external contract and must never be renumbered.
type Format uint8

const (
	Auto    Format = 0
	Csv     Format = 1
	Tsv     Format = 2
	Xlsx    Format = 3
	Xlsm    Format = 4
	Xltx    Format = 5
	Xls     Format = 6
	Xlsb    Format = 7
	Ods     Format = 8
	Sqlite  Format = 9
	Dbf     Format = 10
	Mdb     Format = 11
	Accdb   Format = 12
	Parquet Format = 13
	DuckDb  Format = 14
	Jsonl   Format = 15
	Json    Format = 16
	Xml     Format = 17
	Html    Format = 18
	Txt     Format = 19
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case Auto:
		return "auto"
	case Csv:
		return "csv"
	case Tsv:
		return "tsv"
	case Xlsx:
		return "xlsx"
	case Xlsm:
		return "xlsm"
	case Xltx:
		return "xltx"
	case Xls:
		return "xls"
	case Xlsb:
		return "xlsb"
	case Ods:
		return "ods"
	case Sqlite:
		return "sqlite"
	case Dbf:
		return "dbf"
	case Mdb:
		return "mdb"
	case Accdb:
		return "accdb"
	case Parquet:
		return "parquet"
	case DuckDb:
		return "duckdb"
	case Jsonl:
		return "jsonl"
	case Json:
		return "json"
	case Xml:
		return "xml"
	case Html:
		return "html"
	case Txt:
		return "txt"
	default:
		return "unknown"
	}
}

// Parse parses a format string as used in manifests and CLI flags.
func Parse(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return Auto, nil
	case "csv":
		return Csv, nil
	case "tsv":
		return Tsv, nil
	case "xlsx":
		return Xlsx, nil
	case "xlsm":
		return Xlsm, nil
	case "xltx":
		return Xltx, nil
	case "xls":
		return Xls, nil
	case "xlsb":
		return Xlsb, nil
	case "ods":
		return Ods, nil
	case "sqlite":
		return Sqlite, nil
	case "dbf":
		return Dbf, nil
	case "mdb":
		return Mdb, nil
	case "accdb":
		return Accdb, nil
	case "parquet":
		return Parquet, nil
	case "duckdb":
		return DuckDb, nil
	case "jsonl", "ndjson":
		return Jsonl, nil
	case "json":
		return Json, nil
	case "xml":
		return Xml, nil
	case "html":
		return Html, nil
	case "txt":
		return Txt, nil
	default:
		return Auto, errors.New(errors.CodeUnsupportedFormat, "unknown format name").
			WithContext("format", s)
	}
}

// FromCode converts an external integer code to a Format.
func FromCode(code int32) (Format, error) {
	if code < 0 || code > int32(Txt) {
		return Auto, errors.New(errors.CodeUnsupportedFormat, "unknown format code").
			WithContext("code", code)
	}
	return Format(code), nil
}

// suffixes maps lowercase file suffixes (without the dot) to formats.
var suffixes = map[string]Format{
	"csv":     Csv,
	"tsv":     Tsv,
	"xlsx":    Xlsx,
	"xlsm":    Xlsm,
	"xltx":    Xltx,
	"xls":     Xls,
	"xlsb":    Xlsb,
	"ods":     Ods,
	"sqlite":  Sqlite,
	"db":      Sqlite,
	"dbf":     Dbf,
	"mdb":     Mdb,
	"accdb":   Accdb,
	"parquet": Parquet,
	"duckdb":  DuckDb,
	"jsonl":   Jsonl,
	"ndjson":  Jsonl,
	"json":    Json,
	"xml":     Xml,
	"html":    Html,
	"txt":     Txt,
}

// Resolve determines the effective format for a file. A declared format
// other than Auto wins unconditionally; under Auto the file suffix
// decides, and an unknown suffix is an error.
func Resolve(fileName string, declared Format) (Format, error) {
	if declared != Auto {
		return declared, nil
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if f, ok := suffixes[ext]; ok {
		return f, nil
	}
	return Auto, errors.UnsupportedFormat(fileName, ext)
}

// DefaultDelimiter returns the field delimiter implied by the format.
// Zero means the format has no delimiter concept.
func DefaultDelimiter(f Format) byte {
	switch f {
	case Tsv:
		return '\t'
	case Csv, Txt:
		return ','
	default:
		return 0
	}
}
