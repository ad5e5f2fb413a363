package store

import (
	"strings"
)

// QuoteIdent quotes an identifier for safe interpolation.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EscapeString escapes a string literal for safe interpolation.
func EscapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// reservedWords are SQL keywords that cannot serve as bare dataset
// names. The set follows the embedded engine's reserved list.
var reservedWords = map[string]struct{}{
	"all": {}, "analyse": {}, "analyze": {}, "and": {}, "any": {},
	"array": {}, "as": {}, "asc": {}, "asymmetric": {}, "both": {},
	"case": {}, "cast": {}, "check": {}, "collate": {}, "column": {},
	"constraint": {}, "create": {}, "default": {}, "deferrable": {},
	"desc": {}, "describe": {}, "distinct": {}, "do": {}, "else": {},
	"end": {}, "except": {}, "false": {}, "fetch": {}, "for": {},
	"foreign": {}, "from": {}, "grant": {}, "group": {}, "having": {},
	"in": {}, "initially": {}, "intersect": {}, "into": {}, "lateral": {},
	"leading": {}, "limit": {}, "not": {}, "null": {}, "offset": {},
	"on": {}, "only": {}, "or": {}, "order": {}, "pivot": {},
	"placing": {}, "primary": {}, "qualify": {}, "references": {},
	"returning": {}, "select": {}, "show": {}, "some": {}, "symmetric": {},
	"table": {}, "then": {}, "to": {}, "trailing": {}, "true": {},
	"union": {}, "unique": {}, "unpivot": {}, "using": {}, "variadic": {},
	"when": {}, "where": {}, "window": {}, "with": {},
}

// IsReservedWord reports whether name is a reserved SQL keyword.
func IsReservedWord(name string) bool {
	_, ok := reservedWords[strings.ToLower(name)]
	return ok
}

// TypeLabel maps an engine type name to the coarse label used in JSON
// payloads: "int", "float", "bool", "date", "timestamp", "blob",
// or "string" for everything else.
func TypeLabel(dbType string) string {
	t := strings.ToUpper(dbType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "TINYINT", "SMALLINT", "INTEGER", "INT", "BIGINT", "HUGEINT",
		"UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT", "INT8", "INT4",
		"INT2", "INT1", "LONG":
		return "int"
	case "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "REAL", "DECIMAL", "NUMERIC":
		return "float"
	case "BOOLEAN", "BOOL", "LOGICAL":
		return "bool"
	case "DATE":
		return "date"
	case "TIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE",
		"DATETIME", "TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS":
		return "timestamp"
	case "BLOB", "BYTEA", "BINARY", "VARBINARY":
		return "blob"
	default:
		return "string"
	}
}
