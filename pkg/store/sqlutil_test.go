package store

import "testing"

func TestQuoteIdent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"orders", `"orders"`},
		{`o"dd`, `"o""dd"`},
		{"mixed Case", `"mixed Case"`},
	}
	for _, tt := range tests {
		if got := QuoteIdent(tt.in); got != tt.want {
			t.Errorf("QuoteIdent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscapeString(t *testing.T) {
	if got := EscapeString("it's"); got != "it''s" {
		t.Errorf("EscapeString = %q", got)
	}
}

func TestIsReservedWord(t *testing.T) {
	for _, w := range []string{"select", "SELECT", "Table", "from", "where"} {
		if !IsReservedWord(w) {
			t.Errorf("%q should be reserved", w)
		}
	}
	for _, w := range []string{"orders", "events_2", "_tmp"} {
		if IsReservedWord(w) {
			t.Errorf("%q should not be reserved", w)
		}
	}
}

func TestTypeLabel(t *testing.T) {
	tests := []struct {
		dbType string
		want   string
	}{
		{"BIGINT", "int"},
		{"INTEGER", "int"},
		{"HUGEINT", "int"},
		{"DOUBLE", "float"},
		{"DECIMAL(18,3)", "float"},
		{"BOOLEAN", "bool"},
		{"VARCHAR", "string"},
		{"DATE", "date"},
		{"TIMESTAMP", "timestamp"},
		{"BLOB", "blob"},
		{"STRUCT(a INT)", "string"},
	}
	for _, tt := range tests {
		if got := TypeLabel(tt.dbType); got != tt.want {
			t.Errorf("TypeLabel(%q) = %q, want %q", tt.dbType, got, tt.want)
		}
	}
}

func TestParseEngineBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0 bytes", 0},
		{"512 bytes", 512},
		{"1.0 KiB", 1024},
		{"2.5 MiB", 2621440},
		{"1.0 GiB", 1073741824},
		{"garbage", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parseEngineBytes(tt.in); got != tt.want {
			t.Errorf("parseEngineBytes(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
