package importer

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Sanitize lowercases a name and collapses every run of characters
// outside [a-z0-9] into a single underscore; runs at the start or end are
// dropped instead. A result that would start
// with a digit is prefixed with an underscore; an empty result becomes
// "dataset".
func Sanitize(name string) string {
	var sb strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && sb.Len() > 0 {
				sb.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.TrimRight(sb.String(), "_")
	if out == "" {
		return "dataset"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

// FileStem returns the file name without directory or final suffix.
func FileStem(fileName string) string {
	base := filepath.Base(fileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// DefaultName derives the registry name for a dataset. Single-table
// sources pass an empty object and get the bare stem.
func DefaultName(fileName, object string) string {
	stem := Sanitize(FileStem(fileName))
	if object == "" {
		return stem
	}
	return stem + "__" + Sanitize(object)
}

// EnsureUnique resolves name collisions within one import by suffixing
// _2, _3 and so on in enumeration order. The first occurrence keeps
// the bare name.
func EnsureUnique(names []string) []string {
	seen := make(map[string]int, len(names))
	taken := make(map[string]struct{}, len(names))
	for _, n := range names {
		taken[n] = struct{}{}
	}

	out := make([]string, len(names))
	for i, n := range names {
		seen[n]++
		if seen[n] == 1 {
			out[i] = n
			continue
		}
		k := seen[n]
		candidate := fmt.Sprintf("%s_%d", n, k)
		for {
			if _, clash := taken[candidate]; !clash {
				break
			}
			k++
			candidate = fmt.Sprintf("%s_%d", n, k)
		}
		taken[candidate] = struct{}{}
		out[i] = candidate
	}
	return out
}
