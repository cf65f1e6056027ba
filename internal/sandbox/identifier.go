package sandbox

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	unsafeFilenameChars   = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	unsafeIdentifierChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	leadingDigit          = regexp.MustCompile(`^[0-9]`)
)

const (
	maxFilenameLen   = 100
	maxIdentifierLen = 50
)

// SecureFilename strips directory components and dangerous characters from
// an uploaded filename before it is used for anything.
func SecureFilename(name string) string {
	if name == "" {
		return "unnamed"
	}
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, "\x00", "")
	base = strings.ReplaceAll(base, "..", "")
	base = strings.ReplaceAll(base, "/", "")
	base = strings.ReplaceAll(base, "\\", "")
	base = unsafeFilenameChars.ReplaceAllString(base, "_")
	if len(base) > maxFilenameLen {
		base = base[:maxFilenameLen]
	}
	if base == "" || base == "." {
		return "unnamed"
	}
	return base
}

// TableName derives a lowercase SQL-identifier-safe table name from a
// sanitized filename.
func TableName(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	name := unsafeIdentifierChars.ReplaceAllString(stem, "_")
	if leadingDigit.MatchString(name) {
		name = "table_" + name
	}
	name = strings.ToLower(name)
	if len(name) > maxIdentifierLen {
		name = name[:maxIdentifierLen]
	}
	if name == "" {
		return "table"
	}
	return name
}

// ColumnName derives a lowercase SQL-identifier-safe column name.
func ColumnName(column string) string {
	name := unsafeIdentifierChars.ReplaceAllString(strings.TrimSpace(column), "_")
	if leadingDigit.MatchString(name) {
		name = "col_" + name
	}
	name = strings.ToLower(name)
	if len(name) > maxIdentifierLen {
		name = name[:maxIdentifierLen]
	}
	if name == "" {
		return "column"
	}
	return name
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
