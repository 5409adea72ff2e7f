// Package sqlstmt parses SQL statement templates and runs them against a
// database/sql handle. A template is plain SQL in which `?` is a positional
// parameter, `{name}` is an identifier quoted as the dialect requires and
// `'...'` is a string literal copied verbatim.
package sqlstmt

import (
	"strings"
)

// Dialect describes the identifier rules of one SQL engine.
type Dialect struct {
	name     string
	open     string
	close    string
	reserved map[string]struct{}
}

// NewDialect builds a dialect quoting identifiers with the given quotes and
// treating words as reserved (case-insensitive).
func NewDialect(name, openQuote, closeQuote string, words ...string) Dialect {
	reserved := make(map[string]struct{}, len(words))
	for _, w := range words {
		reserved[strings.ToUpper(w)] = struct{}{}
	}
	return Dialect{name: name, open: openQuote, close: closeQuote, reserved: reserved}
}

// Name returns the dialect name.
func (d Dialect) Name() string { return d.name }

// IsReserved reports whether word is a keyword of the dialect.
func (d Dialect) IsReserved(word string) bool {
	_, ok := d.reserved[strings.ToUpper(word)]
	return ok
}

// Quote always quotes name.
func (d Dialect) Quote(name string) string {
	return d.open + strings.ReplaceAll(name, d.close, d.close+d.close) + d.close
}

// Identifier renders name bare when that is safe and quoted otherwise.
func (d Dialect) Identifier(name string) string {
	if isPlainIdentifier(name) && !d.IsReserved(name) {
		return name
	}
	return d.Quote(name)
}

func isPlainIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// SQLite is the dialect of SQLite 3.
var SQLite = NewDialect("sqlite", `"`, `"`,
	"ABORT", "ACTION", "ADD", "AFTER", "ALL", "ALTER", "ALWAYS", "ANALYZE",
	"AND", "AS", "ASC", "ATTACH", "AUTOINCREMENT", "BEFORE", "BEGIN",
	"BETWEEN", "BY", "CASCADE", "CASE", "CAST", "CHECK", "COLLATE", "COLUMN",
	"COMMIT", "CONFLICT", "CONSTRAINT", "CREATE", "CROSS", "CURRENT",
	"CURRENT_DATE", "CURRENT_TIME", "CURRENT_TIMESTAMP", "DATABASE",
	"DEFAULT", "DEFERRABLE", "DEFERRED", "DELETE", "DESC", "DETACH",
	"DISTINCT", "DO", "DROP", "EACH", "ELSE", "END", "ESCAPE", "EXCEPT",
	"EXCLUDE", "EXCLUSIVE", "EXISTS", "EXPLAIN", "FAIL", "FILTER", "FIRST",
	"FOLLOWING", "FOR", "FOREIGN", "FROM", "FULL", "GENERATED", "GLOB",
	"GROUP", "GROUPS", "HAVING", "IF", "IGNORE", "IMMEDIATE", "IN", "INDEX",
	"INDEXED", "INITIALLY", "INNER", "INSERT", "INSTEAD", "INTERSECT", "INTO",
	"IS", "ISNULL", "JOIN", "KEY", "LAST", "LEFT", "LIKE", "LIMIT", "MATCH",
	"MATERIALIZED", "NATURAL", "NO", "NOT", "NOTHING", "NOTNULL", "NULL",
	"NULLS", "OF", "OFFSET", "ON", "OR", "ORDER", "OTHERS", "OUTER", "OVER",
	"PARTITION", "PLAN", "PRAGMA", "PRECEDING", "PRIMARY", "QUERY", "RAISE",
	"RANGE", "RECURSIVE", "REFERENCES", "REGEXP", "REINDEX", "RELEASE",
	"RENAME", "REPLACE", "RESTRICT", "RETURNING", "RIGHT", "ROLLBACK", "ROW",
	"ROWS", "SAVEPOINT", "SELECT", "SET", "TABLE", "TEMP", "TEMPORARY",
	"THEN", "TIES", "TO", "TRANSACTION", "TRIGGER", "UNBOUNDED", "UNION",
	"UNIQUE", "UPDATE", "USING", "VACUUM", "VALUES", "VIEW", "VIRTUAL",
	"WHEN", "WHERE", "WINDOW", "WITH", "WITHOUT",
)
