package sqlstmt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// Errors returned by the parser and the executor.
var (
	ErrSyntax     = errors.New("sql template syntax error")
	ErrParamCount = errors.New("sql parameter count mismatch")
	ErrCategory   = errors.New("sql statement category mismatch")
)

// Category classifies a statement by its leading keyword.
type Category int

// Category values.
const (
	CategoryOther Category = iota
	CategorySelect
	CategoryInsert
	CategoryUpdate
	CategoryDelete
)

// String renders the category.
func (c Category) String() string {
	switch c {
	case CategorySelect:
		return "select"
	case CategoryInsert:
		return "insert"
	case CategoryUpdate:
		return "update"
	case CategoryDelete:
		return "delete"
	default:
		return "other"
	}
}

// segmentKind identifies one parsed template fragment.
type segmentKind int

const (
	segmentText segmentKind = iota
	segmentParam
	segmentIdent
	segmentLiteral
)

type segment struct {
	kind segmentKind
	text string
}

// Statement is a parsed template bound to a dialect.
type Statement struct {
	template string
	segments []segment
	sql      string
	params   int
	category Category
}

// Parse parses template for dialect d.
func Parse(d Dialect, template string) (*Statement, error) {
	var (
		segs []segment
		text strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			segs = append(segs, segment{kind: segmentText, text: text.String()})
			text.Reset()
		}
	}
	for i := 0; i < len(template); i++ {
		switch c := template[i]; c {
		case '?':
			flush()
			segs = append(segs, segment{kind: segmentParam, text: "?"})
		case '{':
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated identifier at offset %d", ErrSyntax, i)
			}
			name := strings.TrimSpace(template[i+1 : i+1+end])
			if name == "" {
				return nil, fmt.Errorf("%w: empty identifier at offset %d", ErrSyntax, i)
			}
			flush()
			segs = append(segs, segment{kind: segmentIdent, text: d.Identifier(name)})
			i += end + 1
		case '}':
			return nil, fmt.Errorf("%w: unbalanced '}' at offset %d", ErrSyntax, i)
		case '\'':
			j := i + 1
			for {
				k := strings.IndexByte(template[j:], '\'')
				if k < 0 {
					return nil, fmt.Errorf("%w: unterminated string literal at offset %d", ErrSyntax, i)
				}
				j += k + 1
				if j < len(template) && template[j] == '\'' {
					j++
					continue
				}
				break
			}
			flush()
			segs = append(segs, segment{kind: segmentLiteral, text: template[i:j]})
			i = j - 1
		default:
			text.WriteByte(c)
		}
	}
	flush()

	st := &Statement{template: template, segments: segs}
	var out strings.Builder
	for _, s := range segs {
		if s.kind == segmentParam {
			st.params++
		}
		out.WriteString(s.text)
	}
	st.sql = strings.TrimSpace(out.String())
	if st.sql == "" {
		return nil, fmt.Errorf("%w: empty statement", ErrSyntax)
	}
	st.category = detectCategory(segs)
	return st, nil
}

// MustParse is Parse for package-level templates known to be valid.
func MustParse(d Dialect, template string) *Statement {
	st, err := Parse(d, template)
	if err != nil {
		panic(err)
	}
	return st
}

// detectCategory classifies by the leading keyword. A WITH prefix is
// skipped and the statement is classified by the first verb outside the
// common table expressions.
func detectCategory(segs []segment) Category {
	if len(segs) == 0 || segs[0].kind != segmentText {
		return CategoryOther
	}
	words := topLevelWords(segs)
	if len(words) == 0 {
		return CategoryOther
	}
	if words[0] != "WITH" {
		return verbCategory(words[0])
	}
	for _, w := range words[1:] {
		switch w {
		case "SELECT", "VALUES", "INSERT", "REPLACE", "UPDATE", "DELETE":
			return verbCategory(w)
		}
	}
	return CategoryOther
}

func verbCategory(word string) Category {
	switch word {
	case "SELECT", "VALUES":
		return CategorySelect
	case "INSERT", "REPLACE":
		return CategoryInsert
	case "UPDATE":
		return CategoryUpdate
	case "DELETE":
		return CategoryDelete
	default:
		return CategoryOther
	}
}

// topLevelWords returns the upper-cased words of the text fragments that sit
// outside any parentheses. Identifiers and literals are never keywords.
func topLevelWords(segs []segment) []string {
	var (
		words []string
		word  strings.Builder
		depth int
	)
	end := func() {
		if word.Len() > 0 {
			if depth == 0 {
				words = append(words, strings.ToUpper(word.String()))
			}
			word.Reset()
		}
	}
	for _, s := range segs {
		if s.kind != segmentText {
			end()
			continue
		}
		for _, r := range s.text {
			switch {
			case unicode.IsLetter(r):
				word.WriteRune(r)
			case r == '(':
				end()
				depth++
			case r == ')':
				end()
				if depth > 0 {
					depth--
				}
			default:
				end()
			}
		}
	}
	end()
	return words
}

// SQL returns the rendered statement text.
func (s *Statement) SQL() string { return s.sql }

// Template returns the source template.
func (s *Statement) Template() string { return s.template }

// Params returns the number of positional parameters.
func (s *Statement) Params() int { return s.params }

// Category returns the detected statement category.
func (s *Statement) Category() Category { return s.category }

// Queryer is the subset of *sql.DB and *sql.Tx a statement runs against.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Statement) checkArgs(args []any) error {
	if len(args) != s.params {
		return fmt.Errorf("%w: %q wants %d, got %d", ErrParamCount, s.sql, s.params, len(args))
	}
	return nil
}

// Query runs a select statement and returns its result set.
func (s *Statement) Query(ctx context.Context, q Queryer, args ...any) (*sql.Rows, error) {
	if s.category != CategorySelect {
		return nil, fmt.Errorf("%w: query on %s statement", ErrCategory, s.category)
	}
	if err := s.checkArgs(args); err != nil {
		return nil, err
	}
	return q.QueryContext(ctx, s.sql, args...)
}

// Exec runs a non-select statement. Insert, update and delete statements
// report the affected row count; other statements report zero.
func (s *Statement) Exec(ctx context.Context, q Queryer, args ...any) (int64, error) {
	if s.category == CategorySelect {
		return 0, fmt.Errorf("%w: exec on select statement", ErrCategory)
	}
	if err := s.checkArgs(args); err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, s.sql, args...)
	if err != nil {
		return 0, err
	}
	switch s.category {
	case CategoryInsert, CategoryUpdate, CategoryDelete:
		return res.RowsAffected()
	default:
		return 0, nil
	}
}

// Catalog caches parsed statements by template.
type Catalog struct {
	dialect Dialect
	mu      sync.Mutex
	parsed  map[string]*Statement
}

// NewCatalog returns an empty catalog for d.
func NewCatalog(d Dialect) *Catalog {
	return &Catalog{dialect: d, parsed: make(map[string]*Statement)}
}

// Dialect returns the catalog dialect.
func (c *Catalog) Dialect() Dialect { return c.dialect }

// Statement returns the parsed form of template, parsing it on first use.
func (c *Catalog) Statement(template string) (*Statement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.parsed[template]; ok {
		return st, nil
	}
	st, err := Parse(c.dialect, template)
	if err != nil {
		return nil, err
	}
	c.parsed[template] = st
	return st, nil
}

// Len returns the number of cached statements.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.parsed)
}

// InTx runs fn inside a transaction on db, committing on success and
// rolling back on any error or panic.
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
