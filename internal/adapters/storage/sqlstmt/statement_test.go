package sqlstmt

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"
)

func TestParseRendersTemplates(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     string
		params   int
		category Category
	}{
		{
			name:     "select with reserved identifier",
			template: "SELECT {account_oid}, {order} FROM {account_quick_picks} WHERE {account_oid} = ?",
			want:     `SELECT account_oid, "order" FROM account_quick_picks WHERE account_oid = ?`,
			params:   1,
			category: CategorySelect,
		},
		{
			name:     "literal keeps question marks",
			template: "INSERT INTO {meta}({key}, {value}) VALUES ('what?', ?)",
			want:     `INSERT INTO meta("key", value) VALUES ('what?', ?)`,
			params:   1,
			category: CategoryInsert,
		},
		{
			name:     "escaped quote in literal",
			template: "UPDATE {t} SET {c} = 'it''s' WHERE {id} = ?",
			want:     `UPDATE t SET c = 'it''s' WHERE id = ?`,
			params:   1,
			category: CategoryUpdate,
		},
		{
			name:     "delete",
			template: "  delete from {objects} where {oid} = ?",
			want:     `delete from objects where oid = ?`,
			params:   1,
			category: CategoryDelete,
		},
		{
			name:     "pragma is other",
			template: "PRAGMA user_version = 1",
			want:     "PRAGMA user_version = 1",
			category: CategoryOther,
		},
		{
			name:     "cte select",
			template: "WITH {live} AS (SELECT {oid} FROM {objects} WHERE {dead} = 0) SELECT {oid} FROM {live}",
			want:     "WITH live AS (SELECT oid FROM objects WHERE dead = 0) SELECT oid FROM live",
			category: CategorySelect,
		},
		{
			name:     "cte delete is classified by its verb",
			template: "WITH {gone}({oid}) AS (SELECT ?) DELETE FROM {objects} WHERE {oid} IN (SELECT {oid} FROM {gone})",
			want:     "WITH gone(oid) AS (SELECT ?) DELETE FROM objects WHERE oid IN (SELECT oid FROM gone)",
			params:   1,
			category: CategoryDelete,
		},
		{
			name:     "recursive cte update",
			template: "WITH RECURSIVE {up}({oid}) AS (VALUES(?)) UPDATE {objects} SET {dead} = 1 WHERE {oid} IN (SELECT {oid} FROM {up})",
			want:     "WITH RECURSIVE up(oid) AS (VALUES(?)) UPDATE objects SET dead = 1 WHERE oid IN (SELECT oid FROM up)",
			params:   1,
			category: CategoryUpdate,
		},
		{
			name:     "odd identifier is quoted",
			template: "SELECT {weird name} FROM x",
			want:     `SELECT "weird name" FROM x`,
			category: CategorySelect,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st, err := Parse(SQLite, tc.template)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if st.SQL() != tc.want {
				t.Fatalf("SQL() = %q, want %q", st.SQL(), tc.want)
			}
			if st.Params() != tc.params {
				t.Fatalf("Params() = %d, want %d", st.Params(), tc.params)
			}
			if st.Category() != tc.category {
				t.Fatalf("Category() = %s, want %s", st.Category(), tc.category)
			}
		})
	}
}

func TestParseRejectsMalformedTemplates(t *testing.T) {
	for _, template := range []string{
		"SELECT {a FROM b",
		"SELECT {} FROM b",
		"SELECT a} FROM b",
		"SELECT 'open FROM b",
		"   ",
	} {
		if _, err := Parse(SQLite, template); !errors.Is(err, ErrSyntax) {
			t.Fatalf("Parse(%q) expected ErrSyntax, got %v", template, err)
		}
	}
}

func TestDialectQuoting(t *testing.T) {
	if !SQLite.IsReserved("order") || SQLite.IsReserved("login") {
		t.Fatal("unexpected reserved word classification")
	}
	if got := SQLite.Quote(`a"b`); got != `"a""b"` {
		t.Fatalf("Quote() = %q", got)
	}
	if got := SQLite.Identifier("_x1"); got != "_x1" {
		t.Fatalf("Identifier() = %q", got)
	}
	if got := SQLite.Identifier("1x"); got != `"1x"` {
		t.Fatalf("Identifier() = %q", got)
	}
}

func TestExecAndQueryDispatch(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	cat := NewCatalog(SQLite)
	stmt := func(template string) *Statement {
		t.Helper()
		st, err := cat.Statement(template)
		if err != nil {
			t.Fatalf("Statement() error = %v", err)
		}
		return st
	}

	if n, err := stmt("CREATE TABLE {picks}({id} INTEGER, {order} INTEGER)").Exec(ctx, db); err != nil || n != 0 {
		t.Fatalf("Exec(create) = %d, %v", n, err)
	}
	insert := stmt("INSERT INTO {picks}({id}, {order}) VALUES (?, ?)")
	for i := range 3 {
		if n, err := insert.Exec(ctx, db, i, 10-i); err != nil || n != 1 {
			t.Fatalf("Exec(insert) = %d, %v", n, err)
		}
	}
	if n, err := stmt("UPDATE {picks} SET {order} = 0 WHERE {id} > ?").Exec(ctx, db, 0); err != nil || n != 2 {
		t.Fatalf("Exec(update) = %d, %v", n, err)
	}
	if _, err := insert.Exec(ctx, db, 1); !errors.Is(err, ErrParamCount) {
		t.Fatalf("expected ErrParamCount, got %v", err)
	}
	sel := stmt("SELECT {id} FROM {picks} ORDER BY {order}, {id}")
	if _, err := sel.Exec(ctx, db); !errors.Is(err, ErrCategory) {
		t.Fatalf("expected ErrCategory, got %v", err)
	}
	rows, err := sel.Query(ctx, db)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 0 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if _, err := cat.Statement("SELECT {id} FROM {picks} ORDER BY {order}, {id}"); err != nil || cat.Len() != 4 {
		t.Fatalf("expected cached statement reuse, len = %d, err = %v", cat.Len(), err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.ExecContext(ctx, "CREATE TABLE t(x INTEGER)"); err != nil {
		t.Fatalf("create table error = %v", err)
	}

	insert := MustParse(SQLite, "INSERT INTO {t}({x}) VALUES (?)")
	boom := errors.New("boom")
	err = InTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := insert.Exec(ctx, tx, 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := InTx(ctx, db, func(tx *sql.Tx) error {
		_, err := insert.Exec(ctx, tx, 2)
		return err
	}); err != nil {
		t.Fatalf("InTx() error = %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("count error = %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after rollback, got %d", count)
	}
}
