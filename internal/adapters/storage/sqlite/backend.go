// Package sqlite persists a tt3 database in a SQLite file, one table per
// family of object kinds plus join tables for to-many associations.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/hylla/tt3/internal/adapters/storage/sqlstmt"
	"github.com/hylla/tt3/internal/db"
	"github.com/hylla/tt3/internal/domain"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// driverName is the database/sql driver registered by modernc.org/sqlite.
const driverName = "sqlite"

// TypeName identifies the backend in configuration.
const TypeName = "sqlite"

// MemoryAddress is the address of in-memory databases.
const MemoryAddress = ":memory:"

// schemaVersion is stamped into PRAGMA user_version.
const schemaVersion = 1

// metaNextOID is the meta key of the OID counter.
const metaNextOID = "next_oid"

//go:embed schema.sql
var schemaSQL string

// Options configures a Backend.
type Options struct {
	ReadOnly bool
	Logger   *log.Logger
}

// Backend implements db.Backend on SQLite.
type Backend struct {
	db       *sql.DB
	address  string
	readOnly bool
	catalog  *sqlstmt.Catalog
	logger   *log.Logger
}

var _ db.Backend = (*Backend)(nil)

// Create creates a new database file at path. The file must not exist.
func Create(ctx context.Context, path string, opts Options) (*Backend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", db.ErrInvalidAddress)
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %q already exists", db.ErrInvalidAddress, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &db.StorageError{Op: "create sqlite dir", Err: err}
	}
	opts.ReadOnly = false
	b, err := open(path, path, opts)
	if err != nil {
		return nil, err
	}
	if err := b.applySchema(ctx); err != nil {
		_ = b.db.Close()
		_ = os.Remove(path)
		return nil, err
	}
	b.logger.Info("sqlite database created")
	return b, nil
}

// Open opens an existing database file at path.
func Open(ctx context.Context, path string, opts Options) (*Backend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", db.ErrInvalidAddress)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a database file", db.ErrInvalidAddress, path)
	}
	b, err := open(path, path, opts)
	if err != nil {
		return nil, err
	}
	if err := b.checkSchema(ctx); err != nil {
		_ = b.db.Close()
		return nil, err
	}
	return b, nil
}

// OpenInMemory creates a private in-memory database.
func OpenInMemory(ctx context.Context, opts Options) (*Backend, error) {
	opts.ReadOnly = false
	b, err := open(MemoryAddress, MemoryAddress, opts)
	if err != nil {
		return nil, err
	}
	if err := b.applySchema(ctx); err != nil {
		_ = b.db.Close()
		return nil, err
	}
	return b, nil
}

func open(dsn, address string, opts Options) (*Backend, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &db.StorageError{Op: "open sqlite", Err: err}
	}
	// One connection keeps in-memory databases alive and serializes writers.
	conn.SetMaxOpenConns(1)
	b := &Backend{
		db:       conn,
		address:  address,
		readOnly: opts.ReadOnly,
		catalog:  sqlstmt.NewCatalog(sqlstmt.SQLite),
		logger:   logger.With("backend", TypeName, "address", address),
	}
	if err := b.applyPragmas(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return b, nil
}

// applyPragmas sets the connection configuration.
func (b *Backend) applyPragmas() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if b.readOnly {
		pragmas = append(pragmas, "PRAGMA query_only = ON")
	}
	for _, pragma := range pragmas {
		if _, err := b.db.Exec(pragma); err != nil {
			return classify(fmt.Sprintf("execute %q", pragma), err)
		}
	}
	return nil
}

// applySchema creates every table and stamps the schema version.
func (b *Backend) applySchema(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, schemaSQL); err != nil {
		return classify("apply schema", err)
	}
	if _, err := b.db.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(schemaVersion)); err != nil {
		return classify("stamp schema version", err)
	}
	return b.writeNextOID(ctx, b.db, 0)
}

// checkSchema verifies an existing file carries a supported tt3 schema.
func (b *Backend) checkSchema(ctx context.Context) error {
	var version int
	if err := b.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return classify("read schema version", err)
	}
	switch {
	case version == 0:
		return fmt.Errorf("%w: %q is not a tt3 database", db.ErrCorrupt, b.address)
	case version > schemaVersion:
		return fmt.Errorf("%w: schema version %d is newer than supported %d", db.ErrCorrupt, version, schemaVersion)
	}
	return nil
}

// Type implements db.Backend.
func (b *Backend) Type() string { return TypeName }

// Address implements db.Backend.
func (b *Backend) Address() string { return b.address }

// Close implements db.Backend.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) stmt(template string) (*sqlstmt.Statement, error) {
	st, err := b.catalog.Statement(template)
	if err != nil {
		return nil, fmt.Errorf("sqlite layout: %w", err)
	}
	return st, nil
}

// Load implements db.Backend.
func (b *Backend) Load(ctx context.Context) (*db.Graph, error) {
	graph := &db.Graph{}
	next, err := b.readNextOID(ctx)
	if err != nil {
		return nil, err
	}
	graph.NextOID = next

	records, order, err := b.loadObjects(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tables {
		if err := b.loadTable(ctx, &tables[i], records); err != nil {
			return nil, err
		}
	}
	if err := b.loadEmails(ctx, records); err != nil {
		return nil, err
	}
	for _, j := range joinTables {
		if err := b.loadJoin(ctx, j, records); err != nil {
			return nil, err
		}
	}
	for _, oid := range order {
		graph.Records = append(graph.Records, *records[oid])
	}
	return graph, nil
}

func (b *Backend) readNextOID(ctx context.Context) (domain.OID, error) {
	st, err := b.stmt("SELECT {value} FROM {meta} WHERE {key} = ?")
	if err != nil {
		return 0, err
	}
	rows, err := st.Query(ctx, b.db, metaNextOID)
	if err != nil {
		return 0, classify("read next oid", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, classify("read next oid", rows.Err())
	}
	var raw string
	if err := rows.Scan(&raw); err != nil {
		return 0, classify("read next oid", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: next oid %q", db.ErrCorrupt, raw)
	}
	return domain.OID(n), nil
}

func (b *Backend) loadObjects(ctx context.Context) (map[domain.OID]*db.Record, []domain.OID, error) {
	st, err := b.stmt("SELECT {oid}, {kind} FROM {objects} ORDER BY {oid}")
	if err != nil {
		return nil, nil, err
	}
	rows, err := st.Query(ctx, b.db)
	if err != nil {
		return nil, nil, classify("load objects", err)
	}
	defer rows.Close()
	records := make(map[domain.OID]*db.Record)
	var order []domain.OID
	for rows.Next() {
		var (
			oid int64
			raw string
		)
		if err := rows.Scan(&oid, &raw); err != nil {
			return nil, nil, classify("load objects", err)
		}
		kind, ok := domain.ParseKind(raw)
		if !ok {
			return nil, nil, fmt.Errorf("%w: object %d has unknown kind %q", db.ErrCorrupt, oid, raw)
		}
		records[domain.OID(oid)] = &db.Record{
			OID:   domain.OID(oid),
			Kind:  kind,
			Props: make(map[string]any),
			Links: make(map[string][]domain.OID),
		}
		order = append(order, domain.OID(oid))
	}
	return records, order, classify("load objects", rows.Err())
}

func (b *Backend) loadTable(ctx context.Context, t *table, records map[domain.OID]*db.Record) error {
	st, err := b.stmt(t.selectTemplate())
	if err != nil {
		return err
	}
	rows, err := st.Query(ctx, b.db)
	if err != nil {
		return classify("load "+t.name, err)
	}
	defer rows.Close()
	values := make([]any, len(t.columns)+1)
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return classify("load "+t.name, err)
		}
		oid, err := scanOID(values[0])
		if err != nil {
			return fmt.Errorf("%w: %s oid: %v", db.ErrCorrupt, t.name, err)
		}
		rec := records[oid]
		if rec == nil {
			return fmt.Errorf("%w: %s row %d has no object", db.ErrCorrupt, t.name, oid)
		}
		for i, c := range t.columns {
			if !c.applies(rec.Kind) {
				continue
			}
			raw := values[i+1]
			if c.link != nil {
				if raw == nil {
					continue
				}
				target, err := scanOID(raw)
				if err != nil {
					return fmt.Errorf("%w: %s.%s of %d: %v", db.ErrCorrupt, t.name, c.name, oid, err)
				}
				rec.Links[c.link.Name()] = []domain.OID{target}
				continue
			}
			v, err := c.prop.ScanSQL(raw)
			if err != nil {
				return fmt.Errorf("%w: %s.%s of %d: %v", db.ErrCorrupt, t.name, c.name, oid, err)
			}
			rec.Props[c.prop.Name()] = v
		}
	}
	return classify("load "+t.name, rows.Err())
}

func (b *Backend) loadEmails(ctx context.Context, records map[domain.OID]*db.Record) error {
	st, err := b.stmt("SELECT {oid}, {address} FROM {" + emailTable + "} ORDER BY {oid}, {position}")
	if err != nil {
		return err
	}
	rows, err := st.Query(ctx, b.db)
	if err != nil {
		return classify("load email addresses", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			oid     int64
			address string
		)
		if err := rows.Scan(&oid, &address); err != nil {
			return classify("load email addresses", err)
		}
		rec := records[domain.OID(oid)]
		if rec == nil || !db.EmailAddresses.AppliesTo(rec.Kind) {
			return fmt.Errorf("%w: email address row for %d", db.ErrCorrupt, oid)
		}
		list, _ := rec.Props[db.EmailAddresses.Name()].([]string)
		rec.Props[db.EmailAddresses.Name()] = append(list, address)
	}
	return classify("load email addresses", rows.Err())
}

func (b *Backend) loadJoin(ctx context.Context, j joinTable, records map[domain.OID]*db.Record) error {
	st, err := b.stmt(j.selectTemplate())
	if err != nil {
		return err
	}
	rows, err := st.Query(ctx, b.db)
	if err != nil {
		return classify("load "+j.name, err)
	}
	defer rows.Close()
	for rows.Next() {
		var owner, target int64
		if err := rows.Scan(&owner, &target); err != nil {
			return classify("load "+j.name, err)
		}
		rec := records[domain.OID(owner)]
		if rec == nil || !j.link.AppliesTo(rec.Kind) {
			return fmt.Errorf("%w: %s row for %d", db.ErrCorrupt, j.name, owner)
		}
		name := j.link.Name()
		rec.Links[name] = append(rec.Links[name], domain.OID(target))
	}
	return classify("load "+j.name, rows.Err())
}

// Commit implements db.Backend. The whole changeset runs in one
// transaction; foreign keys are checked at commit.
func (b *Backend) Commit(ctx context.Context, cs *db.Changeset) error {
	if b.readOnly {
		return db.ErrReadOnly
	}
	err := sqlstmt.InTx(ctx, b.db, func(tx *sql.Tx) error {
		for _, rec := range cs.Destroyed {
			if err := b.deleteRecord(ctx, tx, rec); err != nil {
				return err
			}
		}
		for _, rec := range cs.Created {
			if err := b.insertRecord(ctx, tx, rec); err != nil {
				return err
			}
		}
		for _, rec := range cs.Updated {
			if err := b.updateRecord(ctx, tx, rec); err != nil {
				return err
			}
		}
		return b.writeNextOID(ctx, tx, cs.NextOID)
	})
	if err != nil {
		b.logger.Warn("commit rolled back", "err", err)
		return classify("commit", err)
	}
	b.logger.Debug("changeset committed", "created", len(cs.Created), "updated", len(cs.Updated), "destroyed", len(cs.Destroyed))
	return nil
}

func (b *Backend) writeNextOID(ctx context.Context, q sqlstmt.Queryer, next domain.OID) error {
	st, err := b.stmt("INSERT INTO {meta}({key}, {value}) VALUES (?, ?) ON CONFLICT({key}) DO UPDATE SET {value} = excluded.{value}")
	if err != nil {
		return err
	}
	if _, err := st.Exec(ctx, q, metaNextOID, strconv.FormatInt(int64(next), 10)); err != nil {
		return classify("write next oid", err)
	}
	return nil
}

// rowValues renders the column values of rec in table order.
func rowValues(t *table, rec db.Record) []any {
	out := make([]any, 0, len(t.columns))
	for _, c := range t.columns {
		switch {
		case c.link != nil:
			var v any
			if targets := rec.Links[c.link.Name()]; c.applies(rec.Kind) && len(targets) == 1 {
				v = int64(targets[0])
			}
			out = append(out, v)
		case c.applies(rec.Kind):
			out = append(out, c.prop.SQLValue(rec.Props[c.prop.Name()]))
		default:
			out = append(out, c.prop.SQLValue(c.prop.Zero()))
		}
	}
	return out
}

func (b *Backend) insertRecord(ctx context.Context, tx *sql.Tx, rec db.Record) error {
	t, err := tableFor(rec.Kind)
	if err != nil {
		return err
	}
	st, err := b.stmt("INSERT INTO {objects}({oid}, {kind}) VALUES (?, ?)")
	if err != nil {
		return err
	}
	if _, err := st.Exec(ctx, tx, int64(rec.OID), string(rec.Kind)); err != nil {
		return classifyRecord("insert object", rec, err)
	}
	st, err = b.stmt(t.insertTemplate())
	if err != nil {
		return err
	}
	args := append([]any{int64(rec.OID)}, rowValues(t, rec)...)
	if _, err := st.Exec(ctx, tx, args...); err != nil {
		return classifyRecord("insert "+t.name, rec, err)
	}
	return b.writeCollections(ctx, tx, rec)
}

func (b *Backend) updateRecord(ctx context.Context, tx *sql.Tx, rec db.Record) error {
	t, err := tableFor(rec.Kind)
	if err != nil {
		return err
	}
	st, err := b.stmt(t.updateTemplate())
	if err != nil {
		return err
	}
	args := append(rowValues(t, rec), int64(rec.OID))
	n, err := st.Exec(ctx, tx, args...)
	if err != nil {
		return classifyRecord("update "+t.name, rec, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: %s %d has no row", db.ErrCorrupt, rec.Kind, rec.OID)
	}
	if err := b.clearCollections(ctx, tx, rec, false); err != nil {
		return err
	}
	return b.writeCollections(ctx, tx, rec)
}

func (b *Backend) deleteRecord(ctx context.Context, tx *sql.Tx, rec db.Record) error {
	t, err := tableFor(rec.Kind)
	if err != nil {
		return err
	}
	if err := b.clearCollections(ctx, tx, rec, true); err != nil {
		return err
	}
	st, err := b.stmt(t.deleteTemplate())
	if err != nil {
		return err
	}
	if _, err := st.Exec(ctx, tx, int64(rec.OID)); err != nil {
		return classify("delete "+t.name, err)
	}
	st, err = b.stmt("DELETE FROM {objects} WHERE {oid} = ?")
	if err != nil {
		return err
	}
	if _, err := st.Exec(ctx, tx, int64(rec.OID)); err != nil {
		return classify("delete object", err)
	}
	return nil
}

// clearCollections removes the email and join rows owned by rec. With
// asTarget set, rows pointing at rec are removed as well.
func (b *Backend) clearCollections(ctx context.Context, tx *sql.Tx, rec db.Record, asTarget bool) error {
	if db.EmailAddresses.AppliesTo(rec.Kind) {
		st, err := b.stmt("DELETE FROM {" + emailTable + "} WHERE {oid} = ?")
		if err != nil {
			return err
		}
		if _, err := st.Exec(ctx, tx, int64(rec.OID)); err != nil {
			return classify("clear email addresses", err)
		}
	}
	for _, j := range joinTables {
		cols := []string{}
		if j.link.AppliesTo(rec.Kind) {
			cols = append(cols, j.owner)
		}
		if asTarget && j.link.Inverse().AppliesTo(rec.Kind) {
			cols = append(cols, j.target)
		}
		for _, col := range cols {
			st, err := b.stmt(j.deleteTemplate(col))
			if err != nil {
				return err
			}
			if _, err := st.Exec(ctx, tx, int64(rec.OID)); err != nil {
				return classify("clear "+j.name, err)
			}
		}
	}
	return nil
}

func (b *Backend) writeCollections(ctx context.Context, tx *sql.Tx, rec db.Record) error {
	if db.EmailAddresses.AppliesTo(rec.Kind) {
		st, err := b.stmt("INSERT INTO {" + emailTable + "}({oid}, {position}, {address}) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		list, _ := rec.Props[db.EmailAddresses.Name()].([]string)
		for i, address := range list {
			if _, err := st.Exec(ctx, tx, int64(rec.OID), i, address); err != nil {
				return classify("write email addresses", err)
			}
		}
	}
	for _, j := range joinsFor(rec.Kind) {
		st, err := b.stmt(j.insertTemplate())
		if err != nil {
			return err
		}
		for i, target := range rec.Links[j.link.Name()] {
			args := []any{int64(rec.OID), int64(target)}
			if j.order != "" {
				args = append(args, i)
			}
			if _, err := st.Exec(ctx, tx, args...); err != nil {
				return classify("write "+j.name, err)
			}
		}
	}
	return nil
}

// classifyRecord maps a unique-constraint failure on rec to the
// AlreadyExistsError of the duplicated property.
func classifyRecord(op string, rec db.Record, err error) error {
	if isUniqueViolation(err) && rec.Kind == domain.KindAccount && strings.Contains(err.Error(), "accounts.login") {
		return &db.AlreadyExistsError{Kind: rec.Kind, Property: db.Login.Name(), Value: rec.Props[db.Login.Name()]}
	}
	return classify(op, err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "UNIQUE"))
}

// classify maps driver failures to database error kinds. Errors that
// already carry a kind pass through.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		exists  *db.AlreadyExistsError
		storage *db.StorageError
	)
	if errors.As(err, &exists) || errors.As(err, &storage) {
		return err
	}
	for _, kind := range []error{db.ErrCorrupt, db.ErrInUse, db.ErrReadOnly, db.ErrInvalidAddress} {
		if errors.Is(err, kind) {
			return err
		}
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %s: %v", db.ErrInUse, op, err)
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
			return fmt.Errorf("%w: %s: %v", db.ErrCorrupt, op, err)
		case sqlite3.SQLITE_READONLY:
			return fmt.Errorf("%w: %s: %v", db.ErrReadOnly, op, err)
		}
	}
	return &db.StorageError{Op: op, Err: err}
}

func scanOID(raw any) (domain.OID, error) {
	switch v := raw.(type) {
	case int64:
		return domain.OID(v), nil
	case []byte:
		return domain.ParseOID(string(v))
	case string:
		return domain.ParseOID(v)
	default:
		return domain.InvalidOID, fmt.Errorf("unexpected oid column type %T", raw)
	}
}
