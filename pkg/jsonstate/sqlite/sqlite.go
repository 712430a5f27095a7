// Package sqlite implements the jsonstate row gateway on top of a SQLite
// database using github.com/mattn/go-sqlite3.
//
// A [Store] owns one *sql.DB limited to a single connection so per-connection
// pragmas apply to every statement. Tables are created from their descriptors
// on [Open] when missing.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	// Registers the "sqlite3" driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/calvinalkan/feedstate/pkg/jsonstate"
)

// busyTimeout is the time SQLite waits when the database is locked.
// After this, operations return SQLITE_BUSY.
const busyTimeout = 10000 // milliseconds

// Store is a SQLite database holding the tables of a schema set.
//
// Store implements [jsonstate.TxGateways].
type Store struct {
	db     *sql.DB
	tables map[string]jsonstate.Descriptor
	order  []string
}

// Open opens (creating if needed) the database at path and creates every
// table of schemas that does not exist yet.
func Open(ctx context.Context, path string, schemas []jsonstate.Descriptor) (*Store, error) {
	if path == "" {
		return nil, errors.New("open sqlite: path is empty")
	}

	tables := make(map[string]jsonstate.Descriptor, len(schemas))
	order := make([]string, 0, len(schemas))

	for _, d := range schemas {
		err := jsonstate.ValidateDescriptor(d)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}

		if _, ok := tables[d.TableName()]; ok {
			return nil, fmt.Errorf("open sqlite: duplicate table %q", d.TableName())
		}

		tables[d.TableName()] = d
		order = append(order, d.TableName())
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	err = applyPragmas(ctx, db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	s := &Store{db: db, tables: tables, order: order}

	err = s.createTables(ctx)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return s, nil
}

// applyPragmas configures the connection using a single batch statement.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		PRAGMA busy_timeout = %d;
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = FULL;
		PRAGMA foreign_keys = ON;
		PRAGMA temp_store = MEMORY;
	`, busyTimeout))
	if err != nil {
		return fmt.Errorf("apply pragmas: %w", err)
	}

	return nil
}

func (s *Store) createTables(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create tables: begin: %w", err)
	}

	for _, name := range s.order {
		stmt, err := CreateTableSQL(s.tables[name])
		if err != nil {
			_ = tx.Rollback()

			return err
		}

		_, err = tx.ExecContext(ctx, stmt)
		if err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("create table %s: %w", name, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("create tables: commit: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}

	return nil
}

// DB exposes the underlying handle for callers that need plain SQL.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Tables returns the table names in schema order.
func (s *Store) Tables() []string {
	return append([]string(nil), s.order...)
}

// Table returns the gateway for name outside any transaction. Each
// BulkInsert runs in its own transaction.
func (s *Store) Table(name string) (jsonstate.RowGateway, error) {
	d, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("sqlite: unknown table %q", name)
	}

	return &table{q: s.db, db: s.db, schema: d}, nil
}

// Begin starts a transaction. Gateways of the returned [Tx] share it.
func (s *Store) Begin(ctx context.Context) (jsonstate.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}

	return &Tx{store: s, tx: tx}, nil
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	if _, ok := s.tables[table]; !ok {
		return 0, fmt.Errorf("sqlite: unknown table %q", table)
	}

	var n int64

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", table, err)
	}

	return n, nil
}

// Tx is an open transaction on a [Store].
type Tx struct {
	store *Store
	tx    *sql.Tx
}

// Table returns the gateway for name bound to the transaction.
func (t *Tx) Table(name string) (jsonstate.RowGateway, error) {
	d, ok := t.store.tables[name]
	if !ok {
		return nil, fmt.Errorf("sqlite: unknown table %q", name)
	}

	return &table{q: t.tx, schema: d}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	err := t.tx.Commit()
	if err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}

	return nil
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil {
		return fmt.Errorf("sqlite: rollback: %w", err)
	}

	return nil
}

// CreateTableSQL returns the CREATE TABLE IF NOT EXISTS statement for d.
func CreateTableSQL(d jsonstate.Descriptor) (string, error) {
	err := jsonstate.ValidateDescriptor(d)
	if err != nil {
		return "", fmt.Errorf("sqlite: %w", err)
	}

	var b strings.Builder

	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quoteIdent(d.TableName()))
	b.WriteString(" (\n")

	for i := range d.ColumnCount() {
		if i > 0 {
			b.WriteString(",\n")
		}

		b.WriteString("    ")
		b.WriteString(quoteIdent(d.ColumnName(i)))
		b.WriteString(" ")
		b.WriteString(sqlType(d.ColumnType(i)))
	}

	b.WriteString("\n)")

	return b.String(), nil
}

// sqlType maps a column type to its declared SQL type. The declared types
// follow the historical database layout so existing files open unchanged.
func sqlType(t jsonstate.ColumnType) string {
	switch t {
	case jsonstate.ColPrimaryKey:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	case jsonstate.ColTextUnique:
		return "TEXT UNIQUE"
	case jsonstate.ColDateTime:
		return "DATETIME"
	case jsonstate.ColInt:
		return "INT"
	case jsonstate.ColSmallInt:
		return "INTEGER(7)"
	case jsonstate.ColBoolean:
		return "INTEGER(1)"
	case jsonstate.ColBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
