package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/calvinalkan/feedstate/pkg/jsonstate"
)

// querier is the subset shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// table is the gateway of a single table. db is set only outside a
// transaction, in which case BulkInsert opens its own.
type table struct {
	q      querier
	db     *sql.DB
	schema jsonstate.Descriptor
}

var _ jsonstate.RowGateway = (*table)(nil)

// Query selects columns from every row in insertion order.
//
// DATETIME columns are read through an expression so the driver hands back the
// stored integer instead of converting it to time.Time. Values not stored as
// integers come back as text, which the encoder rejects unless it is a decimal
// integer.
func (t *table) Query(ctx context.Context, columns []string) (jsonstate.Cursor, error) {
	if len(columns) == 0 {
		return nil, errors.New("query: no columns")
	}

	types := make(map[string]jsonstate.ColumnType, t.schema.ColumnCount())
	for i := range t.schema.ColumnCount() {
		types[t.schema.ColumnName(i)] = t.schema.ColumnType(i)
	}

	exprs := make([]string, len(columns))

	for i, col := range columns {
		typ, ok := types[col]
		if !ok {
			return nil, fmt.Errorf("query: unknown column %q", col)
		}

		if typ == jsonstate.ColDateTime {
			exprs[i] = dateTimeExpr(col)

			continue
		}

		exprs[i] = quoteIdent(col)
	}

	query := "SELECT " + strings.Join(exprs, ", ") + " FROM " + quoteIdent(t.schema.TableName()) + " ORDER BY rowid"

	rows, err := t.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.schema.TableName(), err)
	}

	return rows, nil
}

// Delete removes every row.
func (t *table) Delete(ctx context.Context) (int64, error) {
	res, err := t.q.ExecContext(ctx, "DELETE FROM "+quoteIdent(t.schema.TableName()))
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", t.schema.TableName(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete %s: rows affected: %w", t.schema.TableName(), err)
	}

	return n, nil
}

// BulkInsert inserts rows with one prepared statement covering every non
// primary key column. Keys missing from a row bind NULL.
func (t *table) BulkInsert(ctx context.Context, rows []jsonstate.Row) (n int64, err error) {
	if len(rows) == 0 {
		return 0, nil
	}

	q := t.q

	if t.db != nil {
		tx, beginErr := t.db.BeginTx(ctx, nil)
		if beginErr != nil {
			return 0, fmt.Errorf("bulk insert: begin: %w", beginErr)
		}

		defer func() {
			if err != nil {
				_ = tx.Rollback()

				return
			}

			commitErr := tx.Commit()
			if commitErr != nil {
				n, err = 0, fmt.Errorf("bulk insert: commit: %w", commitErr)
			}
		}()

		q = tx
	}

	cols := jsonstate.DataColumns(t.schema)
	if len(cols) == 0 {
		return t.insertDefaults(ctx, q, len(rows))
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}

	query := "INSERT INTO " + quoteIdent(t.schema.TableName()) +
		" (" + strings.Join(quoted, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	stmt, err := q.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("bulk insert %s: prepare: %w", t.schema.TableName(), err)
	}

	defer func() {
		closeErr := stmt.Close()
		if closeErr != nil && err == nil {
			n, err = 0, fmt.Errorf("bulk insert %s: close statement: %w", t.schema.TableName(), closeErr)
		}
	}()

	args := make([]any, len(cols))

	for i, row := range rows {
		for j, c := range cols {
			args[j] = row[c]
		}

		_, err = stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, fmt.Errorf("bulk insert %s: row %d: %w", t.schema.TableName(), i, err)
		}
	}

	return int64(len(rows)), nil
}

// insertDefaults handles tables that only have a primary key.
func (t *table) insertDefaults(ctx context.Context, q querier, count int) (int64, error) {
	query := "INSERT INTO " + quoteIdent(t.schema.TableName()) + " DEFAULT VALUES"

	for i := range count {
		_, err := q.ExecContext(ctx, query)
		if err != nil {
			return 0, fmt.Errorf("bulk insert %s: row %d: %w", t.schema.TableName(), i, err)
		}
	}

	return int64(count), nil
}

// dateTimeExpr selects col without its declared type. Integers and NULL pass
// through; anything else, such as '2024-01-02 10:00:00', is returned as text.
func dateTimeExpr(col string) string {
	q := quoteIdent(col)

	return "CASE WHEN typeof(" + q + ") IN ('integer', 'null') THEN " + q +
		" ELSE CAST(" + q + " AS TEXT) END AS " + q
}
