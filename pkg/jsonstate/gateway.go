package jsonstate

import "context"

// Row is one record to insert, keyed by column name. Values are the natives
// produced by [DecodeValue]: nil, string, int64 or []byte. A missing key is
// stored as NULL.
type Row map[string]any

// Cursor iterates rows returned by [RowGateway.Query]. *sql.Rows satisfies it.
type Cursor interface {
	// Columns returns the column names of the result in result order, which
	// may differ from the order requested.
	Columns() ([]string, error)
	Next() bool
	// Scan copies the current row into dest, one *any per result column.
	Scan(dest ...any) error
	Err() error
	Close() error
}

// RowGateway is the store side of a single table.
type RowGateway interface {
	// Query returns a cursor over every row of the table producing at least
	// the given columns.
	Query(ctx context.Context, columns []string) (Cursor, error)

	// Delete removes every row and returns how many were removed.
	Delete(ctx context.Context) (int64, error)

	// BulkInsert inserts rows in order and returns how many were inserted.
	// Primary keys are assigned by the store.
	BulkInsert(ctx context.Context, rows []Row) (int64, error)
}

// Gateways resolves a table name to its gateway.
type Gateways interface {
	Table(name string) (RowGateway, error)
}

// TxGateways is a [Gateways] that can group the replace phase of an import
// into one transaction.
type TxGateways interface {
	Gateways
	Begin(ctx context.Context) (Tx, error)
}

// Tx is an open transaction. Gateways obtained from it operate inside it.
type Tx interface {
	Gateways
	Commit() error
	Rollback() error
}
