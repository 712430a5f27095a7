package jsonstate_test

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/calvinalkan/feedstate/pkg/jsonstate"
)

// memStore is an in-memory row store. Cursors return columns in reverse of the
// requested order so callers cannot rely on positional results.
type memStore struct {
	tables map[string]*memTable

	// failInsert makes BulkInsert of the named table fail.
	failInsert map[string]error

	calls []string
}

type memTable struct {
	pk     string
	rows   []jsonstate.Row
	nextID int64
}

func newMemStore(schemas ...jsonstate.Descriptor) *memStore {
	s := &memStore{tables: map[string]*memTable{}, failInsert: map[string]error{}}

	for _, d := range schemas {
		t := &memTable{nextID: 1}

		for i := range d.ColumnCount() {
			if d.ColumnType(i) == jsonstate.ColPrimaryKey {
				t.pk = d.ColumnName(i)
			}
		}

		s.tables[d.TableName()] = t
	}

	return s
}

// seed inserts rows directly, assigning keys like the real store.
func (s *memStore) seed(table string, rows ...jsonstate.Row) {
	t := s.tables[table]
	for _, r := range rows {
		t.insert(r)
	}
}

func (s *memStore) rows(table string) []jsonstate.Row {
	return s.tables[table].rows
}

func (s *memStore) Table(name string) (jsonstate.RowGateway, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("no such table %q", name)
	}

	return &memGateway{store: s, name: name, table: t}, nil
}

func (s *memStore) snapshot() map[string]*memTable {
	out := make(map[string]*memTable, len(s.tables))

	for name, t := range s.tables {
		cp := &memTable{pk: t.pk, nextID: t.nextID, rows: make([]jsonstate.Row, len(t.rows))}
		for i, r := range t.rows {
			cp.rows[i] = maps.Clone(r)
		}

		out[name] = cp
	}

	return out
}

func (t *memTable) insert(r jsonstate.Row) {
	row := maps.Clone(r)
	if row == nil {
		row = jsonstate.Row{}
	}

	if t.pk != "" {
		row[t.pk] = t.nextID
		t.nextID++
	}

	t.rows = append(t.rows, row)
}

type memGateway struct {
	store *memStore
	name  string
	table *memTable
}

func (g *memGateway) Query(_ context.Context, columns []string) (jsonstate.Cursor, error) {
	g.store.calls = append(g.store.calls, "query "+g.name)

	cols := slices.Clone(columns)
	slices.Reverse(cols)

	return &memCursor{cols: cols, rows: g.table.rows, idx: -1}, nil
}

func (g *memGateway) Delete(_ context.Context) (int64, error) {
	g.store.calls = append(g.store.calls, "delete "+g.name)

	n := int64(len(g.table.rows))
	g.table.rows = nil

	return n, nil
}

func (g *memGateway) BulkInsert(_ context.Context, rows []jsonstate.Row) (int64, error) {
	g.store.calls = append(g.store.calls, "insert "+g.name)

	if err := g.store.failInsert[g.name]; err != nil {
		return 0, err
	}

	for _, r := range rows {
		g.table.insert(r)
	}

	return int64(len(rows)), nil
}

type memCursor struct {
	cols   []string
	rows   []jsonstate.Row
	idx    int
	closed bool
}

func (c *memCursor) Columns() ([]string, error) { return c.cols, nil }

func (c *memCursor) Next() bool {
	c.idx++

	return c.idx < len(c.rows)
}

func (c *memCursor) Scan(dest ...any) error {
	if len(dest) != len(c.cols) {
		return fmt.Errorf("scan: got %d destinations, want %d", len(dest), len(c.cols))
	}

	row := c.rows[c.idx]

	for i, col := range c.cols {
		p, ok := dest[i].(*any)
		if !ok {
			return fmt.Errorf("scan: destination %d is %T", i, dest[i])
		}

		*p = row[col]
	}

	return nil
}

func (*memCursor) Err() error { return nil }

func (c *memCursor) Close() error {
	c.closed = true

	return nil
}

// memTxStore adds snapshot transactions on top of memStore.
type memTxStore struct {
	*memStore

	commits   int
	rollbacks int
}

func (s *memTxStore) Begin(_ context.Context) (jsonstate.Tx, error) {
	return &memTx{owner: s, saved: s.snapshot()}, nil
}

type memTx struct {
	owner *memTxStore
	saved map[string]*memTable
	done  bool
}

func (tx *memTx) Table(name string) (jsonstate.RowGateway, error) {
	if tx.done {
		return nil, errors.New("transaction is done")
	}

	return tx.owner.Table(name)
}

func (tx *memTx) Commit() error {
	tx.done = true
	tx.owner.commits++

	return nil
}

func (tx *memTx) Rollback() error {
	tx.done = true
	tx.owner.rollbacks++
	tx.owner.tables = tx.saved

	return nil
}
