package jsonstate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
)

// rowsKey is the member of each table object that holds the row array.
const rowsKey = "rows"

// Write exports every table of schemas, in order, as one JSON document to w.
//
// Rows come from src. Primary key columns are omitted. The store is never
// modified. On error the output is incomplete and must be discarded.
func Write(ctx context.Context, w io.Writer, schemas []Descriptor, src Gateways) error {
	if ctx == nil {
		return errors.New("write: context is nil")
	}

	if src == nil {
		return errors.New("write: source is nil")
	}

	err := validateSet(schemas)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	bw := bufio.NewWriter(w)

	err = bw.WriteByte('{')
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	for i, schema := range schemas {
		name := schema.TableName()

		var head []byte
		if i > 0 {
			head = append(head, ',')
		}

		head = appendJSONString(head, name)
		head = append(head, ':')

		_, err = bw.Write(head)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}

		gw, err := src.Table(name)
		if err != nil {
			return tableError(name, fmt.Errorf("resolve table: %w", err))
		}

		err = writeTable(ctx, bw, schema, gw)
		if err != nil {
			return err
		}
	}

	err = bw.WriteByte('}')
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	err = bw.Flush()
	if err != nil {
		return fmt.Errorf("write: flush: %w", err)
	}

	return nil
}

// WriteTable writes the object {"rows":[...]} for a single table.
func WriteTable(ctx context.Context, w io.Writer, schema Descriptor, gw RowGateway) error {
	err := ValidateDescriptor(schema)
	if err != nil {
		return fmt.Errorf("write table: %w", err)
	}

	bw := bufio.NewWriter(w)

	err = writeTable(ctx, bw, schema, gw)
	if err != nil {
		return err
	}

	err = bw.Flush()
	if err != nil {
		return fmt.Errorf("write table: flush: %w", err)
	}

	return nil
}

func writeTable(ctx context.Context, w *bufio.Writer, schema Descriptor, gw RowGateway) (err error) {
	name := schema.TableName()

	cur, err := gw.Query(ctx, ColumnNames(schema))
	if err != nil {
		return tableError(name, fmt.Errorf("query: %w", err))
	}

	defer func() {
		closeErr := cur.Close()
		if closeErr != nil {
			err = errors.Join(err, tableError(name, fmt.Errorf("close cursor: %w", closeErr)))
		}
	}()

	enc, err := newRowEncoder(schema, cur)
	if err != nil {
		return tableError(name, err)
	}

	_, err = w.WriteString(`{"` + rowsKey + `":[`)
	if err != nil {
		return tableError(name, err)
	}

	var buf []byte

	row := 0
	for cur.Next() {
		scanErr := cur.Scan(enc.dest...)
		if scanErr != nil {
			return rowError(name, row, fmt.Errorf("scan: %w", scanErr))
		}

		buf = buf[:0]
		if row > 0 {
			buf = append(buf, ',')
		}

		buf, err = enc.encode(buf)
		if err != nil {
			return rowError(name, row, err, enc.failed)
		}

		_, err = w.Write(buf)
		if err != nil {
			return tableError(name, err)
		}

		row++
	}

	err = cur.Err()
	if err != nil {
		return tableError(name, fmt.Errorf("iterate: %w", err))
	}

	_, err = w.WriteString("]}")
	if err != nil {
		return tableError(name, err)
	}

	return nil
}

// rowEncoder renders cursor rows as JSON objects in schema column order,
// whatever order the cursor produces its columns in.
type rowEncoder struct {
	keys   [][]byte // pre-encoded `"name":` per schema column, nil for skipped
	types  []ColumnType
	names  []string
	pos    []int // schema column -> cursor column
	values []any
	dest   []any
	failed string
}

func newRowEncoder(schema Descriptor, cur Cursor) (*rowEncoder, error) {
	cols, err := cur.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[c] = i
	}

	n := schema.ColumnCount()
	enc := &rowEncoder{
		keys:   make([][]byte, n),
		types:  make([]ColumnType, n),
		names:  make([]string, n),
		pos:    make([]int, n),
		values: make([]any, len(cols)),
		dest:   make([]any, len(cols)),
	}

	for i := range enc.values {
		enc.dest[i] = &enc.values[i]
	}

	for i := range n {
		col := schema.ColumnName(i)
		typ := schema.ColumnType(i)

		enc.names[i] = col
		enc.types[i] = typ

		if typ == ColPrimaryKey {
			enc.pos[i] = -1

			continue
		}

		p, ok := index[col]
		if !ok {
			return nil, fmt.Errorf("cursor does not produce column %q", col)
		}

		enc.pos[i] = p
		enc.keys[i] = append(appendJSONString(nil, col), ':')
	}

	return enc, nil
}

func (e *rowEncoder) encode(dst []byte) ([]byte, error) {
	dst = append(dst, '{')
	first := true

	for i, typ := range e.types {
		if e.pos[i] < 0 {
			continue
		}

		raw, ok, err := EncodeValue(typ, e.values[e.pos[i]])
		if err != nil {
			e.failed = e.names[i]

			return dst, err
		}

		if !ok {
			continue
		}

		if !first {
			dst = append(dst, ',')
		}

		first = false
		dst = append(dst, e.keys[i]...)
		dst = append(dst, raw...)
	}

	return append(dst, '}'), nil
}
