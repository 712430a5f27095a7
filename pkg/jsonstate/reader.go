package jsonstate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
)

// Document is a parsed backup: table name to the raw table value.
type Document map[string]json.RawMessage

// Parse reads a whole document from r. The top-level value must be a JSON
// object; anything else is [ErrMalformedDocument].
func Parse(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrMalformedDocument)
	}

	var doc Document

	err = json.Unmarshal(data, &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}

	return doc, nil
}

// ReadOption configures [Verify] and [Read].
type ReadOption func(*readOptions)

type readOptions struct {
	firstRowOnly bool
}

// WithFirstRowOnly checks only the first row of each table for unknown and
// missing columns. Later rows are still decoded, and a malformed value there
// fails the replace phase after earlier tables may already be replaced when
// the destination is not transactional.
func WithFirstRowOnly() ReadOption {
	return func(o *readOptions) { o.firstRowOnly = true }
}

// Plan is a verified document ready to be applied to a store.
type Plan struct {
	tables []tablePlan
}

type tablePlan struct {
	schema Descriptor
	// rows holds parsed row objects. A nil entry is a row that was not an
	// object and was not checked.
	rows []map[string]json.RawMessage
}

// TableCount is the number of rows a plan holds for one table.
type TableCount struct {
	Table string
	Rows  int
}

// TableReport describes what applying a plan did to one table.
type TableReport struct {
	Table    string
	Deleted  int64
	Inserted int64
}

// Verify checks doc against every schema, in order, and stops at the first
// failure. It performs no writes.
//
// For each table: the key must be present and not null, the value must be an
// object whose "rows" member is an array of objects, and each checked row must
// carry exactly the data columns of the schema. Primary key columns count as
// unknown. Top-level keys that name no schema are ignored.
func Verify(doc Document, schemas []Descriptor, opts ...ReadOption) (*Plan, error) {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}

	err := validateSet(schemas)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	if doc == nil {
		return nil, fmt.Errorf("%w: document is null", ErrMalformedDocument)
	}

	plan := &Plan{tables: make([]tablePlan, 0, len(schemas))}

	for _, schema := range schemas {
		tp, err := verifyTable(doc, schema, o)
		if err != nil {
			return nil, err
		}

		plan.tables = append(plan.tables, tp)
	}

	return plan, nil
}

func verifyTable(doc Document, schema Descriptor, o readOptions) (tablePlan, error) {
	name := schema.TableName()

	raw, ok := doc[name]
	if !ok || isNull(bytes.TrimSpace(raw)) {
		return tablePlan{}, tableError(name, ErrMissingTable)
	}

	table, err := parseObject(raw)
	if err != nil {
		return tablePlan{}, tableError(name, fmt.Errorf("%w: table value is not an object", ErrMalformedTable))
	}

	rowsRaw, ok := table[rowsKey]
	if !ok || isNull(bytes.TrimSpace(rowsRaw)) {
		return tablePlan{}, tableError(name, fmt.Errorf("%w: %q is missing", ErrMalformedTable, rowsKey))
	}

	var rows []json.RawMessage

	err = json.Unmarshal(rowsRaw, &rows)
	if err != nil {
		return tablePlan{}, tableError(name, fmt.Errorf("%w: %q is not an array", ErrMalformedTable, rowsKey))
	}

	expected := DataColumns(schema)
	tp := tablePlan{schema: schema, rows: make([]map[string]json.RawMessage, len(rows))}

	for i, rawRow := range rows {
		checked := i == 0 || !o.firstRowOnly

		row, err := parseObject(rawRow)
		if err != nil {
			if checked {
				return tablePlan{}, rowError(name, i, fmt.Errorf("%w: row is not an object", ErrMalformedTable))
			}

			continue
		}

		if checked {
			err = checkColumns(name, i, row, expected)
			if err != nil {
				return tablePlan{}, err
			}
		}

		tp.rows[i] = row
	}

	return tp, nil
}

// checkColumns requires the keys of row to be exactly expected.
func checkColumns(table string, i int, row map[string]json.RawMessage, expected []string) error {
	remaining := make(map[string]struct{}, len(expected))
	for _, c := range expected {
		remaining[c] = struct{}{}
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	for _, k := range keys {
		if _, ok := remaining[k]; !ok {
			return rowError(table, i, ErrUnknownColumn, k)
		}

		delete(remaining, k)
	}

	if len(remaining) == 0 {
		return nil
	}

	missing := make([]string, 0, len(remaining))
	for _, c := range expected {
		if _, ok := remaining[c]; ok {
			missing = append(missing, c)
		}
	}

	return rowError(table, i, ErrMissingColumns, missing...)
}

func parseObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("want object, got %s", kindOf(raw))
	}

	var obj map[string]json.RawMessage

	err := json.Unmarshal(raw, &obj)
	if err != nil {
		return nil, err
	}

	return obj, nil
}

// Counts returns the row count of every table in plan order.
func (p *Plan) Counts() []TableCount {
	out := make([]TableCount, len(p.tables))
	for i, tp := range p.tables {
		out[i] = TableCount{Table: tp.schema.TableName(), Rows: len(tp.rows)}
	}

	return out
}

// Apply replaces the contents of every planned table in dst.
//
// Per table, all existing rows are deleted, the document rows are decoded and
// then bulk inserted. When dst implements [TxGateways] all tables are replaced
// in one transaction that is rolled back on any failure.
func (p *Plan) Apply(ctx context.Context, dst Gateways) ([]TableReport, error) {
	if ctx == nil {
		return nil, errors.New("apply: context is nil")
	}

	if dst == nil {
		return nil, errors.New("apply: destination is nil")
	}

	txg, ok := dst.(TxGateways)
	if !ok {
		return p.replaceAll(ctx, dst)
	}

	tx, err := txg.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply: begin: %w", err)
	}

	reports, err := p.replaceAll(ctx, tx)
	if err != nil {
		rbErr := tx.Rollback()
		if rbErr != nil {
			return nil, errors.Join(err, fmt.Errorf("apply: rollback: %w", rbErr))
		}

		return nil, err
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("apply: commit: %w", err)
	}

	return reports, nil
}

func (p *Plan) replaceAll(ctx context.Context, dst Gateways) ([]TableReport, error) {
	reports := make([]TableReport, 0, len(p.tables))

	for _, tp := range p.tables {
		report, err := tp.replace(ctx, dst)
		if err != nil {
			return nil, err
		}

		reports = append(reports, report)
	}

	return reports, nil
}

func (tp tablePlan) replace(ctx context.Context, dst Gateways) (TableReport, error) {
	name := tp.schema.TableName()
	report := TableReport{Table: name}

	gw, err := dst.Table(name)
	if err != nil {
		return report, tableError(name, fmt.Errorf("resolve table: %w", err))
	}

	report.Deleted, err = gw.Delete(ctx)
	if err != nil {
		return report, tableError(name, fmt.Errorf("delete: %w", err))
	}

	batch := make([]Row, len(tp.rows))

	for i, raw := range tp.rows {
		if raw == nil {
			return report, rowError(name, i, fmt.Errorf("%w: row is not an object", ErrMalformedValue))
		}

		row, err := decodeRow(tp.schema, raw)
		if err != nil {
			return report, rowError(name, i, err.err, err.column)
		}

		batch[i] = row
	}

	report.Inserted, err = gw.BulkInsert(ctx, batch)
	if err != nil {
		return report, tableError(name, fmt.Errorf("bulk insert: %w", err))
	}

	return report, nil
}

type columnError struct {
	column string
	err    error
}

func decodeRow(schema Descriptor, raw map[string]json.RawMessage) (Row, *columnError) {
	row := make(Row, schema.ColumnCount())

	for i := range schema.ColumnCount() {
		col := schema.ColumnName(i)

		v, ok, err := DecodeValue(schema.ColumnType(i), raw, col)
		if err != nil {
			return nil, &columnError{column: col, err: err}
		}

		if ok {
			row[col] = v
		}
	}

	return row, nil
}

// Read parses r, verifies it against schemas and applies it to dst. Nothing is
// written unless the whole document verifies.
func Read(ctx context.Context, r io.Reader, schemas []Descriptor, dst Gateways, opts ...ReadOption) ([]TableReport, error) {
	doc, err := Parse(r)
	if err != nil {
		return nil, err
	}

	return ReadDocument(ctx, doc, schemas, dst, opts...)
}

// ReadDocument verifies an already parsed document and applies it to dst.
func ReadDocument(ctx context.Context, doc Document, schemas []Descriptor, dst Gateways, opts ...ReadOption) ([]TableReport, error) {
	plan, err := Verify(doc, schemas, opts...)
	if err != nil {
		return nil, err
	}

	return plan.Apply(ctx, dst)
}
