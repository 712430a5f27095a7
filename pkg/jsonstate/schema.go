package jsonstate

import (
	"errors"
	"fmt"
	"strconv"
)

// ColumnType is the declared type of a column. It decides both the SQL affinity
// a store uses and the JSON rendering of values.
type ColumnType uint8

// Supported column types. The zero value is not a valid type.
const (
	// ColPrimaryKey is the auto-assigned integer key. Never exported or imported.
	ColPrimaryKey ColumnType = iota + 1
	ColText
	ColTextUnique
	// ColDateTime holds a moment as integer epoch milliseconds.
	ColDateTime
	ColInt
	// ColSmallInt is a narrower integer used for references to other tables.
	ColSmallInt
	// ColBoolean is stored and exported as 0 or 1.
	ColBoolean
	// ColBlob is exported as a base64 string.
	ColBlob
)

func (t ColumnType) String() string {
	switch t {
	case ColPrimaryKey:
		return "primary_key"
	case ColText:
		return "text"
	case ColTextUnique:
		return "text_unique"
	case ColDateTime:
		return "datetime"
	case ColInt:
		return "int"
	case ColSmallInt:
		return "small_int"
	case ColBoolean:
		return "boolean"
	case ColBlob:
		return "blob"
	default:
		return "column_type(" + strconv.Itoa(int(t)) + ")"
	}
}

// Valid reports whether t is one of the declared column types.
func (t ColumnType) Valid() bool {
	return t >= ColPrimaryKey && t <= ColBlob
}

// Descriptor describes one table: its name and its ordered columns.
//
// Column indexes run from 0 to ColumnCount()-1. Implementations must be
// immutable once handed to this package.
type Descriptor interface {
	TableName() string
	ColumnCount() int
	ColumnName(i int) string
	ColumnType(i int) ColumnType
}

type column struct {
	name string
	typ  ColumnType
}

// Schema is the builder implementation of [Descriptor].
//
//	feeds := jsonstate.NewSchema("feeds").
//		PrimaryKey("_id").
//		TextUnique("url").
//		Int("priority")
type Schema struct {
	tableName string
	columns   []column
}

// NewSchema starts an empty schema for tableName.
func NewSchema(tableName string) *Schema {
	return &Schema{tableName: tableName}
}

// Column appends a column of any type.
func (s *Schema) Column(name string, typ ColumnType) *Schema {
	s.columns = append(s.columns, column{name: name, typ: typ})

	return s
}

// PrimaryKey appends the auto-assigned key column.
func (s *Schema) PrimaryKey(name string) *Schema { return s.Column(name, ColPrimaryKey) }

// Text appends a TEXT column.
func (s *Schema) Text(name string) *Schema { return s.Column(name, ColText) }

// TextUnique appends a TEXT column with a uniqueness constraint.
func (s *Schema) TextUnique(name string) *Schema { return s.Column(name, ColTextUnique) }

// DateTime appends an epoch milliseconds column.
func (s *Schema) DateTime(name string) *Schema { return s.Column(name, ColDateTime) }

// Int appends an INTEGER column.
func (s *Schema) Int(name string) *Schema { return s.Column(name, ColInt) }

// SmallInt appends a narrow INTEGER column.
func (s *Schema) SmallInt(name string) *Schema { return s.Column(name, ColSmallInt) }

// Bool appends a 0/1 column.
func (s *Schema) Bool(name string) *Schema { return s.Column(name, ColBoolean) }

// Blob appends a BLOB column.
func (s *Schema) Blob(name string) *Schema { return s.Column(name, ColBlob) }

// TableName returns the table name.
func (s *Schema) TableName() string { return s.tableName }

// ColumnCount returns the number of columns, primary key included.
func (s *Schema) ColumnCount() int { return len(s.columns) }

// ColumnName returns the name of column i.
func (s *Schema) ColumnName(i int) string { return s.columns[i].name }

// ColumnType returns the declared type of column i.
func (s *Schema) ColumnType(i int) ColumnType { return s.columns[i].typ }

// Validate checks identifiers, duplicate columns and column types.
func (s *Schema) Validate() error {
	return ValidateDescriptor(s)
}

// ValidateDescriptor checks that d is usable by [Write] and [Read]:
// identifiers are lowercase a-z, 0-9 and underscore, column names are unique,
// every type is valid and there is at most one primary key.
func ValidateDescriptor(d Descriptor) error {
	if d == nil {
		return errors.New("schema: descriptor is nil")
	}

	name := d.TableName()
	if name == "" {
		return errors.New("schema: table name is required")
	}

	if !isValidIdentifier(name) {
		return fmt.Errorf("schema: invalid table name %q: must be lowercase a-z, 0-9 and underscore", name)
	}

	if d.ColumnCount() == 0 {
		return fmt.Errorf("schema: table %q has no columns", name)
	}

	seen := make(map[string]struct{}, d.ColumnCount())
	keys := 0

	for i := range d.ColumnCount() {
		col := d.ColumnName(i)
		if !isValidIdentifier(col) {
			return fmt.Errorf("schema: invalid column name %q in table %q", col, name)
		}

		if _, ok := seen[col]; ok {
			return fmt.Errorf("schema: duplicate column %q in table %q", col, name)
		}

		seen[col] = struct{}{}

		typ := d.ColumnType(i)
		if !typ.Valid() {
			return fmt.Errorf("schema: column %q in table %q: %w: %s", col, name, ErrUnsupportedType, typ)
		}

		if typ == ColPrimaryKey {
			keys++
		}
	}

	if keys > 1 {
		return fmt.Errorf("schema: table %q declares %d primary keys", name, keys)
	}

	return nil
}

// validateSet validates every descriptor and rejects duplicate table names.
func validateSet(schemas []Descriptor) error {
	seen := make(map[string]struct{}, len(schemas))

	for _, d := range schemas {
		err := ValidateDescriptor(d)
		if err != nil {
			return err
		}

		if _, ok := seen[d.TableName()]; ok {
			return fmt.Errorf("schema: duplicate table %q", d.TableName())
		}

		seen[d.TableName()] = struct{}{}
	}

	return nil
}

// ColumnNames returns all column names of d in declaration order.
func ColumnNames(d Descriptor) []string {
	names := make([]string, d.ColumnCount())
	for i := range names {
		names[i] = d.ColumnName(i)
	}

	return names
}

// DataColumns returns the names of all non primary key columns in declaration
// order. These are exactly the keys every row object of the document carries.
func DataColumns(d Descriptor) []string {
	names := make([]string, 0, d.ColumnCount())

	for i := range d.ColumnCount() {
		if d.ColumnType(i) == ColPrimaryKey {
			continue
		}

		names = append(names, d.ColumnName(i))
	}

	return names
}

func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}

	return true
}
