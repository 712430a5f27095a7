package jsonstate

import (
	"errors"
	"strconv"
	"strings"
)

// Sentinel errors. Match with [errors.Is].
var (
	// ErrMalformedDocument means the input is not a JSON object.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrMissingTable means a table of the schema set is absent or null.
	ErrMissingTable = errors.New("document does not reference table")

	// ErrMalformedTable means a table value is not an object, its "rows"
	// member is missing or not an array, or a row is not an object.
	ErrMalformedTable = errors.New("not a table object")

	// ErrUnknownColumn means a row carries a key that is not a data column.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrMissingColumns means a row lacks one or more data columns.
	ErrMissingColumns = errors.New("missing columns")

	// ErrUnsupportedType means a descriptor declares a type outside [ColumnType].
	ErrUnsupportedType = errors.New("unsupported column type")

	// ErrMalformedValue means a value could not be converted for its column type.
	ErrMalformedValue = errors.New("malformed value")
)

// Error carries table, row and column context for failures of [Write],
// [Verify] and [Plan.Apply]. The cause comes first:
//
//	unknown column (table=feeds row=0 column=bogus)
//
// Use [errors.As] to get at the fields and [errors.Is] for the sentinels.
type Error struct {
	// Table is the table being processed.
	Table string

	// Row is the zero-based index into the table's rows, or -1 when the
	// failure is not tied to a row.
	Row int

	// Columns names the offending columns, if any.
	Columns []string

	Err error
}

// Error formats as "<cause> (table=X row=N columns=a,b)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	suffix := e.suffix()

	switch {
	case suffix == "":
		return cause
	case cause == "":
		return suffix
	default:
		return cause + " " + suffix
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func (e *Error) suffix() string {
	var parts []string

	if e.Table != "" {
		parts = append(parts, "table="+e.Table)
	}

	if e.Row >= 0 {
		parts = append(parts, "row="+strconv.Itoa(e.Row))
	}

	switch len(e.Columns) {
	case 0:
	case 1:
		parts = append(parts, "column="+e.Columns[0])
	default:
		parts = append(parts, "columns="+strings.Join(e.Columns, ","))
	}

	if len(parts) == 0 {
		return ""
	}

	return "(" + strings.Join(parts, " ") + ")"
}

func tableError(table string, err error) error {
	return &Error{Table: table, Row: -1, Err: err}
}

func rowError(table string, row int, err error, columns ...string) error {
	return &Error{Table: table, Row: row, Columns: columns, Err: err}
}
