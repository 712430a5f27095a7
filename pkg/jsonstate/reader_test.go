package jsonstate_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/feedstate/pkg/jsonstate"
)

func Test_Parse_Returns_ErrMalformedDocument_When_Not_Object(t *testing.T) {
	t.Parallel()

	for _, in := range []string{``, `[]`, `null`, `"feeds"`, `{"feeds":`, `{} trailing`} {
		_, err := jsonstate.Parse(strings.NewReader(in))
		if !errors.Is(err, jsonstate.ErrMalformedDocument) {
			t.Errorf("Parse(%q): got %v, want ErrMalformedDocument", in, err)
		}
	}
}

func Test_Read_Replaces_Rows_When_Document_Valid(t *testing.T) {
	t.Parallel()

	feeds := feedsSchema()
	store := newMemStore(feeds)
	store.seed("feeds", jsonstate.Row{"url": "old", "priority": int64(9)})

	doc := `{"feeds":{"rows":[{"url":"http://x","priority":5}]}}`

	reports, err := jsonstate.Read(t.Context(), strings.NewReader(doc), []jsonstate.Descriptor{feeds}, store)
	require.NoError(t, err)

	assert.Equal(t, []jsonstate.TableReport{{Table: "feeds", Deleted: 1, Inserted: 1}}, reports)

	want := []jsonstate.Row{{"_id": int64(2), "url": "http://x", "priority": int64(5)}}
	if diff := cmp.Diff(want, store.rows("feeds")); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}

	// Export of the new state yields the same document.
	var buf bytes.Buffer

	require.NoError(t, jsonstate.Write(t.Context(), &buf, []jsonstate.Descriptor{feeds}, store))
	assert.Equal(t, doc, buf.String())
}

func Test_Read_Calls_Delete_Before_Insert_Per_Table_When_Applying(t *testing.T) {
	t.Parallel()

	feeds, entries := feedsSchema(), entriesSchema()
	store := newMemStore(feeds, entries)

	doc := `{"feeds":{"rows":[]},"entries":{"rows":[]}}`

	_, err := jsonstate.Read(t.Context(), strings.NewReader(doc), []jsonstate.Descriptor{feeds, entries}, store)
	require.NoError(t, err)

	assert.Equal(t, []string{"delete feeds", "insert feeds", "delete entries", "insert entries"}, store.calls)
}

func Test_Verify_Rejects_Document_Without_Touching_Store_When_Defective(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		doc         string
		wantErr     error
		wantTable   string
		wantRow     int
		wantColumns []string
	}{
		{
			name:        "unknown column",
			doc:         `{"feeds":{"rows":[{"url":"a","priority":1,"bogus":2}]},"entries":{"rows":[]}}`,
			wantErr:     jsonstate.ErrUnknownColumn,
			wantTable:   "feeds",
			wantRow:     0,
			wantColumns: []string{"bogus"},
		},
		{
			name:        "primary key present",
			doc:         `{"feeds":{"rows":[{"_id":1,"url":"a","priority":1}]},"entries":{"rows":[]}}`,
			wantErr:     jsonstate.ErrUnknownColumn,
			wantTable:   "feeds",
			wantRow:     0,
			wantColumns: []string{"_id"},
		},
		{
			name:        "missing column",
			doc:         `{"feeds":{"rows":[{"priority":1}]},"entries":{"rows":[]}}`,
			wantErr:     jsonstate.ErrMissingColumns,
			wantTable:   "feeds",
			wantRow:     0,
			wantColumns: []string{"url"},
		},
		{
			name:        "missing many columns in declaration order",
			doc:         `{"feeds":{"rows":[]},"entries":{"rows":[{"title":"t"}]}}`,
			wantErr:     jsonstate.ErrMissingColumns,
			wantTable:   "entries",
			wantRow:     0,
			wantColumns: []string{"feedid", "date", "favorite"},
		},
		{
			name:      "missing table",
			doc:       `{"feeds":{"rows":[]}}`,
			wantErr:   jsonstate.ErrMissingTable,
			wantTable: "entries",
			wantRow:   -1,
		},
		{
			name:      "null table",
			doc:       `{"feeds":null,"entries":{"rows":[]}}`,
			wantErr:   jsonstate.ErrMissingTable,
			wantTable: "feeds",
			wantRow:   -1,
		},
		{
			name:      "table not object",
			doc:       `{"feeds":[],"entries":{"rows":[]}}`,
			wantErr:   jsonstate.ErrMalformedTable,
			wantTable: "feeds",
			wantRow:   -1,
		},
		{
			name:      "rows missing",
			doc:       `{"feeds":{},"entries":{"rows":[]}}`,
			wantErr:   jsonstate.ErrMalformedTable,
			wantTable: "feeds",
			wantRow:   -1,
		},
		{
			name:      "rows null",
			doc:       `{"feeds":{"rows":null},"entries":{"rows":[]}}`,
			wantErr:   jsonstate.ErrMalformedTable,
			wantTable: "feeds",
			wantRow:   -1,
		},
		{
			name:      "rows not array",
			doc:       `{"feeds":{"rows":{}},"entries":{"rows":[]}}`,
			wantErr:   jsonstate.ErrMalformedTable,
			wantTable: "feeds",
			wantRow:   -1,
		},
		{
			name:      "row not object",
			doc:       `{"feeds":{"rows":[1]},"entries":{"rows":[]}}`,
			wantErr:   jsonstate.ErrMalformedTable,
			wantTable: "feeds",
			wantRow:   0,
		},
		{
			name:        "second row defective",
			doc:         `{"feeds":{"rows":[{"url":"a","priority":1},{"url":"b"}]},"entries":{"rows":[]}}`,
			wantErr:     jsonstate.ErrMissingColumns,
			wantTable:   "feeds",
			wantRow:     1,
			wantColumns: []string{"priority"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			feeds, entries := feedsSchema(), entriesSchema()
			store := newMemStore(feeds, entries)
			store.seed("feeds", jsonstate.Row{"url": "keep", "priority": int64(1)})

			_, err := jsonstate.Read(t.Context(), strings.NewReader(tt.doc), []jsonstate.Descriptor{feeds, entries}, store)
			require.ErrorIs(t, err, tt.wantErr)

			var jErr *jsonstate.Error
			require.ErrorAs(t, err, &jErr)
			assert.Equal(t, tt.wantTable, jErr.Table)
			assert.Equal(t, tt.wantRow, jErr.Row)
			assert.Equal(t, tt.wantColumns, jErr.Columns)

			assert.Empty(t, store.calls, "store must not be touched")
			assert.Len(t, store.rows("feeds"), 1)
		})
	}
}

func Test_Verify_Ignores_Extra_Tables_When_Document_Has_Them(t *testing.T) {
	t.Parallel()

	doc, err := jsonstate.Parse(strings.NewReader(`{"feeds":{"rows":[]},"other":{"rows":[{"x":1}]}}`))
	require.NoError(t, err)

	plan, err := jsonstate.Verify(doc, []jsonstate.Descriptor{feedsSchema()})
	require.NoError(t, err)
	assert.Equal(t, []jsonstate.TableCount{{Table: "feeds", Rows: 0}}, plan.Counts())
}

func Test_Verify_Checks_Only_First_Row_When_FirstRowOnly(t *testing.T) {
	t.Parallel()

	feeds := feedsSchema()
	store := newMemStore(feeds)

	// The second row lacks priority and carries an extra key. Under legacy
	// checking it is imported with what it has; the extra key is ignored.
	doc := `{"feeds":{"rows":[{"url":"a","priority":1},{"url":"b","extra":true}]}}`

	plan, err := jsonstate.Verify(mustParse(t, doc), []jsonstate.Descriptor{feeds}, jsonstate.WithFirstRowOnly())
	require.NoError(t, err)

	reports, err := plan.Apply(t.Context(), store)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reports[0].Inserted)

	want := []jsonstate.Row{
		{"_id": int64(1), "url": "a", "priority": int64(1)},
		{"_id": int64(2), "url": "b", "priority": nil},
	}
	if diff := cmp.Diff(want, store.rows("feeds")); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func Test_Apply_Fails_In_Replace_Phase_When_FirstRowOnly_Skipped_Bad_Row(t *testing.T) {
	t.Parallel()

	feeds := feedsSchema()
	store := newMemStore(feeds)
	store.seed("feeds", jsonstate.Row{"url": "keep", "priority": int64(1)})

	doc := `{"feeds":{"rows":[{"url":"a","priority":1},"not a row"]}}`

	_, err := jsonstate.ReadDocument(t.Context(), mustParse(t, doc), []jsonstate.Descriptor{feeds}, store, jsonstate.WithFirstRowOnly())
	require.ErrorIs(t, err, jsonstate.ErrMalformedValue)

	// Non-transactional destination: the delete already happened.
	assert.Empty(t, store.rows("feeds"))
}

func Test_Apply_Keeps_Earlier_Tables_Replaced_When_Later_Table_Fails_Without_Tx(t *testing.T) {
	t.Parallel()

	feeds, entries := feedsSchema(), entriesSchema()
	tags := jsonstate.NewSchema("tags").PrimaryKey("_id").Text("name")

	store := newMemStore(feeds, entries, tags)
	store.seed("feeds", jsonstate.Row{"url": "old", "priority": int64(1)})
	store.seed("tags", jsonstate.Row{"name": "keep"})
	store.failInsert["entries"] = errors.New("disk full")

	doc := `{"feeds":{"rows":[{"url":"new","priority":2}]},` +
		`"entries":{"rows":[]},` +
		`"tags":{"rows":[{"name":{}}]}}`

	_, err := jsonstate.Read(t.Context(), strings.NewReader(doc), []jsonstate.Descriptor{feeds, entries, tags}, store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full (table=entries)")

	wantFeeds := []jsonstate.Row{{"_id": int64(2), "url": "new", "priority": int64(2)}}
	if diff := cmp.Diff(wantFeeds, store.rows("feeds")); diff != "" {
		t.Fatalf("feeds mismatch (-want +got):\n%s", diff)
	}

	wantTags := []jsonstate.Row{{"_id": int64(1), "name": "keep"}}
	if diff := cmp.Diff(wantTags, store.rows("tags")); diff != "" {
		t.Fatalf("tags mismatch (-want +got):\n%s", diff)
	}

	wantCalls := []string{"delete feeds", "insert feeds", "delete entries", "insert entries"}
	if diff := cmp.Diff(wantCalls, store.calls); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func Test_Apply_Returns_Row_Context_When_Value_Malformed(t *testing.T) {
	t.Parallel()

	feeds := feedsSchema()
	store := newMemStore(feeds)

	doc := `{"feeds":{"rows":[{"url":"a","priority":1},{"url":"b","priority":"high"}]}}`

	_, err := jsonstate.Read(t.Context(), strings.NewReader(doc), []jsonstate.Descriptor{feeds}, store)
	require.ErrorIs(t, err, jsonstate.ErrMalformedValue)
	assert.Contains(t, err.Error(), "(table=feeds row=1 column=priority)")
}

func Test_Apply_Rolls_Back_All_Tables_When_Transactional_Insert_Fails(t *testing.T) {
	t.Parallel()

	feeds, entries := feedsSchema(), entriesSchema()
	store := &memTxStore{memStore: newMemStore(feeds, entries)}
	store.seed("feeds", jsonstate.Row{"url": "keep", "priority": int64(1)})
	store.failInsert["entries"] = errors.New("constraint failed")

	doc := `{"feeds":{"rows":[{"url":"new","priority":2}]},"entries":{"rows":[]}}`

	_, err := jsonstate.Read(t.Context(), strings.NewReader(doc), []jsonstate.Descriptor{feeds, entries}, store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constraint failed")

	assert.Equal(t, 1, store.rollbacks)
	assert.Equal(t, 0, store.commits)

	rows := store.rows("feeds")
	require.Len(t, rows, 1)
	assert.Equal(t, "keep", rows[0]["url"])
}

func Test_Apply_Commits_Once_When_Transactional_Store_Succeeds(t *testing.T) {
	t.Parallel()

	feeds, entries := feedsSchema(), entriesSchema()
	store := &memTxStore{memStore: newMemStore(feeds, entries)}

	doc := `{"feeds":{"rows":[{"url":"a","priority":1}]},"entries":{"rows":[{"feedid":1,"title":"t","date":5,"favorite":0}]}}`

	reports, err := jsonstate.Read(t.Context(), strings.NewReader(doc), []jsonstate.Descriptor{feeds, entries}, store)
	require.NoError(t, err)

	assert.Equal(t, 1, store.commits)
	assert.Equal(t, 0, store.rollbacks)
	assert.Equal(t, []jsonstate.TableReport{
		{Table: "feeds", Inserted: 1},
		{Table: "entries", Inserted: 1},
	}, reports)
}

func Test_Read_Roundtrips_Blob_And_Boolean_When_Exported_Then_Imported(t *testing.T) {
	t.Parallel()

	schema := jsonstate.NewSchema("feeds").
		PrimaryKey("_id").
		TextUnique("url").
		Blob("icon").
		Bool("wifionly")

	src := newMemStore(schema)
	src.seed("feeds",
		jsonstate.Row{"url": "a", "icon": []byte{0, 1, 2, 253}, "wifionly": int64(1)},
		jsonstate.Row{"url": "b", "icon": nil, "wifionly": int64(0)},
	)

	var buf bytes.Buffer

	require.NoError(t, jsonstate.Write(t.Context(), &buf, []jsonstate.Descriptor{schema}, src))
	assert.Contains(t, buf.String(), `"wifionly":1`)
	assert.Contains(t, buf.String(), `"icon":null`)

	dst := newMemStore(schema)

	_, err := jsonstate.Read(t.Context(), &buf, []jsonstate.Descriptor{schema}, dst)
	require.NoError(t, err)

	if diff := cmp.Diff(src.rows("feeds"), dst.rows("feeds")); diff != "" {
		t.Fatalf("rows mismatch (-src +dst):\n%s", diff)
	}
}

func mustParse(t *testing.T, doc string) jsonstate.Document {
	t.Helper()

	d, err := jsonstate.Parse(strings.NewReader(doc))
	require.NoError(t, err)

	return d
}
