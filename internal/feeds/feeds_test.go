package feeds_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/feedstate/internal/catalog"
	"github.com/calvinalkan/feedstate/internal/feeds"
	"github.com/calvinalkan/feedstate/pkg/jsonstate"
	"github.com/calvinalkan/feedstate/pkg/jsonstate/sqlite"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Feed</title>
    <link>http://example.com/</link>
    <description>Example</description>
    <item>
      <title>First</title>
      <link>http://example.com/1</link>
      <guid>urn:1</guid>
      <description>one</description>
      <pubDate>Tue, 14 Nov 2023 22:13:20 GMT</pubDate>
      <enclosure url="http://example.com/1.mp3" length="42" type="audio/mpeg"/>
    </item>
    <item>
      <title>Second</title>
      <link>http://example.com/2</link>
      <description>two</description>
    </item>
  </channel>
</rss>`

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.Open(t.Context(), filepath.Join(t.TempDir(), "feeds.db"), catalog.Tables())
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

func Test_ParseReader_Reads_Items_When_RSS_Given(t *testing.T) {
	t.Parallel()

	feed, err := feeds.ParseReader(strings.NewReader(sampleRSS))
	require.NoError(t, err)

	assert.Equal(t, "Example Feed", feed.Title)
	require.Len(t, feed.Items, 2)
	assert.Equal(t, "urn:1", feed.Items[0].GUID)
}

func Test_Parse_Reads_Local_File_When_Path_Given(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "feed.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRSS), 0o600))

	feed, err := feeds.Parse(t.Context(), path)
	require.NoError(t, err)
	assert.Len(t, feed.Items, 2)

	_, err = feeds.Parse(t.Context(), filepath.Join(t.TempDir(), "missing.xml"))
	require.Error(t, err)
}

func Test_IsRemote_Detects_HTTP_When_Called(t *testing.T) {
	t.Parallel()

	assert.True(t, feeds.IsRemote("http://example.com/rss"))
	assert.True(t, feeds.IsRemote("https://example.com/rss"))
	assert.False(t, feeds.IsRemote("feed.xml"))
	assert.False(t, feeds.IsRemote("/tmp/feed.xml"))
}

func Test_Subscribe_Creates_Feed_And_Entries_When_New(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	now := time.UnixMilli(1800000000000)

	feed, err := feeds.ParseReader(strings.NewReader(sampleRSS))
	require.NoError(t, err)

	res, err := feeds.Subscribe(t.Context(), store, "http://example.com/rss", feed, now)
	require.NoError(t, err)

	assert.True(t, res.FeedCreated)
	assert.Equal(t, int64(1), res.FeedID)
	assert.Equal(t, 2, res.EntriesAdded)

	var buf bytes.Buffer

	require.NoError(t, jsonstate.Write(t.Context(), &buf, catalog.Tables(), store))

	out := buf.String()
	assert.Contains(t, out, `"url":"http://example.com/rss","name":"Example Feed","lastupdate":1800000000000`)
	assert.Contains(t, out, `"homepage":"http://example.com/"`)
	assert.Contains(t, out, `"priority":1`)
	assert.Contains(t, out, `"title":"First","abstract":"one","date":1700000000000`)
	assert.Contains(t, out, `"enclosure":"http://example.com/1.mp3[@]audio/mpeg[@]42"`)
	assert.Contains(t, out, `"title":"Second","abstract":"two","date":1800000000000`)
}

func Test_Subscribe_Skips_Stored_Entries_When_Fetched_Again(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	feed, err := feeds.ParseReader(strings.NewReader(sampleRSS))
	require.NoError(t, err)

	_, err = feeds.Subscribe(t.Context(), store, "http://example.com/rss", feed, time.Now())
	require.NoError(t, err)

	res, err := feeds.Subscribe(t.Context(), store, "http://example.com/rss", feed, time.Now())
	require.NoError(t, err)

	assert.False(t, res.FeedCreated)
	assert.Equal(t, int64(1), res.FeedID)
	assert.Equal(t, 0, res.EntriesAdded)
	assert.Equal(t, 2, res.EntriesSeen)

	n, err := store.Count(t.Context(), catalog.TableEntries)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func Test_Subscribe_Assigns_Next_Priority_When_Second_Feed_Added(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	feed, err := feeds.ParseReader(strings.NewReader(sampleRSS))
	require.NoError(t, err)

	_, err = feeds.Subscribe(t.Context(), store, "http://a.example/rss", feed, time.Now())
	require.NoError(t, err)

	res, err := feeds.Subscribe(t.Context(), store, "http://b.example/rss", feed, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.FeedID)
	assert.Equal(t, 2, res.EntriesAdded, "entries dedup per feed")

	var priority int64

	err = store.DB().QueryRowContext(t.Context(), `SELECT "priority" FROM "feeds" WHERE "url" = ?`, "http://b.example/rss").Scan(&priority)
	require.NoError(t, err)
	assert.Equal(t, int64(2), priority)
}

func Test_Subscribe_Returns_Error_When_Arguments_Missing(t *testing.T) {
	t.Parallel()

	store := openStore(t)

	_, err := feeds.Subscribe(t.Context(), store, "", nil, time.Now())
	require.Error(t, err)

	_, err = feeds.Subscribe(t.Context(), store, "http://x", nil, time.Now())
	require.Error(t, err)
}
