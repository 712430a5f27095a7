// Package feeds fetches RSS, Atom and JSON feeds and stores them as feed and
// entry rows.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/calvinalkan/feedstate/internal/catalog"
	"github.com/calvinalkan/feedstate/pkg/jsonstate"
)

// Result summarizes one [Subscribe] call.
type Result struct {
	FeedID       int64
	FeedCreated  bool
	EntriesAdded int
	EntriesSeen  int
}

// IsRemote reports whether src names an http(s) URL rather than a file.
func IsRemote(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}

	return u.Scheme == "http" || u.Scheme == "https"
}

// Parse loads a feed from an http(s) URL or a local file path.
func Parse(ctx context.Context, src string) (*gofeed.Feed, error) {
	if src == "" {
		return nil, errors.New("parse feed: source is empty")
	}

	if IsRemote(src) {
		feed, err := gofeed.NewParser().ParseURLWithContext(src, ctx)
		if err != nil {
			return nil, fmt.Errorf("parse feed %s: %w", src, err)
		}

		return feed, nil
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	defer func() { _ = f.Close() }()

	return ParseReader(f)
}

// ParseReader parses a feed document of any supported format.
func ParseReader(r io.Reader) (*gofeed.Feed, error) {
	feed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	return feed, nil
}

// Subscribe stores feed under feedURL and adds the entries not stored yet.
//
// The feed row is created when no row with feedURL exists. Entries are matched
// against the stored entries of the same feed by guid, falling back to link when
// an item has no guid. Timestamps are epoch milliseconds; items without a date
// get now. Everything runs in one transaction.
func Subscribe(ctx context.Context, store jsonstate.TxGateways, feedURL string, feed *gofeed.Feed, now time.Time) (res Result, err error) {
	if feedURL == "" {
		return Result{}, errors.New("subscribe: url is empty")
	}

	if feed == nil {
		return Result{}, errors.New("subscribe: feed is nil")
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("subscribe: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()

			return
		}

		commitErr := tx.Commit()
		if commitErr != nil {
			res, err = Result{}, fmt.Errorf("subscribe: %w", commitErr)
		}
	}()

	feedsGW, err := tx.Table(catalog.TableFeeds)
	if err != nil {
		return Result{}, fmt.Errorf("subscribe: %w", err)
	}

	id, found, count, err := findFeed(ctx, feedsGW, feedURL)
	if err != nil {
		return Result{}, err
	}

	if !found {
		_, err = feedsGW.BulkInsert(ctx, []jsonstate.Row{feedRow(feedURL, feed, now, count+1)})
		if err != nil {
			return Result{}, fmt.Errorf("subscribe: insert feed: %w", err)
		}

		id, found, _, err = findFeed(ctx, feedsGW, feedURL)
		if err != nil {
			return Result{}, err
		}

		if !found {
			return Result{}, fmt.Errorf("subscribe: feed %s not found after insert", feedURL)
		}

		res.FeedCreated = true
	}

	res.FeedID = id

	entriesGW, err := tx.Table(catalog.TableEntries)
	if err != nil {
		return Result{}, fmt.Errorf("subscribe: %w", err)
	}

	seen, err := storedEntryKeys(ctx, entriesGW, id)
	if err != nil {
		return Result{}, err
	}

	var rows []jsonstate.Row

	for _, item := range feed.Items {
		if item == nil {
			continue
		}

		res.EntriesSeen++

		key := entryKey(item)
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}

			seen[key] = struct{}{}
		}

		rows = append(rows, entryRow(id, item, now))
	}

	_, err = entriesGW.BulkInsert(ctx, rows)
	if err != nil {
		return Result{}, fmt.Errorf("subscribe: insert entries: %w", err)
	}

	res.EntriesAdded = len(rows)

	return res, nil
}

// findFeed scans the feeds table for feedURL. It also returns the number of
// stored feeds, which new feeds use as their priority.
func findFeed(ctx context.Context, gw jsonstate.RowGateway, feedURL string) (id int64, found bool, count int64, err error) {
	err = eachRow(ctx, gw, []string{catalog.ID, catalog.FeedURL}, func(v map[string]any) {
		count++

		if !found && asString(v[catalog.FeedURL]) == feedURL {
			id, found = asInt64(v[catalog.ID])
		}
	})
	if err != nil {
		return 0, false, 0, fmt.Errorf("subscribe: find feed: %w", err)
	}

	return id, found, count, nil
}

func storedEntryKeys(ctx context.Context, gw jsonstate.RowGateway, feedID int64) (map[string]struct{}, error) {
	keys := make(map[string]struct{})

	err := eachRow(ctx, gw, []string{catalog.EntryFeedID, catalog.EntryGUID, catalog.EntryLink}, func(v map[string]any) {
		if id, ok := asInt64(v[catalog.EntryFeedID]); !ok || id != feedID {
			return
		}

		key := asString(v[catalog.EntryGUID])
		if key == "" {
			key = asString(v[catalog.EntryLink])
		}

		if key != "" {
			keys[key] = struct{}{}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe: read entries: %w", err)
	}

	return keys, nil
}

func eachRow(ctx context.Context, gw jsonstate.RowGateway, columns []string, fn func(map[string]any)) (err error) {
	cur, err := gw.Query(ctx, columns)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := cur.Close()
		if closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	names, err := cur.Columns()
	if err != nil {
		return err
	}

	values := make([]any, len(names))
	dest := make([]any, len(names))

	for i := range values {
		dest[i] = &values[i]
	}

	row := make(map[string]any, len(names))

	for cur.Next() {
		err = cur.Scan(dest...)
		if err != nil {
			return err
		}

		for i, n := range names {
			row[n] = values[i]
		}

		fn(row)
	}

	return cur.Err()
}

func feedRow(feedURL string, feed *gofeed.Feed, now time.Time, priority int64) jsonstate.Row {
	row := jsonstate.Row{
		catalog.FeedURL:            feedURL,
		catalog.FeedName:           nullString(strings.TrimSpace(feed.Title)),
		catalog.FeedHomepage:       nullString(feed.Link),
		catalog.FeedLastUpdate:     now.UnixMilli(),
		catalog.FeedRealLastUpdate: now.UnixMilli(),
		catalog.FeedPriority:       priority,
		catalog.FeedFetchMode:      int64(0),
		catalog.FeedSkipAlert:      int64(0),
		catalog.FeedWifiOnly:       int64(0),
	}

	if t := feedTime(feed.UpdatedParsed, feed.PublishedParsed); t != nil {
		row[catalog.FeedRealLastUpdate] = t.UnixMilli()
	}

	return row
}

func entryRow(feedID int64, item *gofeed.Item, now time.Time) jsonstate.Row {
	date := now
	if t := feedTime(item.PublishedParsed, item.UpdatedParsed); t != nil {
		date = *t
	}

	abstract := item.Description
	if abstract == "" {
		abstract = item.Content
	}

	row := jsonstate.Row{
		catalog.EntryFeedID:   feedID,
		catalog.EntryTitle:    nullString(strings.TrimSpace(item.Title)),
		catalog.EntryAbstract: nullString(abstract),
		catalog.EntryDate:     date.UnixMilli(),
		catalog.EntryLink:     nullString(item.Link),
		catalog.EntryFavorite: int64(0),
		catalog.EntryGUID:     nullString(item.GUID),
	}

	if item.Author != nil {
		row[catalog.EntryAuthor] = nullString(item.Author.Name)
	}

	if item.Image != nil {
		row[catalog.EntryLinkImgURL] = nullString(item.Image.URL)
	}

	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			row[catalog.EntryEnclosure] = enc.URL + "[@]" + enc.Type + "[@]" + enc.Length

			break
		}
	}

	return row
}

func entryKey(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}

	return item.Link
}

func feedTime(candidates ...*time.Time) *time.Time {
	for _, t := range candidates {
		if t != nil && !t.IsZero() {
			return t
		}
	}

	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
