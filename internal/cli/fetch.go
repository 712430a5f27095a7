package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/feedstate/internal/config"
	"github.com/calvinalkan/feedstate/internal/feeds"
	"github.com/calvinalkan/feedstate/internal/lock"
	"github.com/calvinalkan/feedstate/pkg/jsonstate/sqlite"
)

// FetchCmd returns the fetch command.
func FetchCmd(cfg *config.Config) *Command {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	subscribeAs := fs.String("url", "", "Store the feed under this `url` instead of the source")

	return &Command{
		Group: GroupStore,
		Flags: fs,
		Usage: "fetch [flags] <url|file>",
		Short: "Subscribe to a feed and store its new entries",
		Long: `Parse an RSS, Atom or JSON feed and store it.

The feed is added when no feed with the same url exists. Entries already
stored for the feed (same guid, or same link when there is no guid) are skipped.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return errors.New("fetch requires exactly one <url|file>")
			}

			src := args[0]
			if !feeds.IsRemote(src) {
				src = resolvePath(cfg, src)
			}

			feed, err := feeds.Parse(ctx, src)
			if err != nil {
				return err
			}

			feedURL := *subscribeAs
			if feedURL == "" {
				feedURL = src
			}

			return withStore(ctx, cfg, lock.Exclusive, false, func(store *sqlite.Store) error {
				res, err := feeds.Subscribe(ctx, store, feedURL, feed, time.Now())
				if err != nil {
					return fmt.Errorf("fetch: %w", err)
				}

				state := "existing"
				if res.FeedCreated {
					state = "new"
				}

				o.Printf("feed %d (%s): %d entries added, %d already stored\n",
					res.FeedID, state, res.EntriesAdded, res.EntriesSeen-res.EntriesAdded)

				return nil
			})
		},
	}
}
