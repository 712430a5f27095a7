package cli

import (
	"context"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/feedstate/internal/config"
	"github.com/calvinalkan/feedstate/internal/lock"
	"github.com/calvinalkan/feedstate/pkg/jsonstate/sqlite"
)

// StatsCmd returns the stats command.
func StatsCmd(cfg *config.Config) *Command {
	return &Command{
		Group: GroupStore,
		Flags: flag.NewFlagSet("stats", flag.ContinueOnError),
		Usage: "stats",
		Short: "Show row counts per table",
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return withStore(ctx, cfg, lock.Shared, true, func(store *sqlite.Store) error {
				for _, table := range store.Tables() {
					n, err := store.Count(ctx, table)
					if err != nil {
						return err
					}

					o.Printf("%s: %d rows\n", table, n)
				}

				return nil
			})
		},
	}
}
