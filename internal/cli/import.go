package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/feedstate/internal/catalog"
	"github.com/calvinalkan/feedstate/internal/config"
	"github.com/calvinalkan/feedstate/internal/lock"
	"github.com/calvinalkan/feedstate/pkg/jsonstate"
	"github.com/calvinalkan/feedstate/pkg/jsonstate/sqlite"
)

var errImportCancelled = errors.New("import cancelled")

// ImportCmd returns the import command.
func ImportCmd(cfg *config.Config, stdin io.Reader, env map[string]string) *Command {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	yes := fs.BoolP("yes", "y", false, "Replace without asking")
	fs.Bool("first-row-only", false, "Check columns of the first row of each table only (default from config)")

	return &Command{
		Group: GroupBackup,
		Flags: fs,
		Usage: "import [flags] <file>",
		Short: "Replace all feeds and entries from a JSON backup",
		Long: `Replace the contents of the feeds and entries tables with a backup.

The whole document is checked before anything is written; a defective backup
leaves the database untouched. The replacement itself runs in one transaction.
Snappy compressed backups are detected automatically. Use - to read stdin
(requires --yes).`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			firstRowOnly := cfg.ValidateFirstRowOnly
			if fs.Changed("first-row-only") {
				firstRowOnly, _ = fs.GetBool("first-row-only")
			}

			assumeYes := *yes || env["FEEDSTATE_ASSUME_YES"] == "1"

			return execImport(ctx, o, cfg, stdin, args, assumeYes, firstRowOnly)
		},
	}
}

func execImport(ctx context.Context, o *IO, cfg *config.Config, stdin io.Reader, args []string, yes, firstRowOnly bool) error {
	if len(args) != 1 {
		return errors.New("import requires exactly one <file>")
	}

	path := resolvePath(cfg, args[0])
	if path == "-" && !yes {
		return errors.New("reading a backup from stdin requires --yes")
	}

	plan, doc, err := loadPlan(path, stdin, firstRowOnly)
	if err != nil {
		return err
	}

	warnIgnoredTables(o, doc)

	if !yes {
		ok, err := confirm(stdin, o, fmt.Sprintf("Replace all rows in %s with %s (%s)?", cfg.DatabaseAbs, args[0], describeCounts(plan.Counts())))
		if err != nil {
			return err
		}

		if !ok {
			return errImportCancelled
		}
	}

	return withStore(ctx, cfg, lock.Exclusive, false, func(store *sqlite.Store) error {
		reports, err := plan.Apply(ctx, store)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}

		for _, r := range reports {
			o.Printf("%s: deleted %d, inserted %d\n", r.Table, r.Deleted, r.Inserted)
		}

		return nil
	})
}

func loadPlan(path string, stdin io.Reader, firstRowOnly bool) (*jsonstate.Plan, jsonstate.Document, error) {
	r, closeFn, err := openBackup(path, stdin)
	if err != nil {
		return nil, nil, err
	}

	doc, err := jsonstate.Parse(r)

	closeErr := closeFn()
	if err != nil {
		return nil, nil, err
	}

	if closeErr != nil {
		return nil, nil, fmt.Errorf("close backup: %w", closeErr)
	}

	var opts []jsonstate.ReadOption
	if firstRowOnly {
		opts = append(opts, jsonstate.WithFirstRowOnly())
	}

	plan, err := jsonstate.Verify(doc, catalog.Tables(), opts...)
	if err != nil {
		return nil, nil, err
	}

	return plan, doc, nil
}

func warnIgnoredTables(o *IO, doc jsonstate.Document) {
	known := make(map[string]struct{})
	for _, d := range catalog.Tables() {
		known[d.TableName()] = struct{}{}
	}

	var extra []string

	for name := range doc {
		if _, ok := known[name]; !ok {
			extra = append(extra, name)
		}
	}

	slices.Sort(extra)

	for _, name := range extra {
		o.Warn("backup table %q is not part of the store and was ignored", name)
	}
}

func describeCounts(counts []jsonstate.TableCount) string {
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = fmt.Sprintf("%s: %d rows", c.Table, c.Rows)
	}

	return strings.Join(parts, ", ")
}
