package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/feedstate/internal/catalog"
	"github.com/calvinalkan/feedstate/internal/config"
	"github.com/calvinalkan/feedstate/internal/lock"
	"github.com/calvinalkan/feedstate/pkg/jsonstate"
	"github.com/calvinalkan/feedstate/pkg/jsonstate/sqlite"
)

// ExportCmd returns the export command.
func ExportCmd(cfg *config.Config) *Command {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.Bool("compress", false, "Wrap the document in snappy framing (default from config)")

	return &Command{
		Group: GroupBackup,
		Flags: fs,
		Usage: "export [flags] [file]",
		Short: "Write all feeds and entries as JSON",
		Long: `Write every row of the feeds and entries tables as one JSON document.

Without a file (or with -), the document goes to stdout. Files are replaced
atomically. Primary keys are not exported.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			compress := cfg.Compress
			if fs.Changed("compress") {
				compress, _ = fs.GetBool("compress")
			}

			return execExport(ctx, o, cfg, args, compress)
		},
	}
}

func execExport(ctx context.Context, o *IO, cfg *config.Config, args []string, compress bool) error {
	if len(args) > 1 {
		return errors.New("export takes at most one file")
	}

	path := ""
	if len(args) == 1 {
		path = resolvePath(cfg, args[0])
	}

	toFile := path != "" && path != "-"

	return withStore(ctx, cfg, lock.Shared, true, func(store *sqlite.Store) error {
		err := writeBackup(path, o.Out(), compress, func(w io.Writer) error {
			return jsonstate.Write(ctx, w, catalog.Tables(), store)
		})
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}

		if !toFile {
			return nil
		}

		for _, table := range store.Tables() {
			n, err := store.Count(ctx, table)
			if err != nil {
				return err
			}

			o.Printf("%s: %d rows\n", table, n)
		}

		o.Println("exported to", path)

		return nil
	})
}

// resolvePath resolves p against the effective work dir. "-" stays as is.
func resolvePath(cfg *config.Config, p string) string {
	if p == "-" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(cfg.EffectiveCwd, p)
}
