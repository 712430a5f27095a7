package cli

import (
	"context"
	"errors"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/feedstate/internal/config"
)

// VerifyCmd returns the verify command.
func VerifyCmd(cfg *config.Config, stdin io.Reader) *Command {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.Bool("first-row-only", false, "Check columns of the first row of each table only (default from config)")

	return &Command{
		Group: GroupBackup,
		Flags: fs,
		Usage: "verify [flags] <file>",
		Short: "Check a backup without importing it",
		Long:  "Run every import check against a backup and report row counts. The database is not opened.",
		Exec: func(_ context.Context, o *IO, args []string) error {
			if len(args) != 1 {
				return errors.New("verify requires exactly one <file>")
			}

			firstRowOnly := cfg.ValidateFirstRowOnly
			if fs.Changed("first-row-only") {
				firstRowOnly, _ = fs.GetBool("first-row-only")
			}

			plan, doc, err := loadPlan(resolvePath(cfg, args[0]), stdin, firstRowOnly)
			if err != nil {
				return err
			}

			warnIgnoredTables(o, doc)

			for _, c := range plan.Counts() {
				o.Printf("%s: %d rows\n", c.Table, c.Rows)
			}

			o.Println("ok")

			return nil
		},
	}
}
