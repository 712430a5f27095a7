package cli

import (
	"context"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/feedstate/internal/config"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(cfg *config.Config) *Command {
	return &Command{
		Group: GroupConfig,
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective configuration and which files it was loaded from.",
		Exec: func(_ context.Context, io *IO, _ []string) error {
			execPrintConfig(io, cfg)

			return nil
		},
	}
}

func execPrintConfig(io *IO, cfg *config.Config) {
	io.Println("effective_cwd=" + cfg.EffectiveCwd)
	io.Println("database=" + cfg.DatabaseAbs)
	io.Println("lock_timeout=" + time.Duration(cfg.LockTimeout).String())
	io.Printf("compress=%t\n", cfg.Compress)
	io.Printf("validate_first_row_only=%t\n", cfg.ValidateFirstRowOnly)

	io.Println("")
	io.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		io.Println("(defaults only)")

		return
	}

	if cfg.Sources.Global != "" {
		io.Println("global_config=" + cfg.Sources.Global)
	}

	if cfg.Sources.Project != "" {
		io.Println("project_config=" + cfg.Sources.Project)
	}
}
