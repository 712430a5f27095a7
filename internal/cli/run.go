package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/feedstate/internal/config"
)

// Run is the main entry point. Returns the exit code.
//
// args includes the program name. A value on sigCh cancels the command
// context; nil disables signal handling.
func Run(stdin io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globals := flag.NewFlagSet("feedstate", flag.ContinueOnError)
	globals.SetInterspersed(false)
	globals.SetOutput(&strings.Builder{})

	workDir := globals.StringP("cwd", "C", "", "Run as if started in `dir`")
	configPath := globals.StringP("config", "c", "", "Use config `file` instead of .feedstate.json")
	dbPath := globals.String("db", "", "Use database at `path`")
	help := globals.BoolP("help", "h", false, "Show help")

	var rest []string
	if len(args) > 1 {
		err := globals.Parse(args[1:])
		if err != nil && !errors.Is(err, flag.ErrHelp) {
			fprintln(errOut, "error:", err)
			printUsage(errOut, globals, nil)

			return 1
		}

		rest = globals.Args()
	}

	cfg := &config.Config{}
	commands := newCommands(cfg, stdin, env)

	if *help || len(rest) == 0 {
		printUsage(out, globals, commands)

		return 0
	}

	var cmd *Command

	for _, c := range commands {
		if c.Name() == rest[0] {
			cmd = c

			break
		}
	}

	if cmd == nil {
		fprintln(errOut, "error: unknown command:", rest[0])
		printUsage(errOut, globals, commands)

		return 1
	}

	loaded, err := config.Load(config.LoadInput{
		WorkDirOverride:  *workDir,
		ConfigPath:       *configPath,
		DatabaseOverride: *dbPath,
		Env:              env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	*cfg = loaded

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(out, errOut)

	code := cmd.Run(ctx, o, rest[1:])
	o.Finish()

	return code
}

func newCommands(cfg *config.Config, stdin io.Reader, env map[string]string) []*Command {
	return []*Command{
		ExportCmd(cfg),
		ImportCmd(cfg, stdin, env),
		VerifyCmd(cfg, stdin),
		FetchCmd(cfg),
		StatsCmd(cfg),
		PrintConfigCmd(cfg),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, globals *flag.FlagSet, commands []*Command) {
	fprintln(w, `feedstate - back up and restore a feed store as JSON

Usage: feedstate [options] <command> [args]

Options:`)

	var buf strings.Builder

	globals.SetOutput(&buf)
	globals.PrintDefaults()
	globals.SetOutput(&strings.Builder{})

	_, _ = io.WriteString(w, buf.String())

	if len(commands) == 0 {
		return
	}

	for _, g := range groups {
		printed := false

		for _, c := range commands {
			if c.Group != g {
				continue
			}

			if !printed {
				fprintln(w)
				fprintln(w, g.String()+" commands:")

				printed = true
			}

			fprintln(w, c.HelpLine())
		}
	}
}
