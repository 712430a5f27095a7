package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Group places a command under a heading in the global usage listing.
// Headings are printed in declaration order.
type Group int

const (
	// GroupBackup holds commands that read or write backup documents.
	GroupBackup Group = iota
	// GroupStore holds commands that work on the database only.
	GroupStore
	// GroupConfig holds configuration helpers.
	GroupConfig
)

var groups = []Group{GroupBackup, GroupStore, GroupConfig}

func (g Group) String() string {
	switch g {
	case GroupBackup:
		return "Backup"
	case GroupStore:
		return "Store"
	case GroupConfig:
		return "Config"
	default:
		return "Other"
	}
}

// Command is one feedstate subcommand.
type Command struct {
	// Group is the usage listing heading.
	Group Group

	// Flags defines command-specific flags.
	Flags *flag.FlagSet

	// Usage is shown after "feedstate" in help: the command name followed by
	// its arguments, e.g. "import [flags] <file>".
	Usage string

	// Short is the one-line description in the command listing.
	Short string

	// Long is the full help text. Short is used when empty.
	Long string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine returns the line shown in the global usage listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-28s %s", c.Usage, c.Short)
}

// PrintHelp prints "feedstate <cmd> --help" output.
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: feedstate", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")

		var buf strings.Builder

		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}

	if c.Group != GroupConfig {
		o.Println()
		o.Println("The database comes from --db, .feedstate.json or the default feedstate.db;")
		o.Println("global options go before the command: feedstate --db <path> " + c.Name() + " ...")
	}
}

// Run parses flags and executes the command. Returns the exit code.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return 0
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return 1
	}

	err = c.Exec(ctx, o, c.Flags.Args())
	if err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return 0
}
