package cli

import (
	"fmt"
	"io"
)

// IO routes command output: results to stdout, diagnostics to stderr.
type IO struct {
	out      io.Writer
	errOut   io.Writer
	warnings []string
}

// NewIO creates a new IO instance.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Out returns the stdout writer for commands that stream data.
func (o *IO) Out() io.Writer {
	return o.out
}

// Warn records a warning. Warnings are printed to stderr by [IO.Finish] so
// they stay visible after long output.
func (o *IO) Warn(format string, a ...any) {
	o.warnings = append(o.warnings, fmt.Sprintf(format, a...))
}

// Println writes to stdout.
func (o *IO) Println(a ...any) {
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout.
func (o *IO) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// Finish prints collected warnings to stderr.
func (o *IO) Finish() {
	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}
}
