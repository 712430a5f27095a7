package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
)

var errNoConfirmation = errors.New("confirmation required: pass --yes or answer the prompt on stdin")

// confirm asks a yes/no question. A terminal gets an interactive liner
// prompt; any other stdin supplies the answer as one line.
func confirm(stdin io.Reader, o *IO, question string) (bool, error) {
	if stdin == nil {
		return false, errNoConfirmation
	}

	prompt := question + " [y/N] "

	if f, ok := stdin.(*os.File); ok && isTerminal(f) {
		line := liner.NewLiner()
		defer line.Close()

		line.SetCtrlCAborts(true)

		answer, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return false, nil
		}

		if err != nil {
			return false, fmt.Errorf("prompt: %w", err)
		}

		return isYes(answer), nil
	}

	o.Printf("%s", prompt)

	answer, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}

	o.Println()

	return isYes(answer), nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}

	return fi.Mode()&os.ModeCharDevice != 0
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
