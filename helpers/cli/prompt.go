// Package cli runs line oriented command loops: interactive prompt on a terminal,
// plain line reader otherwise (pipes, scripts, tests).
package cli

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/mattn/go-isatty"
)

type ExecFunc func(line string)

// MainLoop blocks until stdin EOF or prompt exit.
func MainLoop(tag string, exec ExecFunc, complete prompt.Completer) error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		prompt.New(prompt.Executor(exec), complete,
			prompt.OptionTitle(tag),
			prompt.OptionPrefix(tag+"> "),
		).Run()
		return nil
	}
	return ReadLoop(os.Stdin, exec)
}

// ReadLoop calls exec for every trimmed non-empty line from r.
func ReadLoop(r io.Reader, exec ExecFunc) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		exec(line)
	}
	return scanner.Err()
}

// WordCompleter suggests from fixed words matching the current word prefix.
func WordCompleter(words []prompt.Suggest) prompt.Completer {
	return func(d prompt.Document) []prompt.Suggest {
		w := d.GetWordBeforeCursor()
		if w == "" {
			return nil
		}
		return prompt.FilterHasPrefix(words, w, true)
	}
}
