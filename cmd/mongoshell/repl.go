package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/hadi77ir/go-mongosh/config"
	"github.com/hadi77ir/go-mongosh/parser"
	"github.com/hadi77ir/go-mongosh/shell"
)

const continuationPrompt = "... "

var completions = []string{
	"db.", "rs.", "use ", "show dbs", "show collections", "help", "exit",
	"rs.status()", "rs.conf()", "db.getCollectionNames()", "db.stats()",
}

func runREPL(ctx context.Context, session *shell.Session, cfg config.ShellConfig, stdout, stderr io.Writer) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(true)
	line.SetCompleter(complete)

	history := ""
	if cfg.HistoryFile != "" {
		history = config.ExpandPath(cfg.HistoryFile)
		if f, err := os.Open(history); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(history); err == nil {
				_, _ = line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	fmt.Fprintln(stdout, "Type \"help\" for help. Ctrl-C interrupts a running command, Ctrl-D exits.")

	var pending strings.Builder
	for {
		prompt := promptFor(cfg.Prompt, session.Database())
		if pending.Len() > 0 {
			prompt = continuationPrompt
		}

		input, err := line.Prompt(prompt)
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			pending.Reset()
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(stdout)
			return nil
		case err != nil:
			return err
		}

		if pending.Len() > 0 {
			pending.WriteByte('\n')
		}
		pending.WriteString(input)
		text := pending.String()
		if parser.NeedsMore(text) {
			continue
		}
		pending.Reset()
		if strings.TrimSpace(text) == "" {
			continue
		}
		line.AppendHistory(historyEntry(text))

		err = runInterruptible(ctx, session, text)
		switch {
		case errors.Is(err, shell.ErrExit):
			return nil
		case err != nil:
			describe(stderr, err)
		}
	}
}

// historyEntry joins a multi-line command onto one line. The history file
// holds one entry per line.
func historyEntry(text string) string {
	return strings.ReplaceAll(text, "\n", " ")
}

// promptFor substitutes {db} in the prompt template
func promptFor(template, db string) string {
	if template == "" {
		template = "{db}> "
	}
	return strings.ReplaceAll(template, "{db}", db)
}

func complete(input string) []string {
	var out []string
	for _, c := range completions {
		if strings.HasPrefix(c, input) && c != input {
			out = append(out, c)
		}
	}
	return out
}
