// Package shell turns command text into printed results for one interactive
// session.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hadi77ir/go-mongosh/command"
	"github.com/hadi77ir/go-mongosh/connection"
	"github.com/hadi77ir/go-mongosh/executor"
	"github.com/hadi77ir/go-mongosh/parser"
	"github.com/hadi77ir/go-mongosh/stream"
)

var (
	// ErrExit is returned by Run when the input asks to leave the shell
	ErrExit = errors.New("exit requested")

	// ErrInterrupted is returned by Run when the command was interrupted
	ErrInterrupted = errors.New("interrupted")
)

// Options configures a Session
type Options struct {
	// Database is the initial current database
	Database string

	// QueryTimeout bounds every command except change streams. Zero means
	// no timeout.
	QueryTimeout time.Duration

	// CacheSize is the number of parsed commands kept; zero disables caching
	CacheSize int

	Logger zerolog.Logger
}

// Session runs command text against one connection and writes results as
// relaxed Extended JSON. Run is not safe for concurrent use; Interrupt may
// be called from any goroutine.
type Session struct {
	exec    *executor.Executor
	conn    connection.Connection
	parser  *parser.ParserCache
	out     io.Writer
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	db      string
	running executor.Handle
}

// New creates a session writing results to out
func New(exec *executor.Executor, conn connection.Connection, out io.Writer, opts Options) *Session {
	return &Session{
		exec:    exec,
		conn:    conn,
		parser:  parser.NewParserCache(opts.CacheSize),
		out:     out,
		timeout: opts.QueryTimeout,
		logger:  opts.Logger,
		db:      opts.Database,
	}
}

// Database returns the current database
func (s *Session) Database() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

// Run executes one command text and prints its results. Errors are returned
// for the caller to print; none of them end the session except ErrExit.
func (s *Session) Run(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if handled, err := s.builtin(ctx, text); handled {
		return err
	}

	cmd, err := s.parser.Parse(text)
	if err != nil {
		return err
	}
	return s.execute(ctx, cmd)
}

// Interrupt cancels the running command and reports whether there was one
func (s *Session) Interrupt() bool {
	s.mu.Lock()
	h := s.running
	s.mu.Unlock()
	if h == nil {
		return false
	}
	if err := h.Cancel(); err != nil {
		s.logger.Warn().Err(err).Stringer("verb", h.Command().Verb()).Msg("cursor close failed after interrupt")
	}
	return true
}

func (s *Session) setRunning(h executor.Handle) {
	s.mu.Lock()
	s.running = h
	s.mu.Unlock()
}

func (s *Session) builtin(ctx context.Context, text string) (bool, error) {
	text = strings.TrimSuffix(text, ";")
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false, nil
	}

	switch fields[0] {
	case "exit", "quit", "exit()", "quit()":
		if len(fields) == 1 {
			return true, ErrExit
		}
	case "use":
		if len(fields) != 2 {
			return true, fmt.Errorf("%w: usage: use <database>", command.ErrInvalidArgument)
		}
		return true, s.use(fields[1])
	case "show":
		if len(fields) != 2 {
			return true, fmt.Errorf("%w: usage: show dbs|collections", command.ErrInvalidArgument)
		}
		return true, s.show(ctx, fields[1])
	case "help":
		if len(fields) == 1 {
			_, err := io.WriteString(s.out, helpText)
			return true, err
		}
	}
	return false, nil
}

func (s *Session) use(name string) error {
	if strings.ContainsAny(name, `/\. "$`) || len(name) > 63 {
		return fmt.Errorf("%w: invalid database name %q", command.ErrInvalidArgument, name)
	}
	s.mu.Lock()
	s.db = name
	s.mu.Unlock()
	s.logger.Debug().Str("db", name).Msg("switched database")
	_, err := fmt.Fprintf(s.out, "switched to db %s\n", name)
	return err
}

func (s *Session) show(ctx context.Context, what string) error {
	switch what {
	case "dbs", "databases":
		res, err := s.result(ctx, "db.adminCommand({listDatabases: 1})")
		if err != nil {
			return err
		}
		return s.printDatabases(res.Reply)
	case "collections", "tables":
		res, err := s.result(ctx, "db.getCollectionNames()")
		if err != nil {
			return err
		}
		for _, doc := range res.Documents {
			if name, ok := doc.Lookup("name").StringValueOK(); ok {
				if _, err := fmt.Fprintln(s.out, name); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return fmt.Errorf("%w: don't know how to show %q", command.ErrInvalidArgument, what)
}

// result runs a one-shot command text and returns its result unprinted
func (s *Session) result(ctx context.Context, text string) (*command.Result, error) {
	cmd, err := s.parser.Parse(text)
	if err != nil {
		return nil, err
	}
	h, ctx, cancel := s.start(ctx, cmd)
	defer cancel()
	defer s.setRunning(nil)

	res, err := h.Next(context.Background())
	if err != nil && !errors.Is(err, command.ErrNoMoreResults) {
		return nil, err
	}
	if res == nil {
		return nil, s.stopped(ctx, h.Outcome())
	}
	return res, nil
}

func (s *Session) start(ctx context.Context, cmd command.Command) (executor.Handle, context.Context, context.CancelFunc) {
	cmd = command.WithDatabase(cmd, s.Database())
	cancel := context.CancelFunc(func() {})
	if _, watch := cmd.(command.Watch); s.timeout > 0 && !watch {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	h := s.exec.Execute(ctx, cmd, s.conn)
	s.setRunning(h)
	return h, ctx, cancel
}

func (s *Session) execute(ctx context.Context, cmd command.Command) error {
	started := time.Now()
	h, ctx, cancel := s.start(ctx, cmd)
	defer cancel()
	defer s.setRunning(nil)

	// Next waits on the handle alone; the handle itself ends with ctx
	switch h := h.(type) {
	case *executor.Stream:
		for {
			res, err := h.Next(context.Background())
			if errors.Is(err, command.ErrNoMoreResults) {
				break
			}
			if err != nil {
				return err
			}
			for _, doc := range res.Documents {
				if err := s.printDocument(doc); err != nil {
					return err
				}
			}
		}
		outcome := h.Outcome()
		s.logger.Debug().
			Stringer("verb", cmd.Verb()).
			Stringer("state", outcome.State).
			Stringer("reason", outcome.Reason).
			Int64("delivered", outcome.Delivered).
			Dur("elapsed", time.Since(started)).
			Msg("stream ended")
		if outcome.Checkpoint != "" {
			if _, err := fmt.Fprintf(s.out, "checkpoint: %q\n", outcome.Checkpoint); err != nil {
				return err
			}
		}
		if outcome.State == stream.StateCancelled {
			return s.stopped(ctx, outcome)
		}
		return nil

	default:
		res, err := h.Next(context.Background())
		if errors.Is(err, command.ErrNoMoreResults) {
			return s.stopped(ctx, h.Outcome())
		}
		if err != nil {
			return err
		}
		return s.render(h.Command(), res)
	}
}

// stopped explains why a handle ended without a result
func (s *Session) stopped(ctx context.Context, outcome stream.Outcome) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("command exceeded query timeout of %s: %w", s.timeout, context.DeadlineExceeded)
	}
	if outcome.State == stream.StateFailed && outcome.Err != nil {
		return outcome.Err
	}
	return ErrInterrupted
}

const helpText = `Commands:
  db.<collection>.<method>(...)   run a collection command
  db.<helper>(...)                run a database helper
  rs.<helper>(...)                run a replica set helper
  use <database>                  switch the current database
  show dbs                        list databases
  show collections                list collections of the current database
  help                            show this help
  exit                            leave the shell
Press Ctrl-C to interrupt a running command.
`
