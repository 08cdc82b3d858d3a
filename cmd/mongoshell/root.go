package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hadi77ir/go-mongosh/config"
	"github.com/hadi77ir/go-mongosh/connection"
	"github.com/hadi77ir/go-mongosh/connection/memory"
	"github.com/hadi77ir/go-mongosh/connection/mongodb"
	"github.com/hadi77ir/go-mongosh/connection/readonly"
	"github.com/hadi77ir/go-mongosh/executor"
	"github.com/hadi77ir/go-mongosh/internal/logging"
	"github.com/hadi77ir/go-mongosh/shell"
)

type flags struct {
	configFile string
	uri        string
	database   string
	eval       string
	readOnly   bool
	logLevel   string
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "mongoshell",
		Short: "Interactive MongoDB shell",
		Long: `mongoshell runs MongoDB shell commands such as

  db.users.find({age: {$gt: 21}}).limit(10)
  db.orders.watch().limit(3)
  rs.status()

against a deployment and prints results as Extended JSON.

Without --eval an interactive prompt is started. Use memory:// as the URI
to work against an in-process database.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	f.bind(cmd)
	return cmd
}

func (f *flags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configFile, "config", "~/.mongoshell.toml", "configuration file")
	cmd.Flags().StringVar(&f.uri, "uri", "", "connection string (overrides connection.uri)")
	cmd.Flags().StringVar(&f.database, "db", "", "initial database (overrides connection.database)")
	cmd.Flags().StringVar(&f.eval, "eval", "", "run one command and exit")
	cmd.Flags().BoolVar(&f.readOnly, "read-only", false, "reject commands that modify data")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, disabled")
}

// loadConfig reads the configuration file and applies the flags that were
// set on the command line
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	changed := cmd.Flags().Changed
	if changed("uri") {
		cfg.Connection.URI = f.uri
	}
	if changed("db") {
		cfg.Connection.Database = f.database
	}
	if changed("read-only") {
		cfg.Connection.ReadOnly = f.readOnly
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, f *flags) error {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx := cmd.Context()
	conn, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("closing connection")
		}
	}()

	exec, err := executor.New(cfg.ExecutorOptions(logger), cfg.Execution.WorkerPoolSize)
	if err != nil {
		return err
	}
	defer exec.Close()

	session := shell.New(exec, conn, cmd.OutOrStdout(), shell.Options{
		Database:     cfg.Connection.Database,
		QueryTimeout: cfg.Execution.QueryTimeout.Duration,
		CacheSize:    cfg.Execution.ParserCacheSize,
		Logger:       logger,
	})

	if f.eval != "" {
		err := runInterruptible(ctx, session, f.eval)
		if errors.Is(err, shell.ErrExit) {
			return nil
		}
		return err
	}
	return runREPL(ctx, session, cfg.Shell, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// connect opens the configured connection, wrapped read-only when requested
func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (connection.Connection, error) {
	var conn connection.Connection
	if strings.HasPrefix(cfg.Connection.URI, "memory://") {
		opts := memory.DefaultOptions()
		opts.Logger = logger
		conn = memory.New(opts)
	} else {
		c, err := mongodb.Dial(ctx, mongodb.Options{
			URI:            cfg.Connection.URI,
			AppName:        cfg.Connection.AppName,
			ConnectTimeout: cfg.Connection.ConnectTimeout.Duration,
		})
		if err != nil {
			return nil, err
		}
		conn = c
	}
	logger.Debug().Bool("read_only", cfg.Connection.ReadOnly).Msg("connected")

	if cfg.Connection.ReadOnly {
		conn = readonly.New(conn)
	}
	return conn, nil
}

// runInterruptible runs text on the session; an interrupt signal cancels the
// running command instead of ending the process
func runInterruptible(ctx context.Context, session *shell.Session, text string) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-sigs:
				session.Interrupt()
			case <-done:
				return
			}
		}
	}()

	return session.Run(ctx, text)
}

func describe(w io.Writer, err error) {
	if errors.Is(err, shell.ErrInterrupted) {
		fmt.Fprintln(w, "interrupted")
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}
