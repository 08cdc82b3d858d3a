package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/hadi77ir/go-mongosh/command"
)

// Config holds the complete shell configuration
type Config struct {
	Connection ConnectionConfig `toml:"connection"`
	Execution  ExecutionConfig  `toml:"execution"`
	Log        LogConfig        `toml:"log"`
	Shell      ShellConfig      `toml:"shell"`
}

// ConnectionConfig holds database connection settings
type ConnectionConfig struct {
	// URI is a mongodb:// or mongodb+srv:// connection string, or memory://
	// for an in-process database
	URI            string   `toml:"uri"`
	Database       string   `toml:"database"`
	ReadOnly       bool     `toml:"read_only"`
	AppName        string   `toml:"app_name"`
	ConnectTimeout Duration `toml:"connect_timeout"`
}

// ExecutionConfig holds executor and parser settings
type ExecutionConfig struct {
	DefaultLimit    int64    `toml:"default_limit"`
	BatchSize       int32    `toml:"batch_size"`
	WorkerPoolSize  int      `toml:"worker_pool_size"`
	ParserCacheSize int      `toml:"parser_cache_size"`
	QueryTimeout    Duration `toml:"query_timeout"`
	// AllowedVerbs restricts the verbs that may run; empty allows all
	AllowedVerbs    []string `toml:"allowed_verbs"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// File is appended to; empty logs to stderr
	File   string `toml:"file"`
}

// ShellConfig holds interactive shell settings
type ShellConfig struct {
	HistoryFile string `toml:"history_file"`
	Prompt      string `toml:"prompt"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Connection: ConnectionConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "test",
			AppName:        "mongoshell",
			ConnectTimeout: Duration{10 * time.Second},
		},
		Execution: ExecutionConfig{
			WorkerPoolSize:  16,
			ParserCacheSize: 128,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Shell: ShellConfig{
			HistoryFile: "~/.mongoshell_history",
			Prompt:      "{db}> ",
		},
	}
}

// Load reads a TOML file over the defaults. Keys missing from the file keep
// their default value; a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	path = ExpandPath(path)

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that values are in range
func (c *Config) Validate() error {
	var problems []string

	uri := c.Connection.URI
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") && !strings.HasPrefix(uri, "memory://") {
		problems = append(problems, fmt.Sprintf("connection.uri %q must start with mongodb://, mongodb+srv:// or memory://", uri))
	}
	if c.Connection.ConnectTimeout.Duration < 0 {
		problems = append(problems, "connection.connect_timeout must not be negative")
	}
	if c.Execution.DefaultLimit < 0 {
		problems = append(problems, "execution.default_limit must not be negative")
	}
	if c.Execution.BatchSize < 0 {
		problems = append(problems, "execution.batch_size must not be negative")
	}
	if c.Execution.WorkerPoolSize < 1 {
		problems = append(problems, "execution.worker_pool_size must be at least 1")
	}
	if c.Execution.ParserCacheSize < 0 {
		problems = append(problems, "execution.parser_cache_size must not be negative")
	}
	if c.Execution.QueryTimeout.Duration < 0 {
		problems = append(problems, "execution.query_timeout must not be negative")
	}
	for _, name := range c.Execution.AllowedVerbs {
		if _, ok := command.ParseVerb(name); !ok {
			problems = append(problems, fmt.Sprintf("execution.allowed_verbs: unknown verb %q", name))
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not one of trace, debug, info, warn, error, disabled", c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not one of console, json", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ExecutorOptions builds executor options from the configuration. Unknown
// verb names are skipped; Validate reports them.
func (c *Config) ExecutorOptions(logger zerolog.Logger) *command.ExecutorOptions {
	opts := &command.ExecutorOptions{
		DefaultDatabase:  c.Connection.Database,
		DefaultLimit:     c.Execution.DefaultLimit,
		DefaultBatchSize: c.Execution.BatchSize,
		Logger:           logger,
	}
	for _, name := range c.Execution.AllowedVerbs {
		if v, ok := command.ParseVerb(name); ok {
			opts.AllowedVerbs = append(opts.AllowedVerbs, v)
		}
	}
	return opts
}

// ExpandPath expands environment variables and a leading ~ in path
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
