package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadi77ir/go-mongosh/command"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mongoshell.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[connection]
uri = "mongodb://db1:27017,db2:27017/?replicaSet=rs0"
database = "shop"
read_only = true

[execution]
default_limit = 50
query_timeout = "30s"
allowed_verbs = ["find", "count"]

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "mongodb://db1:27017,db2:27017/?replicaSet=rs0", cfg.Connection.URI)
	assert.Equal(t, "shop", cfg.Connection.Database)
	assert.True(t, cfg.Connection.ReadOnly)
	assert.Equal(t, int64(50), cfg.Execution.DefaultLimit)
	assert.Equal(t, 30*time.Second, cfg.Execution.QueryTimeout.Duration)
	assert.Equal(t, []string{"find", "count"}, cfg.Execution.AllowedVerbs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// untouched keys keep their defaults
	assert.Equal(t, "mongoshell", cfg.Connection.AppName)
	assert.Equal(t, 10*time.Second, cfg.Connection.ConnectTimeout.Duration)
	assert.Equal(t, 16, cfg.Execution.WorkerPoolSize)
	assert.Equal(t, 128, cfg.Execution.ParserCacheSize)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed toml", "[connection\nuri = 1"},
		{"bad duration", "[execution]\nquery_timeout = \"soon\""},
		{"wrong type", "[execution]\nworker_pool_size = \"many\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"memory uri", func(c *Config) { c.Connection.URI = "memory://" }, ""},
		{"srv uri", func(c *Config) { c.Connection.URI = "mongodb+srv://cluster.example.net" }, ""},
		{"bad uri", func(c *Config) { c.Connection.URI = "http://localhost" }, "connection.uri"},
		{"negative limit", func(c *Config) { c.Execution.DefaultLimit = -1 }, "default_limit"},
		{"zero pool", func(c *Config) { c.Execution.WorkerPoolSize = 0 }, "worker_pool_size"},
		{"negative timeout", func(c *Config) { c.Execution.QueryTimeout.Duration = -time.Second }, "query_timeout"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"known verbs", func(c *Config) { c.Execution.AllowedVerbs = []string{"find", "Watch"} }, ""},
		{"unknown verb", func(c *Config) { c.Execution.AllowedVerbs = []string{"find", "shutdown"} }, "shutdown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("MONGOSHELL_DIR", "/etc/mongoshell")

	assert.Equal(t, filepath.Join(home, ".mongoshell_history"), ExpandPath("~/.mongoshell_history"))
	assert.Equal(t, "/etc/mongoshell/config.toml", ExpandPath("$MONGOSHELL_DIR/config.toml"))
	assert.Equal(t, "relative.toml", ExpandPath("relative.toml"))
}

func TestConfig_ExecutorOptions(t *testing.T) {
	cfg := Default()
	cfg.Connection.Database = "shop"
	cfg.Execution.DefaultLimit = 20
	cfg.Execution.BatchSize = 5
	cfg.Execution.AllowedVerbs = []string{"find", "count", "bogus"}

	opts := cfg.ExecutorOptions(zerolog.Nop())
	assert.Equal(t, "shop", opts.DefaultDatabase)
	assert.Equal(t, int64(20), opts.DefaultLimit)
	assert.Equal(t, int32(5), opts.DefaultBatchSize)
	assert.Equal(t, []command.Verb{command.VerbFind, command.VerbCount}, opts.AllowedVerbs)
	assert.True(t, opts.IsVerbAllowed(command.VerbCount))
	assert.False(t, opts.IsVerbAllowed(command.VerbInsert))
}
