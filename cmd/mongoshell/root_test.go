package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadi77ir/go-mongosh/connection/readonly"
	"github.com/hadi77ir/go-mongosh/parser"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.toml"), "--log-level", "disabled"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEval(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"insert", []string{"--uri", "memory://", "--db", "shop", "--eval", `db.users.insertOne({_id: 1})`}, `"insertedId": 1`},
		{"count on empty", []string{"--uri", "memory://", "--eval", `db.users.countDocuments()`}, "0\n"},
		{"use", []string{"--uri", "memory://", "--eval", "use inventory"}, "switched to db inventory\n"},
		{"replica set", []string{"--uri", "memory://", "--eval", `rs.status()`}, `"set": "rs0"`},
		{"exit", []string{"--uri", "memory://", "--eval", "exit"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestEval_Errors(t *testing.T) {
	_, err := execute(t, "--uri", "memory://", "--read-only", "--eval", `db.users.insertOne({_id: 1})`)
	assert.ErrorIs(t, err, readonly.ErrReadOnly)

	_, err = execute(t, "--uri", "memory://", "--eval", `db.users.bar()`)
	assert.Error(t, err)

	_, err = execute(t, "--uri", "http://localhost", "--eval", `db.users.find()`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection.uri")

	_, err = execute(t, "extra")
	assert.Error(t, err)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mongoshell.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[connection]
uri = "mongodb://db.example.net:27017"
database = "shop"

[log]
level = "warn"
`), 0o600))

	tests := []struct {
		name     string
		args     []string
		uri      string
		database string
		readOnly bool
		level    string
	}{
		{"file only", nil, "mongodb://db.example.net:27017", "shop", false, "warn"},
		{"uri flag", []string{"--uri", "memory://"}, "memory://", "shop", false, "warn"},
		{"all flags", []string{"--db", "crm", "--read-only", "--log-level", "debug"}, "mongodb://db.example.net:27017", "crm", true, "debug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "mongoshell"}
			f := &flags{}
			f.bind(cmd)
			require.NoError(t, cmd.ParseFlags(append([]string{"--config", path}, tt.args...)))

			cfg, err := loadConfig(cmd, f)
			require.NoError(t, err)
			assert.Equal(t, tt.uri, cfg.Connection.URI)
			assert.Equal(t, tt.database, cfg.Connection.Database)
			assert.Equal(t, tt.readOnly, cfg.Connection.ReadOnly)
			assert.Equal(t, tt.level, cfg.Log.Level)
		})
	}
}

func TestPromptFor(t *testing.T) {
	assert.Equal(t, "shop> ", promptFor("{db}> ", "shop"))
	assert.Equal(t, "shop> ", promptFor("", "shop"))
	assert.Equal(t, "[test] $ ", promptFor("[{db}] $ ", "test"))
}

func TestHistoryEntry(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"single line", "db.users.find()", "db.users.find()"},
		{"spaces inside a string", "db.users.find({name: \"a  b\"})", "db.users.find({name: \"a  b\"})"},
		{"multi line", "db.users.find({\n  a: 1\n})", "db.users.find({   a: 1 })"},
		{"trailing newline", "show dbs\n", "show dbs "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := historyEntry(tt.text)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "\n")
		})
	}

	// a recalled entry parses to the same command as the typed text
	text := "db.users.updateOne(\n  {a: 1},\n  {$set: {b: 'x y'}}\n)"
	typed, err := parser.Parse(text)
	require.NoError(t, err)
	recalled, err := parser.Parse(historyEntry(text))
	require.NoError(t, err)
	assert.Equal(t, typed, recalled)
}

func TestComplete(t *testing.T) {
	assert.Equal(t, []string{"show dbs", "show collections"}, complete("sh"))
	assert.Equal(t, []string{"rs.", "rs.status()", "rs.conf()"}, complete("r"))
	assert.Empty(t, complete("db.users.find("))
}
