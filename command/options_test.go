package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutorOptions_EffectiveLimit(t *testing.T) {
	opts := &ExecutorOptions{DefaultLimit: 50}

	tests := []struct {
		name     string
		input    int64
		expected int64
	}{
		{"zero returns default", 0, 50},
		{"negative returns default", -5, 50},
		{"explicit limit unchanged", 10, 10},
		{"large limit not capped", 5000, 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, opts.EffectiveLimit(tt.input))
		})
	}

	t.Run("no default means unbounded", func(t *testing.T) {
		opts := DefaultExecutorOptions()
		assert.Equal(t, int64(0), opts.EffectiveLimit(0))
		assert.Equal(t, int64(3), opts.EffectiveLimit(3))
	})
}

func TestExecutorOptions_EffectiveBatchSize(t *testing.T) {
	opts := &ExecutorOptions{DefaultBatchSize: 100}
	assert.Equal(t, int32(100), opts.EffectiveBatchSize(0))
	assert.Equal(t, int32(7), opts.EffectiveBatchSize(7))

	opts = DefaultExecutorOptions()
	assert.Equal(t, int32(0), opts.EffectiveBatchSize(0))
}

func TestDefaultExecutorOptions(t *testing.T) {
	opts := DefaultExecutorOptions()

	assert.Empty(t, opts.DefaultDatabase)
	assert.Zero(t, opts.DefaultLimit)
	assert.Zero(t, opts.DefaultBatchSize)
	assert.Empty(t, opts.AllowedVerbs) // No restrictions by default
}

func TestExecutorOptions_IsVerbAllowed(t *testing.T) {
	t.Run("empty list allows everything", func(t *testing.T) {
		opts := DefaultExecutorOptions()
		assert.True(t, opts.IsVerbAllowed(VerbFind))
		assert.True(t, opts.IsVerbAllowed(VerbDropCollection))
	})

	t.Run("whitelist", func(t *testing.T) {
		opts := &ExecutorOptions{AllowedVerbs: []Verb{VerbFind, VerbCount}}
		assert.True(t, opts.IsVerbAllowed(VerbFind))
		assert.True(t, opts.IsVerbAllowed(VerbCount))
		assert.False(t, opts.IsVerbAllowed(VerbUpdate))
		assert.False(t, opts.IsVerbAllowed(VerbWatch))
	})
}

func TestParseVerb(t *testing.T) {
	tests := []struct {
		input    string
		expected Verb
		ok       bool
	}{
		{"find", VerbFind, true},
		{"  Watch ", VerbWatch, true},
		{"CREATEINDEX", VerbCreateIndex, true},
		{"replSetCommand", VerbReplSetCommand, true},
		{"bogus", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, ok := ParseVerb(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, v)
			}
		})
	}

	for v := VerbFind; v <= VerbReplSetCommand; v++ {
		parsed, ok := ParseVerb(v.String())
		assert.True(t, ok, v.String())
		assert.Equal(t, v, parsed)
	}
}

func TestVerb_IsWrite(t *testing.T) {
	assert.True(t, VerbInsert.IsWrite())
	assert.True(t, VerbDropIndex.IsWrite())
	assert.True(t, VerbHideIndex.IsWrite())
	assert.False(t, VerbFind.IsWrite())
	assert.False(t, VerbWatch.IsWrite())
	assert.False(t, VerbCollStats.IsWrite())
}
