package command

import "github.com/rs/zerolog"

// ExecutorOptions contains configuration options for the executor
type ExecutorOptions struct {
	// DefaultDatabase is used for commands that do not name a database
	DefaultDatabase string

	// DefaultLimit is applied to find and aggregate commands without a limit
	// Zero means no default limit
	DefaultLimit int64

	// DefaultBatchSize is applied to cursors and change streams without a batch size
	// Zero leaves the batch size to the server
	DefaultBatchSize int32

	// AllowedVerbs is a whitelist of verbs that may be executed
	// Empty list means all verbs are allowed (no restriction)
	AllowedVerbs []Verb

	// Logger receives execution and stream life cycle events
	Logger zerolog.Logger
}

// DefaultExecutorOptions returns default executor options
func DefaultExecutorOptions() *ExecutorOptions {
	return &ExecutorOptions{
		Logger: zerolog.Nop(),
	}
}

// EffectiveLimit returns the limit to apply given the one a command requested
func (o *ExecutorOptions) EffectiveLimit(limit int64) int64 {
	if limit > 0 {
		return limit
	}
	if o.DefaultLimit > 0 {
		return o.DefaultLimit
	}
	return 0
}

// EffectiveBatchSize returns the batch size to apply given the one a command requested
func (o *ExecutorOptions) EffectiveBatchSize(size int32) int32 {
	if size > 0 {
		return size
	}
	if o.DefaultBatchSize > 0 {
		return o.DefaultBatchSize
	}
	return 0
}

// IsVerbAllowed checks if a verb is in the allowed verbs list
// Returns true if AllowedVerbs is empty (no restriction) or verb is in the list
func (o *ExecutorOptions) IsVerbAllowed(v Verb) bool {
	if len(o.AllowedVerbs) == 0 {
		return true
	}
	for _, allowed := range o.AllowedVerbs {
		if allowed == v {
			return true
		}
	}
	return false
}
