package command

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors - use with errors.Is() for matching
var (
	// ErrNoMoreResults is returned by a handle once it has nothing left to deliver
	ErrNoMoreResults = errors.New("no more results")

	// ErrUnknownVerb is returned when a method, helper or modifier name is not recognized
	ErrUnknownVerb = errors.New("unknown verb")

	// ErrUnexpectedToken is returned when the parser meets a token it cannot use
	ErrUnexpectedToken = errors.New("unexpected token")

	// ErrUnterminated is returned for strings, regex literals and comments missing their terminator
	ErrUnterminated = errors.New("unterminated literal")

	// ErrUnbalanced is returned when parentheses, braces or brackets do not match
	ErrUnbalanced = errors.New("unbalanced delimiter")

	// ErrInvalidArgument is returned when the arguments of a verb have the wrong shape
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrVerbNotAllowed is returned when a verb is not in the AllowedVerbs whitelist
	ErrVerbNotAllowed = errors.New("verb not allowed")

	// ErrNoDatabase is returned when a command has no database and no default is configured
	ErrNoDatabase = errors.New("no database selected")

	// ErrInvalidCheckpoint is returned when a resume checkpoint cannot be decoded
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")

	// ErrExecutionFailed is returned when the executor could not run a command
	ErrExecutionFailed = errors.New("command execution failed")
)

// Position locates a token in the input text. Line and Column are 1-based,
// Column counts runes.
type Position struct {
	Offset int
	Line   int
	Column int
}

// String returns the position as "line L, column C"
func (p Position) String() string {
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}

// ParseError reports malformed or unknown command text
type ParseError struct {
	Pos Position
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at %s", e.Msg, e.Pos)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError
func NewParseError(pos Position, err error, format string, args ...interface{}) error {
	return &ParseError{
		Pos: pos,
		Msg: fmt.Sprintf(format, args...),
		Err: err,
	}
}

// ValidationError reports well-formed text whose arguments do not fit the verb
type ValidationError struct {
	Pos    Position
	Method string
	Msg    string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("%s at %s", e.Msg, e.Pos)
	}
	return fmt.Sprintf("%s: %s at %s", e.Method, e.Msg, e.Pos)
}

func (e *ValidationError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidArgument
	}
	return e.Err
}

// NewValidationError creates a new ValidationError wrapping ErrInvalidArgument
func NewValidationError(pos Position, method string, format string, args ...interface{}) error {
	return &ValidationError{
		Pos:    pos,
		Method: method,
		Msg:    fmt.Sprintf(format, args...),
		Err:    ErrInvalidArgument,
	}
}

// DatabaseFailure carries an error returned by the database verbatim
type DatabaseFailure struct {
	Code     int32
	CodeName string
	Message  string
	Labels   []string
	// Command is the command that failed
	Command Command
	Err     error
}

func (e *DatabaseFailure) Error() string {
	var sb strings.Builder
	if e.Code != 0 {
		sb.WriteString(fmt.Sprintf("(%d", e.Code))
		if e.CodeName != "" {
			sb.WriteString(" " + e.CodeName)
		}
		sb.WriteString(") ")
	}
	sb.WriteString(e.Message)
	return sb.String()
}

func (e *DatabaseFailure) Unwrap() error {
	return e.Err
}

// HasLabel reports whether the database attached the given error label
func (e *DatabaseFailure) HasLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// ExecutionError wraps a failure that did not come from the database
type ExecutionError struct {
	Operation string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new ExecutionError
func NewExecutionError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return &ExecutionError{
		Operation: operation,
		Err:       err,
	}
}
