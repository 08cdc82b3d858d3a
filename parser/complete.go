package parser

import (
	"errors"
	"strings"

	"github.com/hadi77ir/go-mongosh/command"
)

var closers = map[TokenType]TokenType{
	TokenRightParen:   TokenLeftParen,
	TokenRightBrace:   TokenLeftBrace,
	TokenRightBracket: TokenLeftBracket,
}

// NeedsMore reports whether input is an incomplete command that continues on
// the next line: it has unclosed parentheses, braces or brackets, ends inside
// a block comment, or ends with a dot. Malformed input returns false so that
// the parser reports the error.
func NeedsMore(input string) bool {
	l := NewLexer(input)
	var open []TokenType
	last := TokenEOF
	for {
		tok, err := l.NextToken()
		if err != nil {
			var perr *command.ParseError
			if errors.As(err, &perr) && errors.Is(err, command.ErrUnterminated) {
				return strings.HasPrefix(input[perr.Pos.Offset:], "/*")
			}
			return false
		}
		switch tok.Type {
		case TokenEOF:
			return len(open) > 0 || last == TokenDot
		case TokenLeftParen, TokenLeftBrace, TokenLeftBracket:
			open = append(open, tok.Type)
		case TokenRightParen, TokenRightBrace, TokenRightBracket:
			if len(open) == 0 || open[len(open)-1] != closers[tok.Type] {
				return false
			}
			open = open[:len(open)-1]
		}
		last = tok.Type
	}
}
