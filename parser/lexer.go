package parser

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/hadi77ir/go-mongosh/command"
)

// TokenType represents the type of token
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenIdentifier
	TokenString
	TokenNumber
	TokenRegex
	TokenLeftParen
	TokenRightParen
	TokenLeftBrace
	TokenRightBrace
	TokenLeftBracket
	TokenRightBracket
	TokenComma
	TokenColon
	TokenDot
	TokenSemicolon
	TokenMinus
)

// String returns a human readable name of the token type
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "end of input"
	case TokenIdentifier:
		return "identifier"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenRegex:
		return "regular expression"
	case TokenLeftParen:
		return "'('"
	case TokenRightParen:
		return "')'"
	case TokenLeftBrace:
		return "'{'"
	case TokenRightBrace:
		return "'}'"
	case TokenLeftBracket:
		return "'['"
	case TokenRightBracket:
		return "']'"
	case TokenComma:
		return "','"
	case TokenColon:
		return "':'"
	case TokenDot:
		return "'.'"
	case TokenSemicolon:
		return "';'"
	case TokenMinus:
		return "'-'"
	default:
		return "token"
	}
}

// Token represents a lexical token
type Token struct {
	Type  TokenType
	Value string
	// Flags holds the options of a regex literal
	Flags string
	Pos   command.Position
}

// describe returns the token as it should appear in an error message
func (t Token) describe() string {
	switch t.Type {
	case TokenIdentifier, TokenNumber:
		return "'" + t.Value + "'"
	case TokenString:
		return "string " + strconv.Quote(t.Value)
	default:
		return t.Type.String()
	}
}

// regexFlags are the options accepted after a regex literal
const regexFlags = "imsxlu"

var punctuation = map[rune]TokenType{
	'(': TokenLeftParen,
	')': TokenRightParen,
	'{': TokenLeftBrace,
	'}': TokenRightBrace,
	'[': TokenLeftBracket,
	']': TokenRightBracket,
	',': TokenComma,
	':': TokenColon,
	';': TokenSemicolon,
}

// Lexer tokenizes shell command text
type Lexer struct {
	input string
	pos   int // byte offset of ch
	next  int // byte offset after ch
	ch    rune
	line  int
	col   int
	// prev is the type of the last significant token, used to tell a regex
	// literal from other uses of '/'
	prev TokenType
}

// NewLexer creates a new lexer for the given input
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1, prev: TokenEOF}
	l.readChar()
	return l
}

// readChar reads the next character
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	l.pos = l.next
	if l.next >= len(l.input) {
		l.ch = 0
		l.next = len(l.input) + 1
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.next:])
	l.ch = r
	l.next += size
	l.col++
}

// peekChar looks at the next character without advancing
func (l *Lexer) peekChar() rune {
	if l.next >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.next:])
	return r
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

func (l *Lexer) position() command.Position {
	offset := l.pos
	if offset > len(l.input) {
		offset = len(l.input)
	}
	return command.Position{Offset: offset, Line: l.line, Column: l.col}
}

// skipWhitespace skips over whitespace characters and comments
func (l *Lexer) skipWhitespace() error {
	for !l.atEOF() {
		switch {
		case isSpace(l.ch):
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			start := l.position()
			l.readChar()
			l.readChar()
			for !(l.ch == '*' && l.peekChar() == '/') {
				if l.atEOF() {
					return command.NewParseError(start, command.ErrUnterminated, "unterminated comment")
				}
				l.readChar()
			}
			l.readChar()
			l.readChar()
		default:
			return nil
		}
	}
	return nil
}

// NextToken returns the next token from the input
func (l *Lexer) NextToken() (Token, error) {
	tok, err := l.nextToken()
	if err != nil {
		return Token{}, err
	}
	l.prev = tok.Type
	return tok, nil
}

func (l *Lexer) nextToken() (Token, error) {
	if err := l.skipWhitespace(); err != nil {
		return Token{}, err
	}

	start := l.position()
	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: start}, nil
	}

	if typ, ok := punctuation[l.ch]; ok {
		tok := Token{Type: typ, Value: string(l.ch), Pos: start}
		l.readChar()
		return tok, nil
	}

	switch {
	case l.ch == '"' || l.ch == '\'':
		return l.readString()
	case l.ch == '/':
		if l.regexAllowed() {
			return l.readRegex()
		}
		return Token{}, command.NewParseError(start, command.ErrUnexpectedToken, "unexpected character '/'")
	case l.ch == '.':
		if isDigit(l.peekChar()) {
			return l.readNumber()
		}
		l.readChar()
		return Token{Type: TokenDot, Value: ".", Pos: start}, nil
	case l.ch == '-':
		if isDigit(l.peekChar()) || l.peekChar() == '.' {
			return l.readNumber()
		}
		l.readChar()
		return Token{Type: TokenMinus, Value: "-", Pos: start}, nil
	case l.ch == '+' && (isDigit(l.peekChar()) || l.peekChar() == '.'):
		l.readChar()
		return l.readNumber()
	case isDigit(l.ch):
		return l.readNumber()
	case isIdentStart(l.ch):
		return l.readIdentifier()
	}
	return Token{}, command.NewParseError(start, command.ErrUnexpectedToken, "unexpected character '%c'", l.ch)
}

func (l *Lexer) regexAllowed() bool {
	switch l.prev {
	case TokenEOF, TokenColon, TokenComma, TokenLeftBrace, TokenLeftBracket, TokenLeftParen:
		return true
	}
	return false
}

// readIdentifier reads an identifier
func (l *Lexer) readIdentifier() (Token, error) {
	start := l.position()
	var sb strings.Builder
	for isIdentPart(l.ch) && !l.atEOF() {
		sb.WriteRune(l.ch)
		l.readChar()
	}
	return Token{Type: TokenIdentifier, Value: sb.String(), Pos: start}, nil
}

// readNumber reads a number token: an optional sign, digits, an optional
// fraction and an optional exponent
func (l *Lexer) readNumber() (Token, error) {
	start := l.position()
	var sb strings.Builder

	if l.ch == '-' {
		sb.WriteRune(l.ch)
		l.readChar()
	}
	if !isDigit(l.ch) && !(l.ch == '.' && isDigit(l.peekChar())) {
		return Token{}, command.NewParseError(start, command.ErrUnexpectedToken, "expected number after '%s'", sign(sb.String()))
	}
	for isDigit(l.ch) {
		sb.WriteRune(l.ch)
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		sb.WriteRune(l.ch)
		l.readChar()
		for isDigit(l.ch) {
			sb.WriteRune(l.ch)
			l.readChar()
		}
	} else if l.ch == '.' && !isIdentStart(l.peekChar()) && sb.Len() > 0 {
		sb.WriteRune(l.ch)
		l.readChar()
	}
	if l.ch == 'e' || l.ch == 'E' {
		sb.WriteRune(l.ch)
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			sb.WriteRune(l.ch)
			l.readChar()
		}
		if !isDigit(l.ch) {
			return Token{}, command.NewParseError(start, command.ErrUnexpectedToken, "malformed number exponent")
		}
		for isDigit(l.ch) {
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}
	if isIdentStart(l.ch) {
		return Token{}, command.NewParseError(l.position(), command.ErrUnexpectedToken, "unexpected character '%c' after number", l.ch)
	}
	return Token{Type: TokenNumber, Value: sb.String(), Pos: start}, nil
}

func sign(s string) string {
	if s == "" {
		return "+"
	}
	return s
}

// readString reads a quoted string and resolves its escape sequences
func (l *Lexer) readString() (Token, error) {
	start := l.position()
	quote := l.ch
	l.readChar()

	var sb strings.Builder
	for l.ch != quote {
		if l.atEOF() || l.ch == '\n' {
			return Token{}, command.NewParseError(start, command.ErrUnterminated, "unterminated string")
		}
		if l.ch != '\\' {
			sb.WriteRune(l.ch)
			l.readChar()
			continue
		}
		escPos := l.position()
		l.readChar()
		switch l.ch {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b':
			sb.WriteByte('\b')
		case 'f':
			sb.WriteByte('\f')
		case 'v':
			sb.WriteByte('\v')
		case '0':
			sb.WriteByte(0)
		case 'x':
			r, err := l.readHexEscape(2, escPos)
			if err != nil {
				return Token{}, err
			}
			sb.WriteRune(r)
			continue
		case 'u':
			r, err := l.readHexEscape(4, escPos)
			if err != nil {
				return Token{}, err
			}
			if utf16.IsSurrogate(r) && l.ch == '\\' && l.peekChar() == 'u' {
				l.readChar()
				low, err := l.readHexEscape(4, escPos)
				if err != nil {
					return Token{}, err
				}
				r = utf16.DecodeRune(r, low)
			}
			sb.WriteRune(r)
			continue
		case '\n':
			// line continuation
		case 0:
			if l.atEOF() {
				return Token{}, command.NewParseError(start, command.ErrUnterminated, "unterminated string")
			}
			sb.WriteRune(l.ch)
		default:
			sb.WriteRune(l.ch)
		}
		l.readChar()
	}

	l.readChar() // consume closing quote
	return Token{Type: TokenString, Value: sb.String(), Pos: start}, nil
}

// readHexEscape reads n hex digits following \x or \u; the lexer is on the
// escape letter when called
func (l *Lexer) readHexEscape(n int, pos command.Position) (rune, error) {
	var digits strings.Builder
	for i := 0; i < n; i++ {
		l.readChar()
		if !isHexDigit(l.ch) {
			return 0, command.NewParseError(pos, command.ErrUnexpectedToken, "invalid escape sequence")
		}
		digits.WriteRune(l.ch)
	}
	l.readChar()
	code, err := strconv.ParseUint(digits.String(), 16, 32)
	if err != nil {
		return 0, command.NewParseError(pos, command.ErrUnexpectedToken, "invalid escape sequence")
	}
	return rune(code), nil
}

// readRegex reads a /pattern/flags literal. The pattern is kept verbatim,
// escapes included.
func (l *Lexer) readRegex() (Token, error) {
	start := l.position()
	l.readChar() // opening slash

	var sb strings.Builder
	inClass := false
	for {
		if l.atEOF() || l.ch == '\n' {
			return Token{}, command.NewParseError(start, command.ErrUnterminated, "unterminated regular expression")
		}
		if l.ch == '/' && !inClass {
			break
		}
		switch l.ch {
		case '\\':
			sb.WriteRune(l.ch)
			l.readChar()
			if l.atEOF() {
				return Token{}, command.NewParseError(start, command.ErrUnterminated, "unterminated regular expression")
			}
		case '[':
			inClass = true
		case ']':
			inClass = false
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}
	l.readChar() // closing slash

	var flags strings.Builder
	for isIdentPart(l.ch) && !l.atEOF() {
		if !strings.ContainsRune(regexFlags, l.ch) {
			return Token{}, command.NewParseError(l.position(), command.ErrUnexpectedToken, "invalid regular expression flag '%c'", l.ch)
		}
		flags.WriteRune(l.ch)
		l.readChar()
	}
	return Token{Type: TokenRegex, Value: sb.String(), Flags: flags.String(), Pos: start}, nil
}

// AllTokens returns all tokens from the input (useful for debugging)
func (l *Lexer) AllTokens() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			break
		}
	}
	return tokens, nil
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f', '\v', '\u00a0', '\ufeff':
		return true
	}
	return false
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isHexDigit(r rune) bool {
	return isDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || isDigit(r)
}
