package parser

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hadi77ir/go-mongosh/command"
)

// argument is one parsed call argument with its position
type argument struct {
	value command.Value
	pos   command.Position
}

// call is a method call in a command chain: name(args...)
type call struct {
	name string
	pos  command.Position
	args []argument
}

// chain is the shape of a command before it is bound to a verb:
// db[.getSiblingDB(x)][.collection|.getCollection(x)].method(args)[.modifier(args)]*
type chain struct {
	root       Token
	database   string
	collection string
	method     call
	modifiers  []call
}

// Parser parses shell command text into Commands
type Parser struct {
	lexer   *Lexer
	curTok  Token
	peekTok Token

	// open holds the unclosed delimiters, innermost last
	open []Token

	// volatile is set when parsing generated a value (ObjectId(), new Date())
	volatile bool

	now func() time.Time
}

// NewParser creates a new parser for the given input
func NewParser(input string) (*Parser, error) {
	p := &Parser{lexer: NewLexer(input), now: time.Now}

	// Read two tokens to initialize curTok and peekTok
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	if err := p.nextToken(); err != nil {
		return nil, err
	}

	return p, nil
}

// Parse is a shortcut for NewParser(input) followed by Parse
func Parse(input string) (command.Command, error) {
	p, err := NewParser(input)
	if err != nil {
		return nil, err
	}
	return p.Parse()
}

// nextToken advances the parser to the next token
func (p *Parser) nextToken() error {
	p.curTok = p.peekTok
	tok, err := p.lexer.NextToken()
	if err != nil {
		return err
	}
	p.peekTok = tok
	return nil
}

// Volatile reports whether the last Parse generated values such as new
// object ids or the current time. Such commands must not be memoized.
func (p *Parser) Volatile() bool {
	return p.volatile
}

// Parse parses the input and returns a Command
func (p *Parser) Parse() (command.Command, error) {
	ch, err := p.parseChain()
	if err != nil {
		return nil, err
	}
	return p.build(ch)
}

// parseChain parses the whole input as a command chain
func (p *Parser) parseChain() (*chain, error) {
	if p.curTok.Type == TokenEOF {
		return nil, command.NewParseError(p.curTok.Pos, command.ErrUnexpectedToken, "empty command")
	}
	if p.curTok.Type != TokenIdentifier || (p.curTok.Value != "db" && p.curTok.Value != "rs") {
		return nil, command.NewParseError(p.curTok.Pos, command.ErrUnexpectedToken,
			"expected 'db' or 'rs' but found %s", p.curTok.describe())
	}

	ch := &chain{root: p.curTok}
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	if err := p.expect(TokenDot); err != nil {
		return nil, err
	}

	if ch.root.Value == "rs" {
		c, err := p.parseCall()
		if err != nil {
			return nil, err
		}
		ch.method = c
	} else if err := p.parseDatabaseChain(ch); err != nil {
		return nil, err
	}

	for p.curTok.Type == TokenDot {
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		c, err := p.parseCall()
		if err != nil {
			return nil, err
		}
		ch.modifiers = append(ch.modifiers, c)
	}

	if p.curTok.Type == TokenSemicolon {
		if err := p.nextToken(); err != nil {
			return nil, err
		}
	}
	if p.curTok.Type != TokenEOF {
		return nil, command.NewParseError(p.curTok.Pos, command.ErrUnexpectedToken,
			"unexpected %s after end of command", p.curTok.describe())
	}
	return ch, nil
}

// parseDatabaseChain parses everything between "db." and the method call
func (p *Parser) parseDatabaseChain(ch *chain) error {
	var segments []string
	fromGetCollection := false
	for {
		if p.curTok.Type != TokenIdentifier {
			if p.curTok.Type == TokenEOF {
				return p.eofError()
			}
			return command.NewParseError(p.curTok.Pos, command.ErrUnexpectedToken,
				"expected a collection or method name but found %s", p.curTok.describe())
		}

		if p.peekTok.Type == TokenLeftParen {
			c, err := p.parseCall()
			if err != nil {
				return err
			}
			switch {
			case c.name == "getSiblingDB" && len(segments) == 0 && !fromGetCollection && ch.database == "":
				name, err := selectorArg(c)
				if err != nil {
					return err
				}
				ch.database = name
			case c.name == "getCollection" && len(segments) == 0 && !fromGetCollection:
				name, err := selectorArg(c)
				if err != nil {
					return err
				}
				segments = append(segments, name)
				fromGetCollection = true
			default:
				ch.method = c
				ch.collection = strings.Join(segments, ".")
				return nil
			}
		} else {
			segments = append(segments, p.curTok.Value)
			if p.peekTok.Type == TokenEOF {
				return command.NewParseError(p.peekTok.Pos, command.ErrUnexpectedToken, "expected '(' after %q", p.curTok.Value)
			}
			if p.peekTok.Type != TokenDot {
				return command.NewParseError(p.peekTok.Pos, command.ErrUnexpectedToken,
					"expected '(' or '.' after %q but found %s", p.curTok.Value, p.peekTok.describe())
			}
			if err := p.nextToken(); err != nil {
				return err
			}
		}
		if err := p.expect(TokenDot); err != nil {
			return err
		}
	}
}

// selectorArg validates the single string argument of getSiblingDB/getCollection
func selectorArg(c call) (string, error) {
	if len(c.args) != 1 {
		return "", command.NewValidationError(c.pos, c.name, "expected exactly one name argument")
	}
	name, ok := c.args[0].value.AsString()
	if !ok || name == "" {
		return "", command.NewValidationError(c.args[0].pos, c.name, "name must be a non-empty string")
	}
	return name, nil
}

// expect consumes a token of the given type
func (p *Parser) expect(typ TokenType) error {
	if p.curTok.Type != typ {
		if p.curTok.Type == TokenEOF {
			return p.eofError()
		}
		return command.NewParseError(p.curTok.Pos, command.ErrUnexpectedToken,
			"expected %s but found %s", typ, p.curTok.describe())
	}
	return p.nextToken()
}

// eofError reports an unexpected end of input, pointing at the innermost
// unclosed delimiter when there is one
func (p *Parser) eofError() error {
	if n := len(p.open); n > 0 {
		opener := p.open[n-1]
		return command.NewParseError(opener.Pos, command.ErrUnbalanced, "unclosed %s", opener.Type)
	}
	return command.NewParseError(p.curTok.Pos, command.ErrUnexpectedToken, "unexpected end of input")
}

// unexpected reports the current token as out of place
func (p *Parser) unexpected(expected string) error {
	switch p.curTok.Type {
	case TokenEOF:
		return p.eofError()
	case TokenRightParen, TokenRightBrace, TokenRightBracket:
		return command.NewParseError(p.curTok.Pos, command.ErrUnbalanced,
			"unexpected %s, expected %s", p.curTok.describe(), expected)
	}
	return command.NewParseError(p.curTok.Pos, command.ErrUnexpectedToken,
		"unexpected %s, expected %s", p.curTok.describe(), expected)
}

// parseCall parses name(args...)
func (p *Parser) parseCall() (call, error) {
	if p.curTok.Type != TokenIdentifier {
		return call{}, p.unexpected("a method name")
	}
	c := call{name: p.curTok.Value, pos: p.curTok.Pos}
	if err := p.nextToken(); err != nil {
		return call{}, err
	}
	if p.curTok.Type != TokenLeftParen {
		if p.curTok.Type == TokenEOF {
			return call{}, command.NewParseError(p.curTok.Pos, command.ErrUnexpectedToken, "expected '(' after %q", c.name)
		}
		return call{}, command.NewParseError(p.curTok.Pos, command.ErrUnexpectedToken,
			"expected '(' after %q but found %s", c.name, p.curTok.describe())
	}
	args, err := p.parseArguments()
	if err != nil {
		return call{}, err
	}
	c.args = args
	return c, nil
}

// parseArguments parses a parenthesized, comma separated value list
func (p *Parser) parseArguments() ([]argument, error) {
	p.open = append(p.open, p.curTok)
	if err := p.nextToken(); err != nil {
		return nil, err
	}

	var args []argument
	for p.curTok.Type != TokenRightParen {
		pos := p.curTok.Pos
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		args = append(args, argument{value: v, pos: pos})

		if p.curTok.Type == TokenComma {
			if err := p.nextToken(); err != nil {
				return nil, err
			}
			continue
		}
		if p.curTok.Type != TokenRightParen {
			return nil, p.unexpected("',' or ')'")
		}
	}

	p.open = p.open[:len(p.open)-1]
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	return args, nil
}

// parseValue parses one literal value
func (p *Parser) parseValue() (command.Value, error) {
	tok := p.curTok
	switch tok.Type {
	case TokenString:
		if err := p.nextToken(); err != nil {
			return command.Value{}, err
		}
		return command.String(tok.Value), nil
	case TokenNumber:
		if err := p.nextToken(); err != nil {
			return command.Value{}, err
		}
		return parseNumber(tok, tok.Value)
	case TokenMinus:
		if err := p.nextToken(); err != nil {
			return command.Value{}, err
		}
		switch {
		case p.curTok.Type == TokenNumber && !strings.HasPrefix(p.curTok.Value, "-"):
			num := p.curTok
			if err := p.nextToken(); err != nil {
				return command.Value{}, err
			}
			return parseNumber(num, "-"+num.Value)
		case p.curTok.Type == TokenIdentifier && p.curTok.Value == "Infinity":
			if err := p.nextToken(); err != nil {
				return command.Value{}, err
			}
			return command.Double(math.Inf(-1)), nil
		}
		return command.Value{}, p.unexpected("a number after '-'")
	case TokenRegex:
		if err := p.nextToken(); err != nil {
			return command.Value{}, err
		}
		return command.Regex(tok.Value, tok.Flags), nil
	case TokenLeftBrace:
		doc, err := p.parseDocument()
		if err != nil {
			return command.Value{}, err
		}
		return command.Doc(doc), nil
	case TokenLeftBracket:
		return p.parseArray()
	case TokenIdentifier:
		return p.parseIdentifierValue()
	}
	return command.Value{}, p.unexpected("a value")
}

// parseNumber converts a number token, keeping integers and floats apart
func parseNumber(tok Token, text string) (command.Value, error) {
	if strings.ContainsAny(text, ".eE") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return command.Value{}, command.NewParseError(tok.Pos, command.ErrInvalidArgument, "invalid number %s", text)
		}
		return command.Double(f), nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return command.Value{}, command.NewParseError(tok.Pos, command.ErrInvalidArgument, "integer %s out of range", text)
	}
	return command.Int(n), nil
}

// parseIdentifierValue parses keywords, constants and constructor calls
func (p *Parser) parseIdentifierValue() (command.Value, error) {
	tok := p.curTok
	isCall := p.peekTok.Type == TokenLeftParen

	if !isCall {
		var v command.Value
		switch tok.Value {
		case "true":
			v = command.Bool(true)
		case "false":
			v = command.Bool(false)
		case "null", "undefined":
			v = command.Null()
		case "Infinity":
			v = command.Double(math.Inf(1))
		case "NaN":
			v = command.Double(math.NaN())
		case "new":
			if err := p.nextToken(); err != nil {
				return command.Value{}, err
			}
			if p.curTok.Type != TokenIdentifier || p.peekTok.Type != TokenLeftParen {
				return command.Value{}, p.unexpected("a constructor call after 'new'")
			}
			return p.parseIdentifierValue()
		default:
			return command.Value{}, command.NewParseError(tok.Pos, command.ErrUnexpectedToken, "unknown identifier %q", tok.Value)
		}
		if err := p.nextToken(); err != nil {
			return command.Value{}, err
		}
		return v, nil
	}

	build, ok := constructors[tok.Value]
	if !ok {
		return command.Value{}, command.NewParseError(tok.Pos, command.ErrUnknownVerb, "unknown constructor %q", tok.Value)
	}
	c, err := p.parseCall()
	if err != nil {
		return command.Value{}, err
	}
	return build(p, c)
}

// parseDocument parses {key: value, ...}
func (p *Parser) parseDocument() (*command.Document, error) {
	p.open = append(p.open, p.curTok)
	if err := p.nextToken(); err != nil {
		return nil, err
	}

	var elems []command.Element
	seen := make(map[string]struct{})
	for p.curTok.Type != TokenRightBrace {
		keyTok := p.curTok
		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		if p.curTok.Type != TokenColon {
			return nil, p.unexpected("':' after key " + strconv.Quote(key))
		}
		if err := p.nextToken(); err != nil {
			return nil, err
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[key]; dup {
			return nil, command.NewParseError(keyTok.Pos, command.ErrInvalidArgument, "duplicate key %q", key)
		}
		seen[key] = struct{}{}
		elems = append(elems, command.E(key, v))

		if p.curTok.Type == TokenComma {
			if err := p.nextToken(); err != nil {
				return nil, err
			}
			continue
		}
		if p.curTok.Type != TokenRightBrace {
			return nil, p.unexpected("',' or '}'")
		}
	}

	p.open = p.open[:len(p.open)-1]
	if err := p.nextToken(); err != nil {
		return nil, err
	}
	return command.NewDocument(elems...)
}

// parseKey parses a document key: a string, a number or a dotted identifier path
func (p *Parser) parseKey() (string, error) {
	tok := p.curTok
	switch tok.Type {
	case TokenString, TokenNumber:
		if err := p.nextToken(); err != nil {
			return "", err
		}
		return tok.Value, nil
	case TokenIdentifier:
		parts := []string{tok.Value}
		if err := p.nextToken(); err != nil {
			return "", err
		}
		for p.curTok.Type == TokenDot && p.peekTok.Type == TokenIdentifier {
			if err := p.nextToken(); err != nil {
				return "", err
			}
			parts = append(parts, p.curTok.Value)
			if err := p.nextToken(); err != nil {
				return "", err
			}
		}
		return strings.Join(parts, "."), nil
	}
	return "", p.unexpected("a field name")
}

// parseArray parses [value, ...]
func (p *Parser) parseArray() (command.Value, error) {
	p.open = append(p.open, p.curTok)
	if err := p.nextToken(); err != nil {
		return command.Value{}, err
	}

	var items []command.Value
	for p.curTok.Type != TokenRightBracket {
		v, err := p.parseValue()
		if err != nil {
			return command.Value{}, err
		}
		items = append(items, v)

		if p.curTok.Type == TokenComma {
			if err := p.nextToken(); err != nil {
				return command.Value{}, err
			}
			continue
		}
		if p.curTok.Type != TokenRightBracket {
			return command.Value{}, p.unexpected("',' or ']'")
		}
	}

	p.open = p.open[:len(p.open)-1]
	if err := p.nextToken(); err != nil {
		return command.Value{}, err
	}
	return command.Array(items...), nil
}
