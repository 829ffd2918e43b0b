package box

import (
	"errors"
	"iter"
	"os"
	"strconv"
	"strings"

	plexer "github.com/alecthomas/participle/v2/lexer"
)

type TokenKind int

const (
	EOF TokenKind = iota
	COMMENT
	IDENT
	INT
	STRING
	OPERATOR
	LPAREN
	RPAREN
	COMMA
	DOT
	SEMICOLON
	BOX_OPEN
	BLOCK_OPEN
	ELSE
	END
	LET
	EXPORT
)

func (tk TokenKind) String() string {
	switch tk {
	case EOF:
		return "EOF"
	case COMMENT:
		return "COMMENT"
	case IDENT:
		return "IDENT"
	case INT:
		return "INT"
	case STRING:
		return "STRING"
	case OPERATOR:
		return "OPERATOR"
	case LPAREN:
		return "LPAREN"
	case RPAREN:
		return "RPAREN"
	case COMMA:
		return "COMMA"
	case DOT:
		return "DOT"
	case SEMICOLON:
		return "SEMICOLON"
	case BOX_OPEN:
		return "BOX_OPEN"
	case BLOCK_OPEN:
		return "BLOCK_OPEN"
	case ELSE:
		return "ELSE"
	case END:
		return "END"
	case LET:
		return "LET"
	case EXPORT:
		return "EXPORT"
	default:
		return "UNKNOWN"
	}
}

// Token is immutable once produced. For STRING tokens Value holds the
// decoded text, for every other kind the raw source text.
type Token struct {
	Kind  TokenKind
	Value string
	Span  Span
}

var keywords = map[string]TokenKind{
	"box":    BOX_OPEN,
	"do":     BLOCK_OPEN,
	"loop":   BLOCK_OPEN,
	"if":     BLOCK_OPEN,
	"else":   ELSE,
	"end":    END,
	"let":    LET,
	"export": EXPORT,
}

// Rule order matters: the first matching rule wins, so the unterminated
// string rule must follow the complete one and Invalid must come last.
var lexDefinition = plexer.MustSimple([]plexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "String", Pattern: `"(\\.|[^"\\\n])*"`},
	{Name: "Unterminated", Pattern: `"(\\.|[^"\\\n])*`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Operator", Pattern: `\*\*|<<|>>|==|!=|<=|>=|[-+*/%<>=!&|^]`},
	{Name: "Punct", Pattern: `[(),.;]`},
	{Name: "Invalid", Pattern: `.`},
})

var lexSymbols = lexDefinition.Symbols()

type Lexer struct {
	input    string
	filename string
	stream   plexer.Lexer
	err      error
	done     bool
	eof      Token
}

func NewLexer(input, filename string) *Lexer {
	l := &Lexer{
		input:    input,
		filename: filename,
	}
	stream, err := lexDefinition.LexString(filename, input)
	if err != nil {
		l.err = newError(LexError, Span{}, "%v", err)
		return l
	}
	l.stream = stream
	return l
}

func NewLexerFromFile(filename string) (*Lexer, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return NewLexer(string(content), filename), nil
}

// Filename is the name the lexer stamps on every span.
func (l *Lexer) Filename() string {
	return l.filename
}

// Source returns the text being lexed.
func (l *Lexer) Source() string {
	return l.input
}

// NextToken produces the next token on demand. Once EOF has been returned it
// is returned again on every call; once an error has been returned it sticks.
func (l *Lexer) NextToken() (Token, error) {
	if l.err != nil {
		return Token{}, l.err
	}
	if l.done {
		return l.eof, nil
	}

	for {
		raw, err := l.stream.Next()
		if err != nil {
			l.err = l.wrapError(err)
			return Token{}, l.err
		}

		span := l.span(raw)
		if raw.EOF() {
			l.done = true
			l.eof = Token{Kind: EOF, Span: span}
			return l.eof, nil
		}

		switch raw.Type {
		case lexSymbols["Whitespace"]:
			continue
		case lexSymbols["Comment"]:
			return Token{Kind: COMMENT, Value: strings.TrimPrefix(raw.Value, "#"), Span: span}, nil
		case lexSymbols["String"]:
			text, err := unquote(raw.Value, span)
			if err != nil {
				l.err = err
				return Token{}, err
			}
			return Token{Kind: STRING, Value: text, Span: span}, nil
		case lexSymbols["Unterminated"]:
			l.err = newError(LexError, span, "unterminated string literal")
			return Token{}, l.err
		case lexSymbols["Int"]:
			if _, err := strconv.ParseInt(raw.Value, 10, 64); err != nil {
				l.err = newError(LexError, span, "integer literal %s out of range", raw.Value)
				return Token{}, l.err
			}
			return Token{Kind: INT, Value: raw.Value, Span: span}, nil
		case lexSymbols["Ident"]:
			if kind, ok := keywords[raw.Value]; ok {
				return Token{Kind: kind, Value: raw.Value, Span: span}, nil
			}
			return Token{Kind: IDENT, Value: raw.Value, Span: span}, nil
		case lexSymbols["Operator"]:
			return Token{Kind: OPERATOR, Value: raw.Value, Span: span}, nil
		case lexSymbols["Punct"]:
			return Token{Kind: punctKind(raw.Value), Value: raw.Value, Span: span}, nil
		default:
			l.err = newError(LexError, span, "invalid character %q", raw.Value)
			return Token{}, l.err
		}
	}
}

// Tokens yields the remaining tokens up to and including EOF, or stops after
// the first error.
func (l *Lexer) Tokens() iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		for {
			token, err := l.NextToken()
			if !yield(token, err) || err != nil || token.Kind == EOF {
				return
			}
		}
	}
}

func (l *Lexer) span(raw plexer.Token) Span {
	start := Location{
		Filename: l.filename,
		Offset:   raw.Pos.Offset,
		Line:     raw.Pos.Line,
		Column:   raw.Pos.Column,
	}
	end := start
	end.Offset += len(raw.Value)
	end.Column += len(raw.Value)
	return Span{Start: start, End: end}
}

func (l *Lexer) wrapError(err error) error {
	var perr *plexer.Error
	if errors.As(err, &perr) {
		loc := Location{
			Filename: l.filename,
			Offset:   perr.Pos.Offset,
			Line:     perr.Pos.Line,
			Column:   perr.Pos.Column,
		}
		return newError(LexError, Span{Start: loc, End: loc}, "%s", perr.Msg)
	}
	return newError(LexError, Span{}, "%v", err)
}

func punctKind(p string) TokenKind {
	switch p {
	case "(":
		return LPAREN
	case ")":
		return RPAREN
	case ",":
		return COMMA
	case ".":
		return DOT
	default:
		return SEMICOLON
	}
}

func unquote(raw string, span Span) (string, error) {
	body := raw[1 : len(raw)-1]
	var result strings.Builder

	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			result.WriteByte(c)
			continue
		}
		i++
		switch body[i] {
		case 'n':
			result.WriteByte('\n')
		case 't':
			result.WriteByte('\t')
		case 'r':
			result.WriteByte('\r')
		case '\\':
			result.WriteByte('\\')
		case '"':
			result.WriteByte('"')
		default:
			return "", newError(LexError, span, "invalid escape sequence \\%c", body[i])
		}
	}

	return result.String(), nil
}
