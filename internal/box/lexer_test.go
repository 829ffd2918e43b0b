package box

import (
	"errors"
	"testing"
)

func lexAll(t *testing.T, input string) ([]Token, error) {
	t.Helper()
	var tokens []Token
	for token, err := range NewLexer(input, "test.box").Tokens() {
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

func kinds(tokens []Token) []TokenKind {
	out := make([]TokenKind, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Kind
	}
	return out
}

func TestLexerBasicTokens(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []TokenKind
	}{
		{
			name:     "empty input",
			input:    "",
			expected: []TokenKind{EOF},
		},
		{
			name:  "box with block",
			input: "box main do x = 1 end end",
			expected: []TokenKind{
				BOX_OPEN, IDENT, BLOCK_OPEN, IDENT, OPERATOR, INT, END, END, EOF,
			},
		},
		{
			name:  "block keywords",
			input: "do loop if else",
			expected: []TokenKind{
				BLOCK_OPEN, BLOCK_OPEN, BLOCK_OPEN, ELSE, EOF,
			},
		},
		{
			name:  "export header",
			input: "box a export x, y do",
			expected: []TokenKind{
				BOX_OPEN, IDENT, EXPORT, IDENT, COMMA, IDENT, BLOCK_OPEN, EOF,
			},
		},
		{
			name:  "qualified name and call",
			input: "print(other.total);",
			expected: []TokenKind{
				IDENT, LPAREN, IDENT, DOT, IDENT, RPAREN, SEMICOLON, EOF,
			},
		},
		{
			name:     "let binding",
			input:    "let n = -3",
			expected: []TokenKind{LET, IDENT, OPERATOR, OPERATOR, INT, EOF},
		},
		{
			name:     "comment kept as token",
			input:    "# note\nx",
			expected: []TokenKind{COMMENT, IDENT, EOF},
		},
		{
			name:     "string literal",
			input:    `print("hi")`,
			expected: []TokenKind{IDENT, LPAREN, STRING, RPAREN, EOF},
		},
		{
			name:     "keyword prefix is an identifier",
			input:    "boxes done ending",
			expected: []TokenKind{IDENT, IDENT, IDENT, EOF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := lexAll(t, tt.input)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			got := kinds(tokens)
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %d tokens %v, got %d tokens %v", len(tt.expected), tt.expected, len(got), got)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Token %d: expected %s, got %s", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestLexerOperators(t *testing.T) {
	tokens, err := lexAll(t, "a ** b << c >> d == e != f <= g >= h < i > j & k | l ^ m % n / o * p + q - r ! s = t")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	expected := []string{"**", "<<", ">>", "==", "!=", "<=", ">=", "<", ">", "&", "|", "^", "%", "/", "*", "+", "-", "!", "="}
	var got []string
	for _, tok := range tokens {
		if tok.Kind == OPERATOR {
			got = append(got, tok.Value)
		}
	}
	if len(got) != len(expected) {
		t.Fatalf("Expected %d operators, got %d: %v", len(expected), len(got), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Operator %d: expected %q, got %q", i, expected[i], got[i])
		}
	}
}

func TestLexerValues(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		kind     TokenKind
		expected string
	}{
		{"integer", "12345", INT, "12345"},
		{"max int64", "9223372036854775807", INT, "9223372036854775807"},
		{"identifier", "_count2", IDENT, "_count2"},
		{"escapes decoded", `"a\tb\n\"c\"\\"`, STRING, "a\tb\n\"c\"\\"},
		{"comment text", "# hello", COMMENT, " hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := lexAll(t, tt.input)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tokens[0].Kind != tt.kind {
				t.Fatalf("Expected %s, got %s", tt.kind, tokens[0].Kind)
			}
			if tokens[0].Value != tt.expected {
				t.Errorf("Expected value %q, got %q", tt.expected, tokens[0].Value)
			}
		})
	}
}

func TestLexerSpans(t *testing.T) {
	tokens, err := lexAll(t, "box m\n  x = 10")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	num := tokens[4]
	if num.Kind != INT {
		t.Fatalf("Expected INT, got %s", num.Kind)
	}
	if num.Span.Start.Line != 2 || num.Span.Start.Column != 7 {
		t.Errorf("Expected start 2:7, got %d:%d", num.Span.Start.Line, num.Span.Start.Column)
	}
	if num.Span.Start.Offset != 12 || num.Span.End.Offset != 14 {
		t.Errorf("Expected offsets 12..14, got %d..%d", num.Span.Start.Offset, num.Span.End.Offset)
	}
	if num.Span.Start.Filename != "test.box" {
		t.Errorf("Expected filename test.box, got %q", num.Span.Start.Filename)
	}
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
		col   int
	}{
		{"invalid character", "x = @", 1, 5},
		{"unterminated string", "print(\"abc", 1, 7},
		{"string across lines", "\"abc\ndef\"", 1, 1},
		{"bad escape", `"\q"`, 1, 1},
		{"integer out of range", "x = 9223372036854775808", 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lexAll(t, tt.input)
			if err == nil {
				t.Fatal("Expected an error, got none")
			}
			if !errors.Is(err, ErrLex) {
				t.Fatalf("Expected a LexError, got %v", err)
			}
			var boxErr *BoxError
			if !errors.As(err, &boxErr) {
				t.Fatalf("Expected *BoxError, got %T", err)
			}
			if boxErr.Span.Start.Line != tt.line || boxErr.Span.Start.Column != tt.col {
				t.Errorf("Expected error at %d:%d, got %d:%d", tt.line, tt.col,
					boxErr.Span.Start.Line, boxErr.Span.Start.Column)
			}
		})
	}
}

func TestLexerIsLazyAndSticky(t *testing.T) {
	lexer := NewLexer("x @ y", "test.box")

	first, err := lexer.NextToken()
	if err != nil {
		t.Fatalf("Expected the token before the error, got %v", err)
	}
	if first.Kind != IDENT || first.Value != "x" {
		t.Errorf("Expected IDENT x, got %s %q", first.Kind, first.Value)
	}

	_, err1 := lexer.NextToken()
	_, err2 := lexer.NextToken()
	if err1 == nil || err2 == nil {
		t.Fatal("Expected the error to repeat")
	}
	if err1 != err2 {
		t.Errorf("Expected the same error twice, got %v and %v", err1, err2)
	}

	done := NewLexer("x", "test.box")
	done.NextToken()
	for i := 0; i < 3; i++ {
		tok, err := done.NextToken()
		if err != nil || tok.Kind != EOF {
			t.Errorf("Call %d after EOF: expected EOF, got %s (%v)", i, tok.Kind, err)
		}
	}
}
