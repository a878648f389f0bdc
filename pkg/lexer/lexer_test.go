package lexer

import "testing"

func collectTypes(src string) []TokenType {
	l := New(src)
	var types []TokenType
	for {
		tok := l.Next()
		types = append(types, tok.Type)
		if tok.Type == TokenEOF {
			break
		}
	}
	return types
}

func TestNextBasicTokens(t *testing.T) {
	input := `( ) { } [ ] , . .. ... : ; ? ->`
	expected := []TokenType{
		TokenLeftParen, TokenRightParen, TokenLeftBrace, TokenRightBrace,
		TokenLeftBracket, TokenRightBracket, TokenComma, TokenDot, TokenDotDot,
		TokenDotDotDot, TokenColon, TokenSemicolon, TokenQuestion, TokenArrow,
		TokenEOF,
	}

	got := collectTypes(input)
	if len(got) != len(expected) {
		t.Fatalf("expected %d tokens, got %d: %v", len(expected), len(got), got)
	}
	for i, want := range expected {
		if got[i] != want {
			t.Errorf("token %d: expected %v, got %v", i, want, got[i])
		}
	}
}

func TestKeywords(t *testing.T) {
	input := "class for foreach function if else while try catch finally throw return var break continue instanceof is typeof in super this true false null"
	expected := []TokenType{
		TokenClass, TokenFor, TokenForeach, TokenFunction, TokenIf, TokenElse,
		TokenWhile, TokenTry, TokenCatch, TokenFinally, TokenThrow, TokenReturn,
		TokenVar, TokenBreak, TokenContinue, TokenInstanceof, TokenIs, TokenTypeof,
		TokenIn, TokenSuper, TokenThis, TokenTrue, TokenFalse, TokenNull, TokenEOF,
	}
	got := collectTypes(input)
	if len(got) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(got))
	}
	for i, want := range expected {
		if got[i] != want {
			t.Errorf("token %d: expected %v, got %v", i, want, got[i])
		}
	}
}

func TestBarDisambiguationIsLexicalOnly(t *testing.T) {
	// The scanner always emits a bare TokenBar for `|`; the parser, not
	// the scanner, decides whether it's bitwise-or or a lambda delimiter.
	got := collectTypes("a | b")
	want := []TokenType{TokenIdentifier, TokenBar, TokenIdentifier, TokenEOF}
	if len(got) != len(want) {
		t.Fatalf("expected %d tokens, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: expected %v got %v", i, want[i], got[i])
		}
	}
}

func TestStringEitherQuoteTerminates(t *testing.T) {
	l := New(`"it's fine" 'or "this"'`)
	tok := l.Next()
	if tok.Type != TokenString || tok.Lexeme != `"it's fine"` {
		t.Fatalf("unexpected first string token: %+v", tok)
	}
	tok = l.Next()
	if tok.Type != TokenString || tok.Lexeme != `'or "this"'` {
		t.Fatalf("unexpected second string token: %+v", tok)
	}
}

func TestStringLiteralNewlineIncrementsLine(t *testing.T) {
	l := New("\"a\nb\" true")
	str := l.Next()
	if str.Type != TokenString {
		t.Fatalf("expected string token, got %v", str.Type)
	}
	next := l.Next()
	if next.Line != 2 {
		t.Errorf("expected line 2 after embedded newline, got %d", next.Line)
	}
}

func TestUnescapeString(t *testing.T) {
	cases := map[string]string{
		`\n`:   "\n",
		`\t`:   "\t",
		`\\`:   `\`,
		`\"`:   `"`,
		`a\nb`: "a\nb",
	}
	for in, want := range cases {
		if got := UnescapeString(in); got != want {
			t.Errorf("UnescapeString(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBlockCommentCountsNewlines(t *testing.T) {
	l := New("/* line1\nline2\nline3 */ true")
	tok := l.Next()
	if tok.Type != TokenTrue {
		t.Fatalf("expected true token, got %v", tok.Type)
	}
	if tok.Line != 3 {
		t.Errorf("expected line 3, got %d", tok.Line)
	}
}

func TestNumberLiterals(t *testing.T) {
	for _, src := range []string{"42", "3.14", "1e10", "1.5e-3"} {
		l := New(src)
		tok := l.Next()
		if tok.Type != TokenNumber {
			t.Errorf("%q: expected number token, got %v", src, tok.Type)
		}
		if tok.Lexeme != src {
			t.Errorf("%q: expected lexeme %q, got %q", src, src, tok.Lexeme)
		}
	}
}

func TestLineAndBlockComments(t *testing.T) {
	got := collectTypes("// comment\ntrue /* block */ false")
	want := []TokenType{TokenTrue, TokenFalse, TokenEOF}
	if len(got) != len(want) {
		t.Fatalf("expected %d tokens, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: want %v got %v", i, want[i], got[i])
		}
	}
}
