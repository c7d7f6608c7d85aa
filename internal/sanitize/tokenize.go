package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type TokenKind int

const (
	TokenWord TokenKind = iota
	TokenQuotedIdent
	TokenString
	TokenNumber
	TokenSymbol
	TokenLineComment
	TokenBlockComment
	TokenWhitespace
)

func (k TokenKind) String() string {
	switch k {
	case TokenWord:
		return "word"
	case TokenQuotedIdent:
		return "quoted_ident"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenSymbol:
		return "symbol"
	case TokenLineComment:
		return "line_comment"
	case TokenBlockComment:
		return "block_comment"
	case TokenWhitespace:
		return "whitespace"
	default:
		return "unknown"
	}
}

type Token struct {
	Kind TokenKind
	Text string
	Pos  int
	// Unterminated marks a string, quoted identifier or block comment that
	// runs to the end of the input.
	Unterminated bool
}

func (t Token) IsTrivia() bool {
	return t.Kind == TokenWhitespace || t.Kind == TokenLineComment || t.Kind == TokenBlockComment
}

func (t Token) IsComment() bool {
	return t.Kind == TokenLineComment || t.Kind == TokenBlockComment
}

func (t Token) IsSymbol(text string) bool {
	return t.Kind == TokenSymbol && t.Text == text
}

// IsKeyword compares a bare word case-insensitively.
func (t Token) IsKeyword(word string) bool {
	return t.Kind == TokenWord && strings.EqualFold(t.Text, word)
}

// Ident returns the identifier text with quoting removed.
func (t Token) Ident() string {
	if t.Kind != TokenQuotedIdent || len(t.Text) < 2 {
		return t.Text
	}
	open := t.Text[0]
	closing := open
	body := t.Text[1:]
	if !t.Unterminated {
		body = body[:len(body)-1]
	}
	return strings.ReplaceAll(body, string([]byte{closing, closing}), string(closing))
}

var multiCharSymbols = []string{"->>", "<=", ">=", "<>", "!=", "==", "::", "||", "->", "=>", "<<", ">>", "**", "//"}

// Tokenize splits SQL text into tokens. It never fails: anything it does not
// recognise becomes a one-character symbol.
func Tokenize(sql string) []Token {
	tokens := make([]Token, 0, len(sql)/3+1)
	i := 0
	for i < len(sql) {
		start := i
		c := sql[i]
		switch {
		case isSpace(c):
			for i < len(sql) && isSpace(sql[i]) {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenWhitespace, Text: sql[start:i], Pos: start})
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			tokens = append(tokens, Token{Kind: TokenLineComment, Text: sql[start:i], Pos: start})
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				tokens = append(tokens, Token{Kind: TokenBlockComment, Text: sql[start:], Pos: start, Unterminated: true})
				i = len(sql)
				continue
			}
			i += 2 + end + 2
			tokens = append(tokens, Token{Kind: TokenBlockComment, Text: sql[start:i], Pos: start})
		case c == '\'':
			end, ok := scanQuoted(sql, i, '\'', false)
			i = end
			tokens = append(tokens, Token{Kind: TokenString, Text: sql[start:i], Pos: start, Unterminated: !ok})
		case isStringPrefix(c) && i+1 < len(sql) && sql[i+1] == '\'':
			end, ok := scanQuoted(sql, i+1, '\'', c == 'e' || c == 'E')
			i = end
			tokens = append(tokens, Token{Kind: TokenString, Text: sql[start:i], Pos: start, Unterminated: !ok})
		case c == '"' || c == '`':
			end, ok := scanQuoted(sql, i, c, false)
			i = end
			tokens = append(tokens, Token{Kind: TokenQuotedIdent, Text: sql[start:i], Pos: start, Unterminated: !ok})
		case c == '$':
			kind, end, ok := scanDollar(sql, i)
			i = end
			tokens = append(tokens, Token{Kind: kind, Text: sql[start:i], Pos: start, Unterminated: !ok})
		case isDigit(c) || (c == '.' && i+1 < len(sql) && isDigit(sql[i+1])):
			i = scanNumber(sql, i)
			tokens = append(tokens, Token{Kind: TokenNumber, Text: sql[start:i], Pos: start})
		case isWordStart(sql, i):
			for i < len(sql) && isWordPart(sql, i) {
				_, size := utf8.DecodeRuneInString(sql[i:])
				i += size
			}
			tokens = append(tokens, Token{Kind: TokenWord, Text: sql[start:i], Pos: start})
		default:
			text := sql[i : i+1]
			for _, symbol := range multiCharSymbols {
				if strings.HasPrefix(sql[i:], symbol) {
					text = symbol
					break
				}
			}
			if text == sql[i:i+1] && c >= utf8.RuneSelf {
				_, size := utf8.DecodeRuneInString(sql[i:])
				text = sql[i : i+size]
			}
			i += len(text)
			tokens = append(tokens, Token{Kind: TokenSymbol, Text: text, Pos: start})
		}
	}
	return tokens
}

// scanQuoted returns the index after the closing quote; a doubled quote is an
// escaped quote character, as is a backslash escape inside E'...' strings.
func scanQuoted(sql string, open int, quote byte, backslash bool) (int, bool) {
	i := open + 1
	for i < len(sql) {
		if sql[i] == quote {
			if i+1 < len(sql) && sql[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, true
		}
		if backslash && sql[i] == '\\' && i+1 < len(sql) {
			i += 2
			continue
		}
		i++
	}
	return len(sql), false
}

// scanDollar reads what starts at a '$': a dollar-quoted string ($$...$$ or
// $tag$...$tag$), a parameter ($1, $name) returned as a word, or a lone '$'
// symbol. Tags follow identifier rules and cannot start with a digit.
func scanDollar(sql string, open int) (TokenKind, int, bool) {
	j := open + 1
	if j < len(sql) && isDigit(sql[j]) {
		for j < len(sql) && isDigit(sql[j]) {
			j++
		}
		return TokenWord, j, true
	}
	for j < len(sql) && sql[j] != '$' && isWordPart(sql, j) {
		_, size := utf8.DecodeRuneInString(sql[j:])
		j += size
	}
	if j < len(sql) && sql[j] == '$' {
		delimiter := sql[open : j+1]
		end := strings.Index(sql[j+1:], delimiter)
		if end < 0 {
			return TokenString, len(sql), false
		}
		return TokenString, j + 1 + end + len(delimiter), true
	}
	if j > open+1 {
		return TokenWord, j, true
	}
	return TokenSymbol, open + 1, true
}

func scanNumber(sql string, i int) int {
	for i < len(sql) && (isDigit(sql[i]) || sql[i] == '_') {
		i++
	}
	if i < len(sql) && sql[i] == '.' {
		i++
		for i < len(sql) && (isDigit(sql[i]) || sql[i] == '_') {
			i++
		}
	}
	if i < len(sql) && (sql[i] == 'e' || sql[i] == 'E') {
		j := i + 1
		if j < len(sql) && (sql[j] == '+' || sql[j] == '-') {
			j++
		}
		if j < len(sql) && isDigit(sql[j]) {
			i = j
			for i < len(sql) && isDigit(sql[i]) {
				i++
			}
		}
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isStringPrefix(c byte) bool {
	switch c {
	case 'e', 'E', 'x', 'X', 'b', 'B', 'n', 'N':
		return true
	default:
		return false
	}
}

func isWordStart(sql string, i int) bool {
	c := sql[i]
	if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return true
	}
	if c < utf8.RuneSelf {
		return false
	}
	r, _ := utf8.DecodeRuneInString(sql[i:])
	return unicode.IsLetter(r)
}

func isWordPart(sql string, i int) bool {
	c := sql[i]
	if c == '$' || isDigit(c) {
		return true
	}
	return isWordStart(sql, i)
}
