package sanitize

import "strings"

// Keywords rewritten to upper case. Function names and identifiers keep the
// casing they were written with.
var normalizedKeywords = map[string]struct{}{
	"SELECT": {}, "FROM": {}, "WHERE": {}, "GROUP": {}, "BY": {}, "ORDER": {},
	"HAVING": {}, "LIMIT": {}, "OFFSET": {}, "JOIN": {}, "INNER": {}, "LEFT": {},
	"RIGHT": {}, "FULL": {}, "OUTER": {}, "CROSS": {}, "NATURAL": {}, "ON": {},
	"USING": {}, "AS": {}, "AND": {}, "OR": {}, "NOT": {}, "IN": {}, "IS": {},
	"NULL": {}, "LIKE": {}, "ILIKE": {}, "BETWEEN": {}, "CASE": {}, "WHEN": {},
	"THEN": {}, "ELSE": {}, "END": {}, "DISTINCT": {}, "ALL": {}, "ANY": {},
	"UNION": {}, "INTERSECT": {}, "EXCEPT": {}, "ASC": {}, "DESC": {}, "NULLS": {},
	"OVER": {}, "PARTITION": {}, "WINDOW": {}, "WITH": {}, "RECURSIVE": {},
	"EXISTS": {}, "CAST": {}, "TRUE": {}, "FALSE": {}, "FILTER": {}, "QUALIFY": {},
	"LATERAL": {}, "INTERVAL": {}, "PRECEDING": {}, "FOLLOWING": {}, "UNBOUNDED": {},
}

// Normalize re-serializes significant tokens with canonical keyword casing and
// single-space separation. It never joins two tokens that were separate, so the
// output re-tokenizes to the same sequence and normalizing it again is a no-op.
func Normalize(tokens []Token) string {
	var b strings.Builder
	var prev *Token
	for i := range tokens {
		token := tokens[i]
		if token.IsTrivia() || token.IsSymbol(";") {
			continue
		}
		text := token.Text
		if token.Kind == TokenWord {
			if _, ok := normalizedKeywords[strings.ToUpper(text)]; ok {
				text = strings.ToUpper(text)
			}
		}
		if prev != nil && needsSpace(*prev, token) {
			b.WriteByte(' ')
		}
		b.WriteString(text)
		current := token
		prev = &current
	}
	return b.String()
}

// NormalizeSQL tokenizes and normalizes text without validating it.
func NormalizeSQL(text string) string {
	return Normalize(Tokenize(text))
}

func needsSpace(prev, next Token) bool {
	switch {
	case prev.IsSymbol("(") || prev.IsSymbol("["):
		return false
	case next.IsSymbol(")") || next.IsSymbol("]") || next.IsSymbol(","):
		return false
	case prev.IsSymbol("::") || next.IsSymbol("::"):
		return false
	case next.IsSymbol(".") && isName(prev):
		return false
	case prev.IsSymbol(".") && (isName(next) || next.IsSymbol("*")):
		return false
	case next.IsSymbol("(") && isCallee(prev):
		return false
	}
	return true
}

func isName(token Token) bool {
	return token.Kind == TokenWord || token.Kind == TokenQuotedIdent
}

func isCallee(token Token) bool {
	if token.Kind == TokenQuotedIdent {
		return true
	}
	if token.Kind != TokenWord {
		return false
	}
	_, keyword := normalizedKeywords[strings.ToUpper(token.Text)]
	return !keyword
}
