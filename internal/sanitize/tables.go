package sanitize

import (
	"strings"

	"github.com/clinquery/clinquery/internal/schema"
)

type tableRef struct {
	parts []string
	raw   string
	cte   bool
}

// known resolves the reference against the schema. Only the default "main"
// schema qualifier is accepted.
func (r tableRef) known(tables schema.TableSet) bool {
	if r.cte {
		return true
	}
	switch len(r.parts) {
	case 1:
		return tables.Contains(r.parts[0])
	case 2:
		return strings.EqualFold(r.parts[0], "main") && tables.Contains(r.parts[1])
	default:
		return false
	}
}

// Functions whose argument grammar uses FROM without naming a table.
var fromArgumentFunctions = map[string]struct{}{
	"extract": {}, "substring": {}, "trim": {}, "overlay": {}, "position": {},
}

// Words that end a table reference instead of aliasing it.
var clauseKeywords = map[string]struct{}{
	"WHERE": {}, "GROUP": {}, "ORDER": {}, "HAVING": {}, "LIMIT": {}, "OFFSET": {},
	"FETCH": {}, "JOIN": {}, "INNER": {}, "LEFT": {}, "RIGHT": {}, "FULL": {},
	"OUTER": {}, "CROSS": {}, "NATURAL": {}, "ASOF": {}, "POSITIONAL": {}, "ANTI": {},
	"SEMI": {}, "ON": {}, "USING": {}, "UNION": {}, "EXCEPT": {}, "INTERSECT": {},
	"WINDOW": {}, "QUALIFY": {}, "SAMPLE": {}, "TABLESAMPLE": {}, "PIVOT": {},
	"UNPIVOT": {}, "LATERAL": {}, "SELECT": {}, "FROM": {}, "AS": {},
}

// tableReferences collects every relation named after FROM or JOIN at any
// nesting depth. Subqueries are skipped at the list level and picked up by
// the outer scan. Names bound by WITH are marked as CTE references.
func tableReferences(tokens []Token) []tableRef {
	ctes := cteNames(tokens)
	var refs []tableRef
	var callStack []string
	for i, token := range tokens {
		switch {
		case token.IsSymbol("("):
			callee := ""
			if i > 0 && tokens[i-1].Kind == TokenWord {
				callee = strings.ToLower(tokens[i-1].Text)
			}
			callStack = append(callStack, callee)
		case token.IsSymbol(")"):
			if len(callStack) > 0 {
				callStack = callStack[:len(callStack)-1]
			}
		case token.IsKeyword("FROM"):
			if len(callStack) > 0 {
				if _, ok := fromArgumentFunctions[callStack[len(callStack)-1]]; ok {
					continue
				}
			}
			if isDistinctFrom(tokens, i) {
				continue
			}
			refs = append(refs, relationList(tokens, i+1, ctes)...)
		case token.Kind == TokenWord && isRelationKeyword(token.Text):
			refs = append(refs, relationList(tokens, i+1, ctes)...)
		}
	}
	return refs
}

// Words other than FROM that are followed by a relation. PIVOT and TABLE can
// open a statement-style subquery such as (PIVOT t ON c USING sum(v)).
var relationKeywords = map[string]struct{}{
	"JOIN": {}, "PIVOT": {}, "UNPIVOT": {}, "PIVOT_WIDER": {}, "PIVOT_LONGER": {}, "TABLE": {},
}

func isRelationKeyword(word string) bool {
	_, ok := relationKeywords[strings.ToUpper(word)]
	return ok
}

func isDistinctFrom(tokens []Token, i int) bool {
	return i >= 2 && tokens[i-1].IsKeyword("DISTINCT") && (tokens[i-2].IsKeyword("IS") || tokens[i-2].IsKeyword("NOT"))
}

func relationList(tokens []Token, j int, ctes map[string]struct{}) []tableRef {
	var refs []tableRef
	for j < len(tokens) {
		if tokens[j].IsKeyword("LATERAL") || tokens[j].IsKeyword("ONLY") {
			j++
			continue
		}
		switch {
		case tokens[j].IsSymbol("("):
			j = skipParens(tokens, j)
		case tokens[j].Kind == TokenString:
			// DuckDB reads files named by a string in FROM.
			refs = append(refs, tableRef{parts: []string{tokens[j].Text}, raw: tokens[j].Text})
			j++
		case tokens[j].Kind == TokenWord || tokens[j].Kind == TokenQuotedIdent:
			if tokens[j].Kind == TokenWord {
				if _, clause := clauseKeywords[strings.ToUpper(tokens[j].Text)]; clause {
					return refs
				}
			}
			ref, next := qualifiedName(tokens, j)
			if next < len(tokens) && tokens[next].IsSymbol("(") {
				next = skipParens(tokens, next)
			} else if len(ref.parts) == 1 {
				_, ref.cte = ctes[strings.ToLower(ref.parts[0])]
			}
			refs = append(refs, ref)
			j = next
		default:
			return refs
		}
		j = skipAlias(tokens, j)
		if j < len(tokens) && tokens[j].IsSymbol(",") {
			j++
			continue
		}
		return refs
	}
	return refs
}

func qualifiedName(tokens []Token, j int) (tableRef, int) {
	var parts []string
	var raw []string
	for j < len(tokens) {
		if tokens[j].Kind != TokenWord && tokens[j].Kind != TokenQuotedIdent {
			break
		}
		parts = append(parts, tokens[j].Ident())
		raw = append(raw, tokens[j].Text)
		j++
		if j+1 < len(tokens) && tokens[j].IsSymbol(".") {
			j++
			continue
		}
		break
	}
	return tableRef{parts: parts, raw: strings.Join(raw, ".")}, j
}

func skipAlias(tokens []Token, j int) int {
	if j < len(tokens) && tokens[j].IsKeyword("AS") {
		j++
	}
	if j < len(tokens) {
		switch tokens[j].Kind {
		case TokenQuotedIdent:
			j++
		case TokenWord:
			if _, clause := clauseKeywords[strings.ToUpper(tokens[j].Text)]; !clause {
				j++
			}
		}
	}
	if j < len(tokens) && tokens[j].IsSymbol("(") && j > 0 && (tokens[j-1].Kind == TokenWord || tokens[j-1].Kind == TokenQuotedIdent) {
		j = skipParens(tokens, j)
	}
	return j
}

// skipParens returns the index after the parenthesis matching tokens[j].
func skipParens(tokens []Token, j int) int {
	depth := 0
	for ; j < len(tokens); j++ {
		switch {
		case tokens[j].IsSymbol("("):
			depth++
		case tokens[j].IsSymbol(")"):
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return j
}

// cteNames returns the lower-cased names bound by WITH clauses.
func cteNames(tokens []Token) map[string]struct{} {
	names := map[string]struct{}{}
	for i := 0; i < len(tokens); i++ {
		if !tokens[i].IsKeyword("WITH") {
			continue
		}
		j := i + 1
		if j < len(tokens) && tokens[j].IsKeyword("RECURSIVE") {
			j++
		}
		for j < len(tokens) {
			if tokens[j].Kind != TokenWord && tokens[j].Kind != TokenQuotedIdent {
				break
			}
			name := strings.ToLower(tokens[j].Ident())
			j++
			if j < len(tokens) && tokens[j].IsSymbol("(") {
				j = skipParens(tokens, j)
			}
			if j >= len(tokens) || !tokens[j].IsKeyword("AS") {
				break
			}
			j++
			for j < len(tokens) && (tokens[j].IsKeyword("NOT") || tokens[j].IsKeyword("MATERIALIZED")) {
				j++
			}
			if j >= len(tokens) || !tokens[j].IsSymbol("(") {
				break
			}
			names[name] = struct{}{}
			j = skipParens(tokens, j)
			if j < len(tokens) && tokens[j].IsSymbol(",") {
				j++
				continue
			}
			break
		}
	}
	return names
}
