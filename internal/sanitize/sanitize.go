package sanitize

import (
	"regexp"
	"strings"

	"github.com/clinquery/clinquery/internal/nl2sql"
	"github.com/clinquery/clinquery/internal/schema"
)

type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

type Reason string

const (
	ReasonMultipleStatements Reason = "multiple-statements"
	ReasonNonSelect          Reason = "non-select"
	ReasonUnknownTable       Reason = "unknown-table"
	ReasonTrailingContent    Reason = "trailing-content"
)

// Verdict is Accepted with the normalized statement, or Rejected with a reason
// code and the offending fragment.
type Verdict struct {
	Status   Status `json:"status"`
	SQL      string `json:"sql,omitempty"`
	Reason   Reason `json:"reason,omitempty"`
	Fragment string `json:"fragment,omitempty"`
}

func (v Verdict) Accepted() bool {
	return v.Status == StatusAccepted
}

// Err returns a *Rejection for rejected verdicts and nil otherwise.
func (v Verdict) Err() error {
	if v.Accepted() {
		return nil
	}
	return &Rejection{Reason: v.Reason, Fragment: v.Fragment}
}

type Rejection struct {
	Reason   Reason
	Fragment string
}

func (r *Rejection) Error() string {
	return "the generated query was rejected: " + string(r.Reason)
}

func accepted(sql string) Verdict {
	return Verdict{Status: StatusAccepted, SQL: sql}
}

func rejected(reason Reason, fragment string) Verdict {
	return Verdict{Status: StatusRejected, Reason: reason, Fragment: clip(fragment)}
}

var deniedKeywords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "DROP": {}, "ALTER": {}, "CREATE": {},
	"ATTACH": {}, "DETACH": {}, "PRAGMA": {}, "TRUNCATE": {}, "MERGE": {}, "UPSERT": {},
	"GRANT": {}, "REVOKE": {}, "EXEC": {}, "EXECUTE": {}, "CALL": {}, "COPY": {},
	"EXPORT": {}, "IMPORT": {}, "INSTALL": {}, "LOAD": {}, "BEGIN": {}, "COMMIT": {},
	"ROLLBACK": {}, "SAVEPOINT": {}, "CHECKPOINT": {}, "VACUUM": {}, "INTO": {},
	"SUMMARIZE": {}, "DESCRIBE": {}, "SHOW": {}, "EXPLAIN": {},
}

var commentWord = regexp.MustCompile(`[A-Za-z_]+`)

func Sanitize(candidate nl2sql.CandidateQuery, descriptor schema.Descriptor) Verdict {
	return SanitizeSQL(candidate.SQL, descriptor.TableSet())
}

// SanitizeSQL is a pure function of the statement text and the known table set.
// Checks run in a fixed order: statement count, read-only, known tables, and
// finally trailing content or comments.
func SanitizeSQL(text string, tables schema.TableSet) Verdict {
	tokens := Tokenize(text)
	statements, rest := splitStatements(tokens)
	if len(statements) != 1 {
		fragment := ""
		if len(statements) > 1 {
			fragment = render(statements[1])
		}
		return rejected(ReasonMultipleStatements, fragment)
	}
	statement := statements[0]
	code := significant(statement)

	if len(code) == 0 || !code[0].IsKeyword("SELECT") {
		fragment := ""
		if len(code) > 0 {
			fragment = code[0].Text
		}
		return rejected(ReasonNonSelect, fragment)
	}
	if word, ok := findDeniedKeyword(tokens); ok {
		return rejected(ReasonNonSelect, word)
	}

	refs := tableReferences(code)
	if len(tables) == 0 {
		fragment := ""
		if len(refs) > 0 {
			fragment = refs[0].raw
		}
		return rejected(ReasonUnknownTable, fragment)
	}
	for _, ref := range refs {
		if !ref.known(tables) {
			return rejected(ReasonUnknownTable, ref.raw)
		}
	}

	for _, token := range tokens {
		if token.IsComment() || token.Unterminated {
			return rejected(ReasonTrailingContent, token.Text)
		}
	}
	if fragment := strings.TrimSpace(render(rest)); fragment != "" {
		return rejected(ReasonTrailingContent, fragment)
	}

	return accepted(Normalize(code))
}

// splitStatements cuts the token stream at top-level semicolons. Segments with
// only whitespace or comments are not statements; they are returned as rest so
// the trailing-content check can see them.
func splitStatements(tokens []Token) ([][]Token, []Token) {
	var statements [][]Token
	var rest []Token
	current := make([]Token, 0, len(tokens))
	flush := func() {
		if len(significant(current)) > 0 {
			statements = append(statements, current)
		} else {
			rest = append(rest, current...)
		}
		current = nil
	}
	for _, token := range tokens {
		if token.IsSymbol(";") {
			flush()
			continue
		}
		current = append(current, token)
	}
	flush()
	return statements, rest
}

func significant(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, token := range tokens {
		if token.IsTrivia() {
			continue
		}
		out = append(out, token)
	}
	return out
}

// findDeniedKeyword scans bare words and the words inside comments. String
// literals and quoted identifiers are data, not keywords.
func findDeniedKeyword(tokens []Token) (string, bool) {
	for _, token := range tokens {
		switch token.Kind {
		case TokenWord:
			if _, denied := deniedKeywords[strings.ToUpper(token.Text)]; denied {
				return token.Text, true
			}
		case TokenLineComment, TokenBlockComment:
			for _, word := range commentWord.FindAllString(token.Text, -1) {
				if _, denied := deniedKeywords[strings.ToUpper(word)]; denied {
					return word, true
				}
			}
		}
	}
	return "", false
}

func render(tokens []Token) string {
	var b strings.Builder
	for _, token := range tokens {
		b.WriteString(token.Text)
	}
	return strings.TrimSpace(b.String())
}

func clip(fragment string) string {
	const limit = 120
	fragment = strings.TrimSpace(fragment)
	if len(fragment) <= limit {
		return fragment
	}
	return fragment[:limit] + "..."
}
