package nl2sql

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/clinquery/clinquery/internal/schema"
)

const maxHistorySQLChars = 400

var clinicalGuidance = []string{
	"This is medical patient data queried by physicians.",
	"assessments holds quality of life (qol), anxiety, depression and behavioral scores per patient per day.",
	"medications holds daily dosages in milligrams for Med A through Med E per patient.",
	"seizures holds daily_total and daily_severe counts, seizure_type, medication_missed and called_911 per patient per day.",
	"Seizure types include 'tonic-clonic', 'spasms', 'absence', or blank for no seizure.",
	"medication_missed and called_911 are booleans.",
	"Use DuckDB SQL syntax (PostgreSQL-like).",
	"Only generate SELECT queries. Never modify data or schema.",
	"Use only the tables and columns listed above and be precise with column names.",
	"When asked about trends, order by date.",
	"When asked about averages or statistics, use aggregate functions.",
}

func BuildSystemPrompt(descriptor schema.Descriptor, history []HistoryItem, sampleRows int) string {
	var b strings.Builder
	b.WriteString("You are a medical data SQL expert helping physicians query patient databases.\n\n")
	b.WriteString("Database schema:\n")
	b.WriteString(descriptor.Render(sampleRows))
	b.WriteString("Important context:\n")
	for _, line := range clinicalGuidance {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(history) > 0 {
		b.WriteString("\nRecent questions in this session (oldest first), for resolving follow-ups:\n")
		for i, item := range history {
			sql := strings.Join(strings.Fields(item.SQL), " ")
			if sql == "" {
				sql = "(no query)"
			}
			sql = truncateRunes(sql, maxHistorySQLChars)
			fmt.Fprintf(&b, "%d. Q: %s\n   SQL: %s\n", i+1, strings.TrimSpace(item.Question), sql)
		}
	}
	b.WriteString("\nRespond with exactly one read-only SQL statement inside a ```sql code block, ")
	b.WriteString("then one line starting with \"Explanation:\" that states in plain English what the query computes.")
	return b.String()
}

func BuildUserPrompt(question Question) string {
	return fmt.Sprintf("Convert this question to SQL:\n%q", question.Text)
}

// truncateRunes cuts s to at most limit bytes without splitting a rune and
// marks the cut with an ellipsis.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
