package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/clinquery/clinquery/internal/completion"
	"github.com/clinquery/clinquery/internal/nl2sql"
	"github.com/clinquery/clinquery/internal/query"
)

type Source string

const (
	SourceEmpty    Source = "empty"
	SourceModel    Source = "model"
	SourceTemplate Source = "template"
)

// NoMatchPhrase answers every zero-row result.
const NoMatchPhrase = "No matching records were found for this question."

const systemPrompt = `You are a medical data assistant helping physicians understand patient data.
Provide clear, concise answers based on the query results.
Use medical terminology appropriately.
Keep responses professional and focused on the data.`

// Answer is the composed text. Err records a composition failure that was
// replaced by the template.
type Answer struct {
	Text   string
	Source Source
	Err    error
}

type Config struct {
	Enabled     bool
	Temperature float64
	MaxTokens   int
	MaxRows     int
	MaxColumns  int
}

type Composer struct {
	completer completion.Completer
	cfg       Config
}

// NewComposer returns a composer. A nil completer limits it to the template.
func NewComposer(completer completion.Completer, cfg Config) *Composer {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 20
	}
	if cfg.MaxColumns <= 0 {
		cfg.MaxColumns = 8
	}
	return &Composer{completer: completer, cfg: cfg}
}

func (c *Composer) Compose(ctx context.Context, question nl2sql.Question, result query.Result) Answer {
	if result.Empty() {
		return Answer{Text: NoMatchPhrase, Source: SourceEmpty}
	}
	if !c.useModel(result) {
		return Answer{Text: Template(result), Source: SourceTemplate}
	}

	resp, err := c.completer.Complete(ctx, completion.Request{
		Purpose:     completion.PurposeComposition,
		System:      systemPrompt,
		User:        userPrompt(question, result),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err == nil {
		text := strings.TrimSpace(resp.Text)
		if text != "" {
			return Answer{Text: text, Source: SourceModel}
		}
		err = errors.New("empty composition response")
	}
	return Answer{
		Text:   Template(result),
		Source: SourceTemplate,
		Err:    fmt.Errorf("compose answer: %w", err),
	}
}

func (c *Composer) useModel(result query.Result) bool {
	if c.completer == nil || !c.cfg.Enabled {
		return false
	}
	return result.RowCount <= c.cfg.MaxRows && len(result.Columns) <= c.cfg.MaxColumns
}

func userPrompt(question nl2sql.Question, result query.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nQuery Results:\n", question.Text)
	b.WriteString(CompactTable(result))
	if result.Truncated {
		fmt.Fprintf(&b, "(results truncated at %d rows)\n", result.RowCount)
	}
	b.WriteString("\nProvide a clear, professional answer to the physician's question based on these results.")
	return b.String()
}

// CompactTable renders a result as a borderless text table.
func CompactTable(result query.Result) string {
	var b strings.Builder
	table := tablewriter.NewWriter(&b)
	table.SetHeader(result.Columns)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	for _, row := range result.Rows {
		table.Append(FormatRow(row))
	}
	table.Render()
	return b.String()
}
