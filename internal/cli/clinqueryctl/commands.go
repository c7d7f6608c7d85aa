package clinqueryctl

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type turnError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type turnEntry struct {
	Seq      int64 `json:"seq"`
	Question struct {
		Text string `json:"text"`
	} `json:"question"`
	Candidate *struct {
		SQL       string `json:"sql"`
		Rationale string `json:"rationale"`
	} `json:"candidate"`
	Outcome string `json:"outcome"`
	Answer  string `json:"answer"`
	Error   string `json:"error"`
}

type turnResponse struct {
	Entry     turnEntry  `json:"entry"`
	Answer    string     `json:"answer"`
	Columns   []string   `json:"columns"`
	Rows      [][]any    `json:"rows"`
	Truncated bool       `json:"truncated"`
	Error     *turnError `json:"error"`
}

type sessionSummary struct {
	ID    string `json:"session_id"`
	Turns int    `json:"turns"`
}

func newExamplesCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "List example questions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := c.do(cmd.Context(), http.MethodGet, "/v1/examples", nil)
			if err != nil {
				return err
			}
			if c.asJSON {
				return printJSON(cmd.OutOrStdout(), body)
			}
			var parsed struct {
				Categories []struct {
					Name      string   `json:"name"`
					Questions []string `json:"questions"`
				} `json:"categories"`
			}
			if err := json.Unmarshal(body, &parsed); err != nil {
				return &exitError{code: 1, err: fmt.Errorf("decode examples: %w", err)}
			}
			out := cmd.OutOrStdout()
			heading := color.New(color.FgCyan, color.Bold)
			for _, category := range parsed.Categories {
				_, _ = heading.Fprintln(out, category.Name)
				for _, question := range category.Questions {
					_, _ = fmt.Fprintf(out, "  - %s\n", question)
				}
			}
			return nil
		},
	}
}

func newSchemaCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show queryable tables and a data overview",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := c.do(cmd.Context(), http.MethodGet, "/v1/schema", nil)
			if err != nil {
				return err
			}
			if c.asJSON {
				return printJSON(cmd.OutOrStdout(), body)
			}
			var parsed struct {
				Tables []struct {
					Name     string `json:"name"`
					RowCount int64  `json:"row_count"`
					Columns  []struct {
						Name string `json:"name"`
						Type string `json:"type"`
					} `json:"columns"`
				} `json:"tables"`
				Overview struct {
					Tables   int    `json:"tables"`
					Records  int64  `json:"records"`
					Patients *int64 `json:"patients"`
				} `json:"overview"`
			}
			if err := json.Unmarshal(body, &parsed); err != nil {
				return &exitError{code: 1, err: fmt.Errorf("decode schema: %w", err)}
			}

			out := cmd.OutOrStdout()
			table := newTable(out)
			table.SetHeader([]string{"table", "rows", "columns"})
			for _, t := range parsed.Tables {
				columns := make([]string, 0, len(t.Columns))
				for _, column := range t.Columns {
					columns = append(columns, column.Name+" "+strings.ToLower(column.Type))
				}
				table.Append([]string{t.Name, strconv.FormatInt(t.RowCount, 10), strings.Join(columns, ", ")})
			}
			table.Render()

			summary := fmt.Sprintf("%d tables, %d records", parsed.Overview.Tables, parsed.Overview.Records)
			if parsed.Overview.Patients != nil {
				summary += fmt.Sprintf(", %d patients", *parsed.Overview.Patients)
			}
			_, err = fmt.Fprintln(out, summary)
			return err
		},
	}
}

func newSessionCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "new",
			Short: "Start a session and print its id",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				id, err := c.createSession(cmd)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return err
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List live sessions",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				body, err := c.do(cmd.Context(), http.MethodGet, "/v1/sessions", nil)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), body)
			},
		},
		&cobra.Command{
			Use:   "close <session-id>",
			Short: "End a session and archive its history",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				body, err := c.do(cmd.Context(), http.MethodDelete, "/v1/sessions/"+url.PathEscape(args[0]), nil)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), body)
			},
		},
	)
	return cmd
}

func (c *client) createSession(cmd *cobra.Command) (string, error) {
	body, err := c.do(cmd.Context(), http.MethodPost, "/v1/sessions", nil)
	if err != nil {
		return "", err
	}
	var summary sessionSummary
	if err := json.Unmarshal(body, &summary); err != nil || summary.ID == "" {
		return "", &exitError{code: 1, err: fmt.Errorf("unexpected session response: %s", strings.TrimSpace(string(body)))}
	}
	return summary.ID, nil
}

func newAskCmd(c *client) *cobra.Command {
	var sessionID string
	var showSQL bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question; starts a one-off session unless --session is set",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			id := sessionID
			if id == "" {
				created, err := c.createSession(cmd)
				if err != nil {
					return err
				}
				id = created
				defer func() {
					_, _ = c.do(cmd.Context(), http.MethodDelete, "/v1/sessions/"+url.PathEscape(id), nil)
				}()
			}

			body, err := c.do(cmd.Context(), http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/turns", map[string]string{"question": question})
			if err != nil {
				return err
			}
			if c.asJSON {
				return printJSON(cmd.OutOrStdout(), body)
			}
			var turn turnResponse
			if err := json.Unmarshal(body, &turn); err != nil {
				return &exitError{code: 1, err: fmt.Errorf("decode turn: %w", err)}
			}
			return renderTurn(cmd.OutOrStdout(), turn, showSQL)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "existing session id for follow-up questions")
	cmd.Flags().BoolVar(&showSQL, "show-sql", false, "print the generated SQL and its explanation")
	return cmd
}

func renderTurn(out io.Writer, turn turnResponse, showSQL bool) error {
	if showSQL && turn.Entry.Candidate != nil {
		faint := color.New(color.Faint)
		_, _ = faint.Fprintf(out, "SQL: %s\n", turn.Entry.Candidate.SQL)
		if turn.Entry.Candidate.Rationale != "" {
			_, _ = faint.Fprintf(out, "Explanation: %s\n", turn.Entry.Candidate.Rationale)
		}
	}
	if turn.Error != nil {
		label := "error"
		if turn.Entry.Outcome == "rejected" {
			label = "rejected"
		}
		_, _ = color.New(color.FgRed, color.Bold).Fprintf(out, "%s (%s): ", label, turn.Error.Kind)
		_, _ = fmt.Fprintln(out, turn.Error.Message)
		return &exitError{code: 3}
	}

	_, _ = color.New(color.FgGreen).Fprintln(out, turn.Answer)
	if len(turn.Columns) > 0 && len(turn.Rows) > 0 {
		table := newTable(out)
		table.SetHeader(turn.Columns)
		for _, row := range turn.Rows {
			cells := make([]string, len(row))
			for i, value := range row {
				cells[i] = formatCell(value)
			}
			table.Append(cells)
		}
		table.Render()
	}
	if turn.Truncated {
		_, _ = color.New(color.FgYellow).Fprintf(out, "showing the first %d rows\n", len(turn.Rows))
	}
	return nil
}

func newHistoryCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show the turns of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := c.do(cmd.Context(), http.MethodGet, "/v1/sessions/"+url.PathEscape(args[0])+"/turns", nil)
			if err != nil {
				return err
			}
			if c.asJSON {
				return printJSON(cmd.OutOrStdout(), body)
			}
			var parsed struct {
				Turns []turnEntry `json:"turns"`
			}
			if err := json.Unmarshal(body, &parsed); err != nil {
				return &exitError{code: 1, err: fmt.Errorf("decode history: %w", err)}
			}
			table := newTable(cmd.OutOrStdout())
			table.SetHeader([]string{"seq", "question", "outcome", "answer"})
			for _, entry := range parsed.Turns {
				detail := entry.Answer
				if detail == "" {
					detail = entry.Error
				}
				table.Append([]string{strconv.FormatInt(entry.Seq, 10), entry.Question.Text, entry.Outcome, detail})
			}
			table.Render()
			return nil
		},
	}
}

func newSpeakCmd(c *client) *cobra.Command {
	var voiceName, outPath string
	cmd := &cobra.Command{
		Use:   "speak <text>",
		Short: "Render text to speech and save it as mp3",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audio, err := c.do(cmd.Context(), http.MethodPost, "/v1/speech", map[string]string{
				"text":  strings.Join(args, " "),
				"voice": voiceName,
			})
			if err != nil {
				return err
			}
			if err := writeFile(outPath, audio); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(audio), outPath)
			return err
		},
	}
	cmd.Flags().StringVar(&voiceName, "voice", "", "speech voice (alloy, echo, fable, onyx, nova, shimmer)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "answer.mp3", "output file")
	return cmd
}

func newTable(out io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	return table
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case float64:
		if typed == float64(int64(typed)) {
			return strconv.FormatInt(int64(typed), 10)
		}
		return strconv.FormatFloat(typed, 'f', 2, 64)
	default:
		return fmt.Sprint(typed)
	}
}
