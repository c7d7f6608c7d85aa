package compose

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/clinquery/clinquery/internal/query"
)

// Template summarizes a non-empty result without a model: the single value,
// or the row count, columns, and first and last rows.
func Template(result query.Result) string {
	if result.Empty() {
		return NoMatchPhrase
	}
	if result.RowCount == 1 && len(result.Columns) == 1 {
		return fmt.Sprintf("The %s is %s.", result.Columns[0], FormatValue(result.Rows[0][0]))
	}

	var b strings.Builder
	noun := "records"
	if result.RowCount == 1 {
		noun = "record"
	}
	fmt.Fprintf(&b, "Found %d %s with columns %s.", result.RowCount, noun, strings.Join(result.Columns, ", "))
	fmt.Fprintf(&b, " First: %s.", describeRow(result.Columns, result.Rows[0]))
	if result.RowCount > 1 {
		fmt.Fprintf(&b, " Last: %s.", describeRow(result.Columns, result.Rows[len(result.Rows)-1]))
	}
	if result.Truncated {
		fmt.Fprintf(&b, " Only the first %d rows are shown.", result.RowCount)
	}
	return b.String()
}

func describeRow(columns []string, row []any) string {
	parts := make([]string, 0, len(columns))
	for i, column := range columns {
		if i >= len(row) {
			break
		}
		parts = append(parts, column+"="+FormatValue(row[i]))
	}
	return strings.Join(parts, ", ")
}

func FormatRow(row []any) []string {
	out := make([]string, len(row))
	for i, value := range row {
		out[i] = FormatValue(value)
	}
	return out
}

// FormatValue renders a scalar for display. Non-integral floats keep two
// decimals; midnight timestamps render as dates.
func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case string:
		return typed
	case float64:
		return formatFloat(typed)
	case float32:
		return formatFloat(float64(typed))
	case bool:
		return strconv.FormatBool(typed)
	case time.Time:
		if typed.Hour() == 0 && typed.Minute() == 0 && typed.Second() == 0 && typed.Nanosecond() == 0 {
			return typed.Format("2006-01-02")
		}
		return typed.Format(time.RFC3339)
	default:
		return fmt.Sprint(typed)
	}
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
