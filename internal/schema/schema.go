package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

type ColumnDescriptor struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type TableDescriptor struct {
	Name       string             `json:"name"`
	Columns    []ColumnDescriptor `json:"columns"`
	RowCount   int64              `json:"row_count"`
	SampleRows [][]any            `json:"sample_rows,omitempty"`
}

// Descriptor is the reflected list of queryable tables. It is built once per
// store load and must not be mutated afterwards.
type Descriptor struct {
	Tables []TableDescriptor `json:"tables"`
}

// TableSet is the lower-cased set of table names a statement may reference.
type TableSet map[string]struct{}

func NewTableSet(names ...string) TableSet {
	set := make(TableSet, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		set[name] = struct{}{}
	}
	return set
}

func (s TableSet) Contains(name string) bool {
	_, ok := s[strings.ToLower(name)]
	return ok
}

func (d Descriptor) TableSet() TableSet {
	names := make([]string, 0, len(d.Tables))
	for _, table := range d.Tables {
		names = append(names, table.Name)
	}
	return NewTableSet(names...)
}

func (d Descriptor) Table(name string) (TableDescriptor, bool) {
	for _, table := range d.Tables {
		if strings.EqualFold(table.Name, name) {
			return table, true
		}
	}
	return TableDescriptor{}, false
}

func (d Descriptor) Empty() bool {
	return len(d.Tables) == 0
}

func (d Descriptor) TotalRows() int64 {
	var total int64
	for _, table := range d.Tables {
		total += table.RowCount
	}
	return total
}

// Catalog is the read-only reflection surface of the structured store.
type Catalog interface {
	ListTables(ctx context.Context, sampleRows int) ([]TableDescriptor, error)
}

// Describe reflects the store's catalog. An unreachable or empty store yields a
// descriptor with zero tables rather than an error.
func Describe(ctx context.Context, catalog Catalog, sampleRows int, logger *slog.Logger) Descriptor {
	if catalog == nil {
		return Descriptor{}
	}
	tables, err := catalog.ListTables(ctx, sampleRows)
	if err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "schema reflection failed; continuing with empty schema", slog.Any("error", err))
		}
		return Descriptor{}
	}
	out := make([]TableDescriptor, 0, len(tables))
	for _, table := range tables {
		if strings.TrimSpace(table.Name) == "" {
			continue
		}
		out = append(out, table)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return Descriptor{Tables: out}
}

// Render formats the descriptor for inclusion in a completion prompt.
func (d Descriptor) Render(sampleRows int) string {
	if d.Empty() {
		return "(no tables are available)\n"
	}
	var b strings.Builder
	for _, table := range d.Tables {
		fmt.Fprintf(&b, "Table: %s\n", table.Name)
		fmt.Fprintf(&b, "Row count: %d\n", table.RowCount)
		b.WriteString("Columns:\n")
		for _, column := range table.Columns {
			nullable := "NOT NULL"
			if column.Nullable {
				nullable = "NULL"
			}
			fmt.Fprintf(&b, "  - %s (%s, %s)\n", column.Name, column.Type, nullable)
		}
		samples := table.SampleRows
		if sampleRows >= 0 && len(samples) > sampleRows {
			samples = samples[:sampleRows]
		}
		if len(samples) > 0 {
			b.WriteString("Sample rows:\n")
			for _, row := range samples {
				b.WriteString("  ")
				b.WriteString(formatRow(row))
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatRow(row []any) string {
	parts := make([]string, 0, len(row))
	for _, value := range row {
		if value == nil {
			parts = append(parts, "NULL")
			continue
		}
		parts = append(parts, fmt.Sprint(value))
	}
	return strings.Join(parts, " | ")
}
