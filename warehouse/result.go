package warehouse

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ColumnKind classifies a result column for chart-type selection.
type ColumnKind string

const (
	KindNumeric ColumnKind = "numeric"
	KindText    ColumnKind = "text"
	KindTime    ColumnKind = "time"
	KindBool    ColumnKind = "bool"
	KindOther   ColumnKind = "other"
)

// Column is one column of a tabular result.
type Column struct {
	Name string
	Kind ColumnKind
}

// TabularResult holds the rows returned by a query. Values are plain Go
// types; fixed-point numerics are converted to float64 before the result
// reaches any chart code (chart layers reject decimal types).
type TabularResult struct {
	Columns []Column
	Rows    [][]any
}

// NumRows returns the number of rows.
func (r *TabularResult) NumRows() int { return len(r.Rows) }

// NumCols returns the number of columns.
func (r *TabularResult) NumCols() int { return len(r.Columns) }

// IsScalar reports whether the result is a single 1x1 value.
func (r *TabularResult) IsScalar() bool {
	return r.NumRows() == 1 && r.NumCols() == 1
}

// Empty reports whether the result has no rows.
func (r *TabularResult) Empty() bool { return len(r.Rows) == 0 }

// ConvertDecimals rewrites every fixed-point numeric value to float64,
// in place, and reclassifies the affected columns as numeric.
func (r *TabularResult) ConvertDecimals() {
	for ci := range r.Columns {
		switch r.Columns[ci].Kind {
		case KindText, KindTime, KindBool:
			continue
		}
		converted := false
		for ri := range r.Rows {
			v, ok := toFloat(r.Rows[ri][ci])
			if !ok {
				continue
			}
			r.Rows[ri][ci] = v
			converted = true
		}
		if converted {
			r.Columns[ci].Kind = KindNumeric
		}
	}
}

// toFloat converts fixed-point representations to float64. Drivers hand
// back NUMERIC/DECIMAL columns as decimal values, []byte or strings
// depending on the driver; all of them collapse to float64 here.
func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case decimal.Decimal:
		f, _ := val.Float64()
		return f, true
	case *decimal.Decimal:
		if val == nil {
			return 0, false
		}
		f, _ := val.Float64()
		return f, true
	case []byte:
		d, err := decimal.NewFromString(string(val))
		if err != nil {
			return 0, false
		}
		f, _ := d.Float64()
		return f, true
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return 0, false
		}
		f, _ := d.Float64()
		return f, true
	default:
		return 0, false
	}
}

// Info renders a compact description of the result shape, used as context
// for chart generation.
func (r *TabularResult) Info() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d rows x %d columns\n", r.NumRows(), r.NumCols())
	for _, c := range r.Columns {
		fmt.Fprintf(&sb, "- %s (%s)\n", c.Name, c.Kind)
	}
	if len(r.Rows) > 0 {
		sb.WriteString("sample: ")
		sb.WriteString(formatRow(r.Rows[0]))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Markdown renders the result as a markdown table, truncated to maxRows.
func (r *TabularResult) Markdown(maxRows int) string {
	var sb strings.Builder
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	sb.WriteString("| " + strings.Join(names, " | ") + " |\n")
	sb.WriteString("|" + strings.Repeat(" --- |", len(names)) + "\n")
	for i, row := range r.Rows {
		if maxRows > 0 && i >= maxRows {
			fmt.Fprintf(&sb, "... %d more rows\n", len(r.Rows)-maxRows)
			break
		}
		sb.WriteString("| " + formatRow(row) + " |\n")
	}
	return sb.String()
}

func formatRow(row []any) string {
	cells := make([]string, len(row))
	for i, v := range row {
		switch val := v.(type) {
		case nil:
			cells[i] = "NULL"
		case time.Time:
			cells[i] = val.Format("2006-01-02 15:04:05")
		case float64:
			cells[i] = fmt.Sprintf("%g", val)
		default:
			cells[i] = fmt.Sprintf("%v", val)
		}
	}
	return strings.Join(cells, " | ")
}
