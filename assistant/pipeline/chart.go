package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frostlabs/snowgpt/assistant/gen"
	"github.com/frostlabs/snowgpt/warehouse"
)

// Mode selects the chart step's behavior. Single mode may decide no
// visualization is warranted; dashboard mode always attempts a chart
// because the spec generation already decided charts are wanted.
type Mode string

const (
	ModeSingle    Mode = "single"
	ModeDashboard Mode = "dashboard"
)

// ChartPipeline generates chart code for one result set.
type ChartPipeline struct {
	gen gen.Service
}

// NewChartPipeline creates the shared chart step.
func NewChartPipeline(svc gen.Service) *ChartPipeline {
	return &ChartPipeline{gen: svc}
}

// SelectChartType picks a chart type from the result shape. The
// mapping is deterministic: a time axis gets a line chart, categories
// get bars, two numeric columns get a scatter plot.
func SelectChartType(result *warehouse.TabularResult) string {
	var hasTime, hasText bool
	numeric := 0
	for _, c := range result.Columns {
		switch c.Kind {
		case warehouse.KindTime:
			hasTime = true
		case warehouse.KindText:
			hasText = true
		case warehouse.KindNumeric:
			numeric++
		}
	}
	switch {
	case hasTime && numeric > 0:
		return "line_chart"
	case hasText && numeric > 0:
		return "bar_chart"
	case numeric >= 2:
		return "scatter_chart"
	default:
		return "bar_chart"
	}
}

// Generate produces a chart for the result, or nil when no chart is
// appropriate. In single mode scalar/empty/single-column results and
// generation failures degrade to no chart; in dashboard mode a
// generation failure is returned so the panel records an error marker.
func (c *ChartPipeline) Generate(ctx context.Context, request, chartType string, result *warehouse.TabularResult, mode Mode) (*Chart, error) {
	if mode == ModeSingle {
		if result.Empty() || result.IsScalar() || result.NumCols() < 2 {
			slog.Debug("chart: shape not chartable, table only",
				"rows", result.NumRows(), "columns", result.NumCols())
			return nil, nil
		}
	}
	if chartType == "" {
		chartType = SelectChartType(result)
	}

	payload := fmt.Sprintf("Request: %s\nChart type: %s\nResult:\n%s", request, chartType, result.Info())
	raw, err := c.gen.Generate(ctx, gen.PromptChartCode, payload)
	if err == nil {
		var out gen.ChartOutput
		out, err = gen.Decode[gen.ChartOutput](gen.PromptChartCode, raw)
		if err == nil {
			if !out.ChartNeeded {
				slog.Debug("chart: generator declined", "message", out.Message)
				return nil, nil
			}
			return &Chart{Type: chartType, Code: out.CodeBlock}, nil
		}
	}

	if mode == ModeSingle {
		slog.Warn("chart: generation failed, table only", "error", err)
		return nil, nil
	}
	return nil, err
}
