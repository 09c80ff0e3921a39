package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/frostlabs/snowgpt/assistant/gen"
	"github.com/frostlabs/snowgpt/assistant/metrics"
	"github.com/frostlabs/snowgpt/warehouse"
)

// maxPanels caps the panels of one dashboard. The designer produces
// all specs in a single generation call; anything past the cap is
// dropped.
const maxPanels = 5

// DashboardPipeline answers a routed multi-panel request: one-shot
// spec generation, per-panel execution and chart generation with
// failure isolation, then ordered assembly.
type DashboardPipeline struct {
	gen         gen.Service
	wh          warehouse.Warehouse
	chart       *ChartPipeline
	parallelism int
	metrics     *metrics.Exporter
}

// NewDashboardPipeline creates the dashboard pipeline. parallelism
// bounds concurrent panel workers; exporter may be nil.
func NewDashboardPipeline(svc gen.Service, wh warehouse.Warehouse, chart *ChartPipeline, parallelism int, exporter *metrics.Exporter) *DashboardPipeline {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &DashboardPipeline{
		gen:         svc,
		wh:          wh,
		chart:       chart,
		parallelism: parallelism,
		metrics:     exporter,
	}
}

// Run processes one dashboard request to a terminal result. A failed
// panel is recorded with an error marker and never aborts its
// siblings; a dashboard with four good panels and one failure still
// renders.
func (p *DashboardPipeline) Run(ctx context.Context, request string) *Result {
	schemaCtx, err := warehouse.RenderMetadata(ctx, p.wh)
	if err != nil {
		slog.Error("dashboard pipeline: failed to read schema metadata", "error", err)
		return terminal(StatusBuildFailure, "I could not read the schema metadata: %v. Please try again.", err)
	}

	spec, err := p.generateSpec(ctx, request, schemaCtx)
	if err != nil {
		slog.Error("dashboard pipeline: spec generation failed", "error", err)
		return terminal(StatusBuildFailure, "I was unable to design a dashboard for your request: %v", err)
	}
	if !spec.SufficientContext {
		slog.Info("dashboard pipeline: insufficient context")
		msg := spec.Comment
		if len(spec.QuestionsForUser) > 0 {
			msg += "\n\n" + strings.Join(spec.QuestionsForUser, "\n")
		}
		return terminal(StatusInsufficientContext, "%s", msg)
	}
	if len(spec.Visualizations) == 0 {
		return terminal(StatusBuildFailure, "The dashboard design came back empty. Please refine your request.")
	}

	specs := spec.Visualizations
	if len(specs) > maxPanels {
		specs = specs[:maxPanels]
	}

	panels := p.processPanels(ctx, request, specs)

	layout := BuildLayout(len(panels))
	return &Result{
		Status:  StatusOK,
		Message: p.summarize(spec.Comment, panels),
		Panels:  panels,
		Layout:  &layout,
	}
}

// processPanels runs every panel to completion with bounded
// parallelism. Workers write only their own slot of the local slice;
// nothing touches session state until the merged result returns. Slot
// order matches spec order regardless of completion order.
func (p *DashboardPipeline) processPanels(ctx context.Context, request string, specs []gen.PanelSpec) []Panel {
	panels := make([]Panel, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, spec := range specs {
		g.Go(func() error {
			panels[i] = p.processPanel(gctx, request, spec)
			return nil
		})
	}
	// Workers never return errors; failures live in the panel slots.
	_ = g.Wait()

	return panels
}

func (p *DashboardPipeline) processPanel(ctx context.Context, request string, spec gen.PanelSpec) Panel {
	panel := Panel{Name: spec.Name, Caption: spec.Caption, Query: spec.SQLQuery}

	table, err := p.wh.Execute(ctx, spec.SQLQuery)
	if err != nil {
		slog.Warn("dashboard pipeline: panel execution failed", "panel", spec.Name, "error", err)
		panel.Error = fmt.Sprintf("query failed: %v", err)
		p.recordPanel("execution_error")
		return panel
	}
	panel.Result = table

	chart, err := p.chart.Generate(ctx, request, spec.Type, table, ModeDashboard)
	if err != nil {
		slog.Warn("dashboard pipeline: panel chart failed", "panel", spec.Name, "error", err)
		panel.Error = fmt.Sprintf("chart generation failed: %v", err)
		p.recordPanel("chart_error")
		return panel
	}
	panel.Chart = chart
	p.recordPanel("ok")
	return panel
}

func (p *DashboardPipeline) recordPanel(status string) {
	if p.metrics != nil {
		p.metrics.RecordPanel(status)
	}
}

func (p *DashboardPipeline) generateSpec(ctx context.Context, request, schemaCtx string) (*gen.DashboardOutput, error) {
	payload := fmt.Sprintf("Schema metadata:\n%s\n\nUser request: %s", schemaCtx, request)
	raw, err := p.gen.Generate(ctx, gen.PromptDashboardSpec, payload)
	if err != nil {
		return nil, err
	}
	out, err := gen.Decode[gen.DashboardOutput](gen.PromptDashboardSpec, raw)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *DashboardPipeline) summarize(comment string, panels []Panel) string {
	var sb strings.Builder
	sb.WriteString(comment)
	sb.WriteString("\n")
	for _, panel := range panels {
		if panel.Failed() {
			fmt.Fprintf(&sb, "\n- %s: failed (%s)", panel.Name, panel.Error)
			continue
		}
		fmt.Fprintf(&sb, "\n- %s: %s", panel.Name, panel.Caption)
	}
	return sb.String()
}
