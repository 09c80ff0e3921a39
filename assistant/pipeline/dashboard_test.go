package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostlabs/snowgpt/assistant/gen"
)

func fivePanelSpec() string {
	return `{"sufficient_context":true,"comment":"regional performance overview","visualizations":[
		{"visualization_name":"p0","visualization_type":"bar_chart","caption":"c0","sql_query":"q0"},
		{"visualization_name":"p1","visualization_type":"line_chart","caption":"c1","sql_query":"q1"},
		{"visualization_name":"p2","visualization_type":"bar_chart","caption":"c2","sql_query":"q2"},
		{"visualization_name":"p3","visualization_type":"area_chart","caption":"c3","sql_query":"q3"},
		{"visualization_name":"p4","visualization_type":"bar_chart","caption":"c4","sql_query":"q4"}
	]}`
}

func newDashboard(g gen.Service, wh *fakeWarehouse, parallelism int) *DashboardPipeline {
	return NewDashboardPipeline(g, wh, NewChartPipeline(g), parallelism, nil)
}

func TestDashboardAllPanelsSucceed(t *testing.T) {
	g := newScriptedGen()
	g.on(gen.PromptDashboardSpec, fivePanelSpec())
	g.on(gen.PromptChartCode, chartOK)
	wh := newFakeWarehouse()

	p := newDashboard(g, wh, 2)
	res := p.Run(context.Background(), "please build me a dashboard of regional performance")

	require.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Panels, 5)
	for i, panel := range res.Panels {
		assert.False(t, panel.Failed(), "panel %d", i)
		assert.Equal(t, fmt.Sprintf("p%d", i), panel.Name)
		assert.NotNil(t, panel.Chart)
	}

	// 2x2 grid plus the fifth panel full width.
	require.NotNil(t, res.Layout)
	assert.Equal(t, [][]int{{0, 1}, {2, 3}}, res.Layout.Rows)
	assert.Equal(t, 4, res.Layout.Wide)
}

func TestDashboardPartialFailureTolerance(t *testing.T) {
	g := newScriptedGen()
	g.on(gen.PromptDashboardSpec, fivePanelSpec())
	g.on(gen.PromptChartCode, chartOK)
	wh := newFakeWarehouse()
	wh.execErrs["q2"] = errors.New("division by zero")

	p := newDashboard(g, wh, 2)
	res := p.Run(context.Background(), "regional dashboard please")

	require.Equal(t, StatusOK, res.Status)
	require.Len(t, res.Panels, 5)

	rendered, failed := 0, 0
	for i, panel := range res.Panels {
		// Spec order is preserved regardless of completion order.
		assert.Equal(t, fmt.Sprintf("p%d", i), panel.Name)
		if panel.Failed() {
			failed++
			assert.Equal(t, 2, i)
			assert.Contains(t, panel.Error, "division by zero")
			assert.Nil(t, panel.Chart)
		} else {
			rendered++
		}
	}
	assert.Equal(t, 4, rendered)
	assert.Equal(t, 1, failed)
	assert.Contains(t, res.Message, "failed")
}

func TestDashboardChartFailureIsolatedToPanel(t *testing.T) {
	g := newScriptedGen()
	g.on(gen.PromptDashboardSpec, fivePanelSpec())
	g.failOn(gen.PromptChartCode, errors.New("provider down"))
	wh := newFakeWarehouse()

	p := newDashboard(g, wh, 1)
	res := p.Run(context.Background(), "dashboard please")

	require.Equal(t, StatusOK, res.Status)
	for _, panel := range res.Panels {
		assert.True(t, panel.Failed())
		assert.Contains(t, panel.Error, "chart generation failed")
	}
}

func TestDashboardInsufficientContext(t *testing.T) {
	g := newScriptedGen()
	g.on(gen.PromptDashboardSpec,
		`{"sufficient_context":false,"comment":"too vague","questions_for_user":["Which metric?","Which timeframe?"]}`)
	wh := newFakeWarehouse()

	p := newDashboard(g, wh, 2)
	res := p.Run(context.Background(), "make it pretty")

	assert.Equal(t, StatusInsufficientContext, res.Status)
	assert.Contains(t, res.Message, "too vague")
	assert.Contains(t, res.Message, "Which metric?")
	assert.Empty(t, wh.execCalls)
}

func TestDashboardCapsPanelCount(t *testing.T) {
	spec := `{"sufficient_context":true,"comment":"x","visualizations":[
		{"visualization_name":"p0","sql_query":"q0"},
		{"visualization_name":"p1","sql_query":"q1"},
		{"visualization_name":"p2","sql_query":"q2"},
		{"visualization_name":"p3","sql_query":"q3"},
		{"visualization_name":"p4","sql_query":"q4"},
		{"visualization_name":"p5","sql_query":"q5"},
		{"visualization_name":"p6","sql_query":"q6"}
	]}`
	g := newScriptedGen()
	g.on(gen.PromptDashboardSpec, spec)
	g.on(gen.PromptChartCode, chartOK)
	wh := newFakeWarehouse()

	p := newDashboard(g, wh, 2)
	res := p.Run(context.Background(), "everything please")

	require.Equal(t, StatusOK, res.Status)
	assert.Len(t, res.Panels, 5)
}

func TestBuildLayout(t *testing.T) {
	tests := []struct {
		n        int
		wantRows [][]int
		wantWide int
	}{
		{n: 0, wantRows: nil, wantWide: -1},
		{n: 1, wantRows: [][]int{{0}}, wantWide: -1},
		{n: 2, wantRows: [][]int{{0, 1}}, wantWide: -1},
		{n: 3, wantRows: [][]int{{0, 1}, {2}}, wantWide: -1},
		{n: 4, wantRows: [][]int{{0, 1}, {2, 3}}, wantWide: -1},
		{n: 5, wantRows: [][]int{{0, 1}, {2, 3}}, wantWide: 4},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d panels", tt.n), func(t *testing.T) {
			l := BuildLayout(tt.n)
			assert.Equal(t, tt.wantRows, l.Rows)
			assert.Equal(t, tt.wantWide, l.Wide)
		})
	}
}
