// Package pipeline implements the turn handlers a routed request is
// delegated to: the single-query SQL pipeline, the multi-panel
// dashboard pipeline and the shared chart step. Every run ends in a
// terminal Result; the state machine appends its message and performs
// cleanup regardless of status.
package pipeline

import (
	"fmt"

	"github.com/frostlabs/snowgpt/warehouse"
)

// Status classifies the terminal outcome of a pipeline run.
type Status string

const (
	StatusOK                  Status = "ok"
	StatusInsufficientContext Status = "insufficient_context"
	StatusBuildFailure        Status = "build_failure"
	StatusValidationExhausted Status = "validation_exhausted"
	StatusExecutionError      Status = "execution_error"
)

// Chart is one generated chart artifact.
type Chart struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

// Panel is one processed dashboard panel. Error holds the failure
// marker when the panel could not be rendered; failed panels keep
// their slot so the layout preserves spec order.
type Panel struct {
	Name    string                   `json:"name"`
	Caption string                   `json:"caption"`
	Query   string                   `json:"query"`
	Result  *warehouse.TabularResult `json:"-"`
	Chart   *Chart                   `json:"chart,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// Failed reports whether the panel carries an error marker.
func (p *Panel) Failed() bool { return p.Error != "" }

// Layout places panels on the dashboard: rows of up to two panel
// indexes, plus an optional full-width trailing panel.
type Layout struct {
	Rows [][]int `json:"rows"`
	Wide int     `json:"wide"` // index of the full-width panel, -1 when absent
}

// BuildLayout lays out n panels as a 2x2 grid with the fifth panel
// full width. Fewer panels degrade to a smaller grid; an odd count
// short of five leaves the last row with a single panel.
func BuildLayout(n int) Layout {
	l := Layout{Wide: -1}
	if n <= 0 {
		return l
	}
	if n == 5 {
		l.Wide = 4
		n = 4
	}
	for i := 0; i < n; i += 2 {
		end := i + 2
		if end > n {
			end = n
		}
		row := make([]int, 0, 2)
		for j := i; j < end; j++ {
			row = append(row, j)
		}
		l.Rows = append(l.Rows, row)
	}
	return l
}

// Result is the terminal outcome of one pipeline run.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`

	// Single-query fields.
	Query string                   `json:"query,omitempty"`
	Table *warehouse.TabularResult `json:"-"`
	Chart *Chart                   `json:"chart,omitempty"`

	// Dashboard fields.
	Panels []Panel `json:"panels,omitempty"`
	Layout *Layout `json:"layout,omitempty"`
}

// OK reports whether the run produced a successful outcome.
func (r *Result) OK() bool { return r.Status == StatusOK }

func terminal(status Status, format string, args ...any) *Result {
	return &Result{Status: status, Message: fmt.Sprintf(format, args...)}
}
