// Package gen is the generation capability boundary: every language-model
// call the assistant makes goes through Service as a prompt kind with a
// declared structured output. Callers never see provider details; a
// response that does not match the declared schema is a GenerationError.
package gen

import (
	"context"
	"encoding/json"
	"fmt"
)

// PromptKind identifies one generation task with a fixed output schema.
type PromptKind string

const (
	// PromptRouting decides which handler owns the turn.
	PromptRouting PromptKind = "routing"
	// PromptSMECheck verifies the schema holds enough context for a query.
	PromptSMECheck PromptKind = "sme_check"
	// PromptQueryBuild produces a candidate SQL query.
	PromptQueryBuild PromptKind = "query_build"
	// PromptValidation reviews a candidate SQL query.
	PromptValidation PromptKind = "validation"
	// PromptDashboardSpec designs up to five panels in one shot.
	PromptDashboardSpec PromptKind = "dashboard_spec"
	// PromptChartCode produces chart code for one result set.
	PromptChartCode PromptKind = "chart_code"
)

// Service is the generation capability consumed by the assistant core.
type Service interface {
	// Generate runs the prompt kind over the given context payload and
	// returns the raw structured output. Implementations must return a
	// *GenerationError when the model output cannot be produced or does
	// not parse as JSON.
	Generate(ctx context.Context, kind PromptKind, contextPayload string) (json.RawMessage, error)
}

// GenerationError reports a failed or schema-mismatched generation call.
type GenerationError struct {
	Kind PromptKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for %s: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// RoutingOutput is the structured decision of a routing prompt.
type RoutingOutput struct {
	Handoff           string `json:"handoff"`
	QuestionsForUsers string `json:"questions_for_users"`
	UserRequest       string `json:"user_request"`
}

// SMEOutput is the verdict of a context sufficiency check.
type SMEOutput struct {
	SufficientContext bool   `json:"sufficient_context"`
	Comment           string `json:"comment"`
}

// QueryBuildOutput is a candidate SQL query with its explanation.
type QueryBuildOutput struct {
	SQLQuery string `json:"sql_query"`
	Comment  string `json:"comment"`
}

// ValidationOutput is the verdict of the SQL validator.
type ValidationOutput struct {
	SQLValid bool   `json:"sql_valid"`
	Comment  string `json:"comment"`
}

// PanelSpec is one query/chart pair of a dashboard design.
type PanelSpec struct {
	Name     string `json:"visualization_name"`
	Type     string `json:"visualization_type"`
	Caption  string `json:"caption"`
	SQLQuery string `json:"sql_query"`
}

// DashboardOutput is the one-shot dashboard design: sufficiency verdict
// plus up to five panel specs.
type DashboardOutput struct {
	SufficientContext bool        `json:"sufficient_context"`
	Comment           string      `json:"comment"`
	Visualizations    []PanelSpec `json:"visualizations"`
	QuestionsForUser  []string    `json:"questions_for_user"`
}

// ChartOutput is the generated chart code for a single result set.
type ChartOutput struct {
	ChartNeeded bool   `json:"chart_needed"`
	CodeBlock   string `json:"code_block"`
	Message     string `json:"message"`
}

// Decode unmarshals a raw generation result into the schema struct for its
// prompt kind. A mismatch is reported as a GenerationError.
func Decode[T any](kind PromptKind, raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &GenerationError{Kind: kind, Err: fmt.Errorf("output schema mismatch: %w", err)}
	}
	return out, nil
}
