package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/frostlabs/snowgpt/assistant/gen"
	"github.com/frostlabs/snowgpt/assistant/metrics"
	"github.com/frostlabs/snowgpt/warehouse"
)

// maxResultRows bounds the rows rendered into the result message.
const maxResultRows = 50

// validationAttempt is the ephemeral state of one retry-loop step. It
// lives only for the duration of the loop and is never persisted.
type validationAttempt struct {
	query   string
	errMsg  string
	attempt int
}

// SQLConfig tunes the SQL pipeline's validation behavior.
type SQLConfig struct {
	// ValidatorEnabled permits the retry loop when the warehouse
	// rejects the candidate plan. Disabled, a rejected plan is a
	// terminal error with no retries.
	ValidatorEnabled bool
	// ForceValidator runs the validator even when the plan check
	// passes.
	ForceValidator bool
	// MaxRetries bounds validator invocations per build chain.
	MaxRetries int
}

// SQLPipeline answers a routed single-query request: sufficiency
// check, query build, validation with bounded retries, execution and
// the chart step.
type SQLPipeline struct {
	gen     gen.Service
	wh      warehouse.Warehouse
	chart   *ChartPipeline
	cfg     SQLConfig
	limiter *rate.Limiter
	metrics *metrics.Exporter
}

// NewSQLPipeline creates the SQL pipeline. exporter may be nil. The
// validator is paced so repeated invocations do not hammer a
// rate-limited provider.
func NewSQLPipeline(svc gen.Service, wh warehouse.Warehouse, chart *ChartPipeline, cfg SQLConfig, exporter *metrics.Exporter) *SQLPipeline {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &SQLPipeline{
		gen:     svc,
		wh:      wh,
		chart:   chart,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		metrics: exporter,
	}
}

// Run processes one request to a terminal result. Every branch,
// success or failure, produces a Result the state machine can append
// and clean up after.
func (p *SQLPipeline) Run(ctx context.Context, request string) *Result {
	schemaCtx, err := warehouse.RenderMetadata(ctx, p.wh)
	if err != nil {
		slog.Error("sql pipeline: failed to read schema metadata", "error", err)
		return terminal(StatusBuildFailure, "I could not read the schema metadata: %v. Please try again.", err)
	}

	// Sufficiency check. Insufficient context is terminal; no query
	// is built.
	sme, err := p.checkContext(ctx, request, schemaCtx)
	if err != nil {
		return terminal(StatusBuildFailure, "I could not analyze your request: %v. Please rephrase it.", err)
	}
	if !sme.SufficientContext {
		slog.Info("sql pipeline: insufficient context")
		return terminal(StatusInsufficientContext,
			"I don't have enough context in the current schema to answer that.\n\n%s", sme.Comment)
	}

	candidate, err := p.buildQuery(ctx, request, sme.Comment, nil)
	if err != nil {
		slog.Error("sql pipeline: query build failed", "error", err)
		return terminal(StatusBuildFailure, "I was unable to build a query for your request: %v", err)
	}

	result, res := p.validateAndExecute(ctx, request, sme.Comment, schemaCtx, candidate)
	if res != nil {
		return res
	}

	chart, _ := p.chart.Generate(ctx, request, "", result.table, ModeSingle)

	msg := fmt.Sprintf("%s\n\n```sql\n%s\n```\n\n%s",
		result.comment, result.query, result.table.Markdown(maxResultRows))
	return &Result{
		Status:  StatusOK,
		Message: msg,
		Query:   result.query,
		Table:   result.table,
		Chart:   chart,
	}
}

type executed struct {
	query   string
	comment string
	table   *warehouse.TabularResult
}

// validateAndExecute runs the plan check, the bounded retry loop and
// the execution. Returns the executed result, or a terminal Result on
// failure.
func (p *SQLPipeline) validateAndExecute(ctx context.Context, request, smeContext, schemaCtx string, candidate *gen.QueryBuildOutput) (*executed, *Result) {
	planErr := p.wh.Validate(ctx, candidate.SQLQuery)
	if planErr != nil {
		slog.Info("sql pipeline: plan check rejected candidate", "error", planErr)
	}

	needLoop := planErr != nil || p.cfg.ForceValidator
	if needLoop {
		if !p.cfg.ValidatorEnabled && planErr != nil {
			return nil, terminal(StatusValidationExhausted,
				"The generated query failed validation and the validator is disabled:\n\n```sql\n%s\n```\n\n%v",
				candidate.SQLQuery, planErr)
		}
		if p.cfg.ValidatorEnabled {
			var ok bool
			var lastMsg string
			candidate, ok, lastMsg = p.retryLoop(ctx, request, smeContext, schemaCtx, candidate, planErr)
			if !ok {
				return nil, terminal(StatusValidationExhausted,
					"The query still failed validation after %d attempts. Last validator message:\n\n%s",
					p.cfg.MaxRetries, lastMsg)
			}
		}
	}

	table, err := p.wh.Execute(ctx, candidate.SQLQuery)
	if err != nil {
		// Execution failures are terminal; only validation failures
		// are retried.
		slog.Error("sql pipeline: execution failed", "error", err)
		return nil, terminal(StatusExecutionError,
			"The query failed to execute:\n\n```sql\n%s\n```\n\n%v", candidate.SQLQuery, err)
	}

	return &executed{query: candidate.SQLQuery, comment: candidate.Comment, table: table}, nil
}

// retryLoop invokes the validator up to MaxRetries times, feeding each
// failure back into the query build step. Returns the accepted
// candidate, or ok=false with the last validator message.
func (p *SQLPipeline) retryLoop(ctx context.Context, request, smeContext, schemaCtx string, candidate *gen.QueryBuildOutput, planErr error) (*gen.QueryBuildOutput, bool, string) {
	attempt := validationAttempt{query: candidate.SQLQuery}
	if planErr != nil {
		attempt.errMsg = planErr.Error()
	}

	for attempt.attempt = 1; attempt.attempt <= p.cfg.MaxRetries; attempt.attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return candidate, false, err.Error()
		}
		if p.metrics != nil {
			p.metrics.RecordValidationRetry()
		}

		verdict, err := p.validateQuery(ctx, request, schemaCtx, attempt)
		if err != nil {
			slog.Warn("sql pipeline: validator call failed", "attempt", attempt.attempt, "error", err)
			attempt.errMsg = err.Error()
			continue
		}
		if verdict.SQLValid {
			slog.Info("sql pipeline: validator accepted query", "attempt", attempt.attempt)
			return candidate, true, ""
		}
		slog.Info("sql pipeline: validator rejected query", "attempt", attempt.attempt)
		attempt.errMsg = verdict.Comment

		if attempt.attempt == p.cfg.MaxRetries {
			break
		}

		rebuilt, err := p.buildQuery(ctx, request, smeContext, &attempt)
		if err != nil {
			slog.Warn("sql pipeline: rebuild failed", "attempt", attempt.attempt, "error", err)
			continue
		}
		candidate = rebuilt
		attempt.query = rebuilt.SQLQuery
	}
	return candidate, false, attempt.errMsg
}

func (p *SQLPipeline) checkContext(ctx context.Context, request, schemaCtx string) (*gen.SMEOutput, error) {
	payload := fmt.Sprintf("Schema metadata:\n%s\n\nUser request: %s", schemaCtx, request)
	raw, err := p.gen.Generate(ctx, gen.PromptSMECheck, payload)
	if err != nil {
		return nil, err
	}
	out, err := gen.Decode[gen.SMEOutput](gen.PromptSMECheck, raw)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *SQLPipeline) buildQuery(ctx context.Context, request, smeContext string, prior *validationAttempt) (*gen.QueryBuildOutput, error) {
	payload := fmt.Sprintf("Context from the schema expert:\n%s\n\nUser request: %s", smeContext, request)
	if prior != nil {
		payload += fmt.Sprintf("\n\nPrevious candidate:\n%s\n\nValidator objections:\n%s", prior.query, prior.errMsg)
	}
	raw, err := p.gen.Generate(ctx, gen.PromptQueryBuild, payload)
	if err != nil {
		return nil, err
	}
	out, err := gen.Decode[gen.QueryBuildOutput](gen.PromptQueryBuild, raw)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *SQLPipeline) validateQuery(ctx context.Context, request, schemaCtx string, attempt validationAttempt) (*gen.ValidationOutput, error) {
	payload := fmt.Sprintf("Schema metadata:\n%s\n\nUser request: %s\n\nCandidate query:\n%s",
		schemaCtx, request, attempt.query)
	if attempt.errMsg != "" {
		payload += "\n\nPrior error:\n" + attempt.errMsg
	}
	raw, err := p.gen.Generate(ctx, gen.PromptValidation, payload)
	if err != nil {
		return nil, err
	}
	out, err := gen.Decode[gen.ValidationOutput](gen.PromptValidation, raw)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
