// Package router decides which handler owns a conversation turn. It is
// stateless with respect to sessions: it receives the accumulated
// transcript and returns a decision, never touching stored state.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/frostlabs/snowgpt/assistant/gen"
	"github.com/frostlabs/snowgpt/assistant/session"
)

// Decision is the routing outcome for one turn. Target HandoffUser
// means the router needs clarification; Question carries what to ask.
// Any other target delegates with the refined UserRequest.
type Decision struct {
	Target      session.Handoff
	Question    string
	UserRequest string
}

// NeedsClarification reports whether the decision asks the user for
// more input instead of delegating.
func (d Decision) NeedsClarification() bool {
	return d.Target == session.HandoffUser
}

// ConfirmPredicate reports whether the accumulated history carries an
// explicit confirmation signal for a dashboard handoff.
type ConfirmPredicate func(history []string) bool

// KeywordConfirm builds a ConfirmPredicate matching any of the given
// affirmative keywords, case-insensitive, anywhere in the history.
func KeywordConfirm(keywords []string) ConfirmPredicate {
	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw)
	}
	return func(history []string) bool {
		for _, input := range history {
			input = strings.ToLower(input)
			for _, kw := range lowered {
				if strings.Contains(input, kw) {
					return true
				}
			}
		}
		return false
	}
}

// Router turns an accumulated transcript into a routing decision.
type Router struct {
	gen     gen.Service
	confirm ConfirmPredicate
}

// New creates a Router over the generation service. The confirm
// predicate gates dashboard handoffs; dashboards require an explicit
// affirmative signal while single queries do not, so that ambiguous
// input never triggers a multi-query fan-out.
func New(svc gen.Service, confirm ConfirmPredicate) *Router {
	return &Router{gen: svc, confirm: confirm}
}

// Route decides the handoff for the turn. history is the raw user
// inputs accumulated this cycle, transcript their labeled rendering,
// schemaContext the active data context description.
func (r *Router) Route(ctx context.Context, history []string, transcript, schemaContext string) (Decision, error) {
	payload := fmt.Sprintf("Data context:\n%s\n\nConversation:\n%s", schemaContext, transcript)

	raw, err := r.gen.Generate(ctx, gen.PromptRouting, payload)
	if err != nil {
		return Decision{}, err
	}
	out, err := gen.Decode[gen.RoutingOutput](gen.PromptRouting, raw)
	if err != nil {
		return Decision{}, err
	}

	if !session.ValidHandoff(out.Handoff) {
		return Decision{}, &gen.GenerationError{
			Kind: gen.PromptRouting,
			Err:  fmt.Errorf("unknown handoff target %q", out.Handoff),
		}
	}
	target := session.Handoff(out.Handoff)

	if target == session.HandoffUser {
		slog.Debug("router: needs clarification", "question_length", len(out.QuestionsForUsers))
		return Decision{Target: session.HandoffUser, Question: out.QuestionsForUsers}, nil
	}

	// Dashboards require an explicit confirmation signal; without one
	// the request is treated as a single query.
	if target == session.HandoffDashboard && !r.confirm(history) {
		slog.Debug("router: dashboard without confirmation, defaulting to sql handler")
		target = session.HandoffSQLQuery
	}

	slog.Info("router: delegating", "target", target)
	return Decision{Target: target, UserRequest: out.UserRequest}, nil
}
