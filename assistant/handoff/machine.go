// Package handoff implements the central decision loop of the
// assistant. On every user turn it gates the session on the active
// data context, dispatches to the router or directly to a pipeline,
// and collapses transient state back to rest when a pipeline finishes.
package handoff

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/frostlabs/snowgpt/assistant/metrics"
	"github.com/frostlabs/snowgpt/assistant/pipeline"
	"github.com/frostlabs/snowgpt/assistant/router"
	"github.com/frostlabs/snowgpt/assistant/session"
	"github.com/frostlabs/snowgpt/warehouse"
)

// ErrTurnInFlight is returned when a turn arrives while another turn
// of the same conversation is still being processed. Turns are
// strictly sequential per conversation; concurrent input is rejected,
// never interleaved.
var ErrTurnInFlight = errors.New("a turn is already in flight for this conversation")

// routingAgent labels clarification messages in the conversation log.
const routingAgent = "routing_agent"

// Pipeline is one turn handler a routed request is delegated to.
type Pipeline interface {
	Run(ctx context.Context, request string) *pipeline.Result
}

// Reply is what one processed turn hands to the presentation layer.
type Reply struct {
	ConversationID string           `json:"conversation_id"`
	Agent          string           `json:"agent"`
	Message        string           `json:"message"`
	Result         *pipeline.Result `json:"result,omitempty"`
}

// Machine is the handoff state machine.
type Machine struct {
	router   *router.Router
	sqlPipe  Pipeline
	dashPipe Pipeline
	store    session.Store
	tracker  session.Tracker
	dataCtx  warehouse.ContextProvider
	metrics  *metrics.Exporter

	// maxClarifyTurns bounds accumulated clarification turns; 0 means
	// unbounded.
	maxClarifyTurns int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Config assembles a Machine.
type Config struct {
	Router          *router.Router
	SQLPipeline     Pipeline
	DashPipeline    Pipeline
	Store           session.Store
	DataContext     warehouse.ContextProvider
	Metrics         *metrics.Exporter
	MaxClarifyTurns int
}

// NewMachine creates the state machine.
func NewMachine(cfg Config) *Machine {
	return &Machine{
		router:          cfg.Router,
		sqlPipe:         cfg.SQLPipeline,
		dashPipe:        cfg.DashPipeline,
		store:           cfg.Store,
		dataCtx:         cfg.DataContext,
		metrics:         cfg.Metrics,
		maxClarifyTurns: cfg.MaxClarifyTurns,
		locks:           make(map[string]*sync.Mutex),
	}
}

func (m *Machine) conversationLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// HandleTurn processes one user input for the conversation and returns
// the assistant's reply. A second call for the same conversation while
// one is in flight fails with ErrTurnInFlight.
func (m *Machine) HandleTurn(ctx context.Context, conversationID, input string) (*Reply, error) {
	lock := m.conversationLock(conversationID)
	if !lock.TryLock() {
		return nil, ErrTurnInFlight
	}
	defer lock.Unlock()

	if m.metrics != nil {
		m.metrics.TurnStarted()
		defer m.metrics.TurnFinished()
	}
	start := time.Now()

	sess, err := m.loadSession(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	// Context gate. A change resets the whole session before anything
	// reads it.
	db, schema := m.dataCtx.CurrentDatabase(), m.dataCtx.CurrentSchema()
	if m.tracker.DetectChange(sess, db, schema) {
		m.tracker.ApplyReset(sess, db, schema)
		if m.metrics != nil {
			m.metrics.RecordContextReset()
		}
	}
	sess.EnsureDefaults()

	sess.AppendMessage("user", "", input)

	var reply *Reply
	if sess.Handoff == session.HandoffUser {
		reply, err = m.routeTurn(ctx, sess, input)
	} else {
		// A handoff target is already set; bypass the router and let
		// the owning pipeline refine with the new input.
		reply = m.dispatch(ctx, sess, m.mergedRequest(sess, input))
	}
	if err != nil {
		return nil, err
	}

	if saveErr := m.store.Save(ctx, sess); saveErr != nil {
		return nil, errors.Wrap(saveErr, "failed to persist session")
	}

	if m.metrics != nil {
		status := "ok"
		if reply.Result != nil && !reply.Result.OK() {
			status = string(reply.Result.Status)
		}
		m.metrics.RecordTurn(reply.Agent, status, time.Since(start))
	}
	return reply, nil
}

func (m *Machine) loadSession(ctx context.Context, id string) (*session.Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err == nil {
		return sess, nil
	}
	if errors.Is(err, session.ErrNotFound) {
		sess = session.New()
		sess.ID = id
		return sess, nil
	}
	return nil, errors.Wrap(err, "failed to load session")
}

// routeTurn handles input while the session is at handoff user: it
// accumulates the input, asks the router, and either suspends awaiting
// clarification or delegates to a pipeline.
func (m *Machine) routeTurn(ctx context.Context, sess *session.Session, input string) (*Reply, error) {
	// The counter only grows on the 0 to 1 transition; clarification
	// loops accumulate history without further increments.
	if sess.RouterCounter == 0 {
		sess.RouterCounter = 1
	}
	sess.AppendInput(input)

	if m.maxClarifyTurns > 0 && len(sess.UserInputHistory) > m.maxClarifyTurns {
		slog.Warn("handoff: clarification limit reached, resetting cycle",
			"session_id", sess.ID, "turns", len(sess.UserInputHistory))
		sess.Cleanup()
		return m.clarify(sess,
			"We have gone back and forth a few times without a clear request. Let's start over: what would you like to know?"), nil
	}

	dbCtx := fmt.Sprintf("database: %s, schema: %s", sess.CurrentDB, sess.CurrentSchema)
	decision, err := m.router.Route(ctx, sess.UserInputHistory, sess.Transcript(), dbCtx)
	if err != nil {
		// Routing failures are not retried; the conversation stays
		// usable with a clarification-style message.
		slog.Error("handoff: routing failed", "session_id", sess.ID, "error", err)
		return m.clarify(sess, "I was unable to route your request. Could you rephrase it?"), nil
	}

	if decision.NeedsClarification() {
		slog.Info("handoff: awaiting clarification",
			"session_id", sess.ID, "history_len", len(sess.UserInputHistory))
		return m.clarify(sess, decision.Question), nil
	}

	sess.Handoff = decision.Target
	sess.Routing = &session.Routing{Target: decision.Target, UserRequest: decision.UserRequest}
	slog.Info("handoff: delegating", "session_id", sess.ID, "target", decision.Target)

	return m.dispatch(ctx, sess, decision.UserRequest), nil
}

// clarify appends a routing-agent message and suspends the turn; the
// state machine awaits the next user input.
func (m *Machine) clarify(sess *session.Session, question string) *Reply {
	sess.AppendMessage("assistant", routingAgent, question)
	return &Reply{ConversationID: sess.ID, Agent: routingAgent, Message: question}
}

// mergedRequest combines the persisted routing payload with a
// follow-up input for in-handler refinement.
func (m *Machine) mergedRequest(sess *session.Session, input string) string {
	if sess.Routing == nil || sess.Routing.UserRequest == "" {
		return input
	}
	return sess.Routing.UserRequest + "\n\nFollow-up: " + input
}

// dispatch runs the owning pipeline and unconditionally cleans up
// afterwards, success or failure, so the session returns to rest
// before the next turn.
func (m *Machine) dispatch(ctx context.Context, sess *session.Session, request string) *Reply {
	agent := string(sess.Handoff)

	var res *pipeline.Result
	switch sess.Handoff {
	case session.HandoffSQLQuery:
		res = m.sqlPipe.Run(ctx, request)
	case session.HandoffDashboard:
		res = m.dashPipe.Run(ctx, request)
	default:
		res = &pipeline.Result{
			Status:  pipeline.StatusBuildFailure,
			Message: "No handler is set for this turn. Please restate your request.",
		}
	}

	sess.AppendMessage("assistant", agent, res.Message)
	sess.Cleanup()

	return &Reply{ConversationID: sess.ID, Agent: agent, Message: res.Message, Result: res}
}
