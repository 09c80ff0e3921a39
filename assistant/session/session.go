// Package session holds per-conversation state: the message log, the
// handoff cycle fields and the active data context. Every field is
// explicit on the Session struct; components clear fields through the
// methods here instead of deleting loose keys.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Handoff names the recipient currently responsible for the next step
// of a conversation turn.
type Handoff string

const (
	// HandoffUser is the rest state: idle, awaiting a routing decision.
	HandoffUser Handoff = "user"
	// HandoffSQLQuery delegates the turn to the SQL pipeline.
	HandoffSQLQuery Handoff = "sql_query_agent"
	// HandoffDashboard delegates the turn to the dashboard pipeline.
	HandoffDashboard Handoff = "dashboard_agent"
)

// ValidHandoff reports whether s is a known handoff target. The router
// boundary rejects anything else so invalid targets never enter the
// state machine.
func ValidHandoff(s string) bool {
	switch Handoff(s) {
	case HandoffUser, HandoffSQLQuery, HandoffDashboard:
		return true
	}
	return false
}

// Message is one entry of the conversation log.
type Message struct {
	Role      string    `json:"role"` // user or assistant
	Agent     string    `json:"agent,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Routing is the persisted routing decision while a handoff cycle is
// being resolved.
type Routing struct {
	Target      Handoff `json:"target"`
	UserRequest string  `json:"user_request"`
}

// Session is the per-conversation state. CurrentDB and CurrentSchema
// survive every reset except the context change that triggers one; the
// remaining cycle fields are cleared by Cleanup and by the context
// tracker's reset.
type Session struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`

	RouterCounter    int      `json:"router_counter"`
	Handoff          Handoff  `json:"handoff"`
	Routing          *Routing `json:"routing,omitempty"`
	UserInputHistory []string `json:"user_input_history"`

	CurrentDB     string `json:"current_db"`
	CurrentSchema string `json:"current_schema"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an empty session at rest.
func New() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Handoff:   HandoffUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// EnsureDefaults fills absent cycle fields with their defaults. It is
// idempotent and never overwrites an existing value; the state machine
// calls it every turn after context handling.
func (s *Session) EnsureDefaults() {
	if s.Handoff == "" {
		s.Handoff = HandoffUser
	}
	if s.Messages == nil {
		s.Messages = []Message{}
	}
	if s.UserInputHistory == nil {
		s.UserInputHistory = []string{}
	}
}

// IsAtRest reports whether the session is in the canonical idle state.
// At rest there is no pending routing decision and no accumulated
// input history; a deviation signals a cleanup bug.
func (s *Session) IsAtRest() bool {
	return s.Handoff == HandoffUser &&
		s.RouterCounter == 0 &&
		s.Routing == nil &&
		len(s.UserInputHistory) == 0
}

// Cleanup collapses transient cycle state back to rest. It runs after
// every pipeline terminal outcome, success or failure, and is safe to
// call on an already clean session.
func (s *Session) Cleanup() {
	s.RouterCounter = 0
	s.Routing = nil
	s.UserInputHistory = nil
	s.Handoff = HandoffUser
	s.UpdatedAt = time.Now().UTC()
}

// AppendMessage appends one entry to the conversation log.
func (s *Session) AppendMessage(role, agent, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Agent:     agent,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
}

// AppendInput records one raw user turn in the accumulated history.
func (s *Session) AppendInput(input string) {
	s.UserInputHistory = append(s.UserInputHistory, input)
	s.UpdatedAt = time.Now().UTC()
}

// Transcript renders the accumulated user inputs as a labeled
// transcript for the router. Clarification questions the router asked
// in between are interleaved from the message log.
func (s *Session) Transcript() string {
	questions := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.Agent == "routing_agent" {
			questions = append(questions, m.Content)
		}
	}
	// Router questions trail the inputs that triggered them; only the
	// last len(history)-1 questions belong to the current cycle.
	if over := len(questions) - (len(s.UserInputHistory) - 1); over > 0 {
		questions = questions[over:]
	}

	var sb strings.Builder
	for i, input := range s.UserInputHistory {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("user: " + input)
		if i < len(questions) {
			sb.WriteString("\nrouting agent: " + questions[i])
		}
	}
	return sb.String()
}

// Clone returns a deep copy, used by stores to keep callers from
// aliasing stored state.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	cp.UserInputHistory = append([]string(nil), s.UserInputHistory...)
	if s.Routing != nil {
		r := *s.Routing
		cp.Routing = &r
	}
	return &cp
}
