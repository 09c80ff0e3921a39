package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionIsAtRest(t *testing.T) {
	s := New()
	assert.True(t, s.IsAtRest())
	assert.Equal(t, HandoffUser, s.Handoff)
	assert.NotEmpty(t, s.ID)
}

func TestEnsureDefaultsIdempotent(t *testing.T) {
	s := &Session{ID: "s1"}
	s.EnsureDefaults()
	assert.Equal(t, HandoffUser, s.Handoff)
	assert.NotNil(t, s.Messages)
	assert.NotNil(t, s.UserInputHistory)

	// Existing values are never overwritten.
	s.Handoff = HandoffSQLQuery
	s.RouterCounter = 2
	s.AppendInput("show sales")
	s.EnsureDefaults()
	assert.Equal(t, HandoffSQLQuery, s.Handoff)
	assert.Equal(t, 2, s.RouterCounter)
	assert.Len(t, s.UserInputHistory, 1)
}

func TestCleanupCompleteness(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Session)
	}{
		{
			name: "after delegation",
			setup: func(s *Session) {
				s.RouterCounter = 1
				s.Handoff = HandoffSQLQuery
				s.Routing = &Routing{Target: HandoffSQLQuery, UserRequest: "total sales"}
				s.AppendInput("show total sales")
			},
		},
		{
			name: "after clarification loop",
			setup: func(s *Session) {
				s.RouterCounter = 1
				s.Handoff = HandoffDashboard
				s.Routing = &Routing{Target: HandoffDashboard, UserRequest: "regional overview"}
				s.AppendInput("something about regions")
				s.AppendInput("dashboard please")
			},
		},
		{
			name:  "already at rest",
			setup: func(s *Session) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			tt.setup(s)
			s.Cleanup()

			assert.True(t, s.IsAtRest())
			assert.Equal(t, 0, s.RouterCounter)
			assert.Nil(t, s.Routing)
			assert.Empty(t, s.UserInputHistory)
			assert.Equal(t, HandoffUser, s.Handoff)
		})
	}
}

func TestCleanupPreservesMessagesAndContext(t *testing.T) {
	s := New()
	s.CurrentDB = "analytics"
	s.CurrentSchema = "public"
	s.AppendMessage("user", "", "show total sales")
	s.AppendMessage("assistant", "sql_query_agent", "here are the results")
	s.Handoff = HandoffSQLQuery
	s.RouterCounter = 1

	s.Cleanup()

	assert.Len(t, s.Messages, 2)
	assert.Equal(t, "analytics", s.CurrentDB)
	assert.Equal(t, "public", s.CurrentSchema)
}

func TestValidHandoff(t *testing.T) {
	assert.True(t, ValidHandoff("user"))
	assert.True(t, ValidHandoff("sql_query_agent"))
	assert.True(t, ValidHandoff("dashboard_agent"))
	assert.False(t, ValidHandoff("sql_agent"))
	assert.False(t, ValidHandoff(""))
}

func TestTranscriptInterleavesQuestions(t *testing.T) {
	s := New()
	s.AppendInput("show me something about sales")
	s.AppendMessage("assistant", "routing_agent", "Which region are you interested in?")
	s.AppendInput("the EMEA region")

	got := s.Transcript()
	want := "user: show me something about sales\n" +
		"routing agent: Which region are you interested in?\n" +
		"user: the EMEA region"
	assert.Equal(t, want, got)
}

func TestTranscriptSingleTurn(t *testing.T) {
	s := New()
	s.AppendInput("show total sales")
	assert.Equal(t, "user: show total sales", s.Transcript())
}

func TestCloneIsDeep(t *testing.T) {
	s := New()
	s.AppendInput("a")
	s.AppendMessage("user", "", "a")
	s.Routing = &Routing{Target: HandoffSQLQuery, UserRequest: "a"}

	cp := s.Clone()
	cp.UserInputHistory[0] = "b"
	cp.Messages[0].Content = "b"
	cp.Routing.UserRequest = "b"

	assert.Equal(t, "a", s.UserInputHistory[0])
	assert.Equal(t, "a", s.Messages[0].Content)
	assert.Equal(t, "a", s.Routing.UserRequest)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	s := New()
	s.AppendMessage("user", "", "hello")
	require.NoError(t, store.Save(ctx, s))

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Len(t, got.Messages, 1)

	// Mutating the returned copy must not touch stored state.
	got.AppendMessage("user", "", "again")
	got2, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, got2.Messages, 1)

	// Delete is a no-op when absent.
	require.NoError(t, store.Delete(ctx, s.ID))
	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
