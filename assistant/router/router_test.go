package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostlabs/snowgpt/assistant/gen"
	"github.com/frostlabs/snowgpt/assistant/session"
)

type fakeGen struct {
	raw  string
	err  error
	last string
}

func (f *fakeGen) Generate(_ context.Context, _ gen.PromptKind, payload string) (json.RawMessage, error) {
	f.last = payload
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.raw), nil
}

func TestRouteDelegatesToSQL(t *testing.T) {
	fg := &fakeGen{raw: `{"handoff":"sql_query_agent","user_request":"total sales by month"}`}
	r := New(fg, KeywordConfirm([]string{"please"}))

	d, err := r.Route(context.Background(), []string{"show total sales"}, "user: show total sales", "schema ctx")
	require.NoError(t, err)
	assert.False(t, d.NeedsClarification())
	assert.Equal(t, session.HandoffSQLQuery, d.Target)
	assert.Equal(t, "total sales by month", d.UserRequest)
	assert.Contains(t, fg.last, "user: show total sales")
	assert.Contains(t, fg.last, "schema ctx")
}

func TestRouteNeedsClarification(t *testing.T) {
	fg := &fakeGen{raw: `{"handoff":"user","questions_for_users":"Which region?"}`}
	r := New(fg, KeywordConfirm([]string{"please"}))

	d, err := r.Route(context.Background(), []string{"show me stuff"}, "user: show me stuff", "")
	require.NoError(t, err)
	assert.True(t, d.NeedsClarification())
	assert.Equal(t, "Which region?", d.Question)
}

func TestRouteDashboardConfirmation(t *testing.T) {
	tests := []struct {
		name    string
		history []string
		want    session.Handoff
	}{
		{
			name:    "confirmed with keyword",
			history: []string{"please build me a dashboard of regional performance"},
			want:    session.HandoffDashboard,
		},
		{
			name:    "not confirmed, defaults to sql",
			history: []string{"regional performance overview"},
			want:    session.HandoffSQLQuery,
		},
		{
			name:    "confirmed in a later turn",
			history: []string{"regional performance overview", "yes"},
			want:    session.HandoffDashboard,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := &fakeGen{raw: `{"handoff":"dashboard_agent","user_request":"regional performance"}`}
			r := New(fg, KeywordConfirm([]string{"please", "yes", "go ahead"}))

			d, err := r.Route(context.Background(), tt.history, "", "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Target)
		})
	}
}

func TestRouteRejectsUnknownTarget(t *testing.T) {
	fg := &fakeGen{raw: `{"handoff":"chart_agent"}`}
	r := New(fg, KeywordConfirm(nil))

	_, err := r.Route(context.Background(), []string{"x"}, "", "")
	require.Error(t, err)
	var genErr *gen.GenerationError
	assert.ErrorAs(t, err, &genErr)
}

func TestRoutePropagatesGenerationFailure(t *testing.T) {
	fg := &fakeGen{err: errors.New("provider down")}
	r := New(fg, KeywordConfirm(nil))

	_, err := r.Route(context.Background(), []string{"x"}, "", "")
	assert.Error(t, err)
}

func TestKeywordConfirmCaseInsensitive(t *testing.T) {
	confirm := KeywordConfirm([]string{"Go Ahead"})
	assert.True(t, confirm([]string{"ok GO AHEAD and build it"}))
	assert.False(t, confirm([]string{"not sure yet"}))
	assert.False(t, confirm(nil))
}
