// Package server exposes the assistant over HTTP: the chat endpoint,
// conversation management, context inspection, ad-hoc queries, health
// and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/frostlabs/snowgpt/assistant/handoff"
	"github.com/frostlabs/snowgpt/assistant/metrics"
	"github.com/frostlabs/snowgpt/assistant/session"
	"github.com/frostlabs/snowgpt/internal/profile"
	"github.com/frostlabs/snowgpt/warehouse"
)

// Server wires the state machine and its collaborators to HTTP routes.
type Server struct {
	e       *echo.Echo
	profile *profile.Profile
	machine *handoff.Machine
	store   session.Store
	wh      warehouse.Warehouse
	metrics *metrics.Exporter
}

// NewServer assembles the HTTP layer.
func NewServer(p *profile.Profile, machine *handoff.Machine, store session.Store, wh warehouse.Warehouse, exporter *metrics.Exporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		e:       e,
		profile: p,
		machine: machine,
		store:   store,
		wh:      wh,
		metrics: exporter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.e.GET("/healthz", s.health)
	if s.metrics != nil {
		s.e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	api := s.e.Group("/api/v1")
	api.POST("/chat", s.chat)
	api.GET("/conversations", s.listConversations)
	api.GET("/conversations/:id", s.getConversation)
	api.DELETE("/conversations/:id", s.deleteConversation)
	api.GET("/context", s.dataContext)
	api.POST("/query", s.adhocQuery)
}

// Start serves until the context is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", addr, "mode", s.profile.Mode, "version", s.profile.Version)
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("server: shutting down")
	return s.e.Shutdown(shutdownCtx)
}

// Echo exposes the underlying router, used by tests.
func (s *Server) Echo() *echo.Echo { return s.e }

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.profile.Version,
	})
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// chat processes one conversation turn. Input arriving while a turn of
// the same conversation is in flight is rejected with 409; turns are
// never interleaved.
func (s *Server) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if req.ConversationID == "" {
		req.ConversationID = session.New().ID
	}

	reply, err := s.machine.HandleTurn(c.Request().Context(), req.ConversationID, req.Message)
	if err != nil {
		if errors.Is(err, handoff.ErrTurnInFlight) {
			return echo.NewHTTPError(http.StatusConflict, "a turn is already being processed for this conversation")
		}
		slog.Error("server: turn failed", "conversation_id", req.ConversationID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process turn").SetInternal(err)
	}
	return c.JSON(http.StatusOK, reply)
}

type conversationSummary struct {
	ID            string    `json:"id"`
	MessageCount  int       `json:"message_count"`
	Handoff       string    `json:"handoff"`
	CurrentDB     string    `json:"current_db"`
	CurrentSchema string    `json:"current_schema"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Server) listConversations(c echo.Context) error {
	sessions, err := s.store.List(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list conversations").SetInternal(err)
	}
	out := make([]conversationSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, conversationSummary{
			ID:            sess.ID,
			MessageCount:  len(sess.Messages),
			Handoff:       string(sess.Handoff),
			CurrentDB:     sess.CurrentDB,
			CurrentSchema: sess.CurrentSchema,
			UpdatedAt:     sess.UpdatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getConversation(c echo.Context) error {
	sess, err := s.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation").SetInternal(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteConversation(c echo.Context) error {
	if err := s.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete conversation").SetInternal(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// dataContext reports the active database/schema and its tables.
func (s *Server) dataContext(c echo.Context) error {
	ctx := c.Request().Context()
	tables, err := s.wh.ListTables(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list tables").SetInternal(err)
	}
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.Name)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"database": s.wh.CurrentDatabase(),
		"schema":   s.wh.CurrentSchema(),
		"tables":   names,
	})
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// adhocQuery runs a raw query against the warehouse, bypassing the
// assistant. Useful for inspecting data while refining a request.
func (s *Server) adhocQuery(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	result, err := s.wh.Execute(c.Request().Context(), req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("query failed: %v", err))
	}

	resp := queryResponse{Rows: result.Rows}
	for _, col := range result.Columns {
		resp.Columns = append(resp.Columns, col.Name)
	}
	return c.JSON(http.StatusOK, resp)
}
