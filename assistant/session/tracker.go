package session

import "log/slog"

// Tracker compares the active data context against the one recorded in
// the session and applies the full reset a context change demands.
type Tracker struct{}

// DetectChange reports whether the database/schema pair differs from
// the one the session last saw. The first turn of a session counts as
// a change. Pure comparison; the caller decides when to reset.
func (Tracker) DetectChange(s *Session, newDB, newSchema string) bool {
	if s.CurrentDB == "" && s.CurrentSchema == "" {
		return true
	}
	return s.CurrentDB != newDB || s.CurrentSchema != newSchema
}

// ApplyReset clears the conversational state and records the new
// context. This is the only path that clears the message log together
// with the handoff cycle fields; it must complete before any pipeline
// reads the session.
func (Tracker) ApplyReset(s *Session, newDB, newSchema string) {
	slog.Info("session: context changed, resetting state",
		"session_id", s.ID,
		"old_db", s.CurrentDB, "old_schema", s.CurrentSchema,
		"new_db", newDB, "new_schema", newSchema)

	s.Messages = nil
	s.Cleanup()
	s.CurrentDB = newDB
	s.CurrentSchema = newSchema
}
