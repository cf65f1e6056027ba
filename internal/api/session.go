package api

import (
	"net/http"

	"github.com/datapulse/datapulse/internal/session"
)

type sessionPayload struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	Tables     []string `json:"tables"`
	Schema     string   `json:"schema"`
	CreatedAt  string   `json:"created_at"`
	LastAccess string   `json:"last_access"`
}

func sessionToPayload(s session.Session) sessionPayload {
	return sessionPayload{
		ID:         s.ID,
		Kind:       string(s.Kind),
		Tables:     s.Tables,
		Schema:     s.Schema,
		CreatedAt:  s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		LastAccess: s.LastAccess.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// requireSessionID rejects ids that fail the UUID grammar before anything
// else looks at them. A malformed id is its own error, distinct from a
// session that expired or never existed.
func requireSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !session.ValidID(id) {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_SESSION_ID", "session id is not a valid UUID", false, nil)
		return "", false
	}
	return id, true
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	created := deps.Registry.Create()
	writeJSON(w, http.StatusCreated, sessionToPayload(created))
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id, ok := requireSessionID(w, r)
	if !ok {
		return
	}
	found, ok := deps.Registry.Get(id)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found or expired", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionToPayload(found))
}

func handleDeleteSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id, ok := requireSessionID(w, r)
	if !ok {
		return
	}
	deps.Registry.Delete(id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func handleResetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id, ok := requireSessionID(w, r)
	if !ok {
		return
	}
	ok, message := deps.Registry.ResetToDemo(id)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", message, false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset", "message": message})
}
