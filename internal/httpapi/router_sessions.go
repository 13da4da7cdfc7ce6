package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

func (r *router) handleSessions(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if r.deps.Conversations == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "conversations are not configured"})
		return
	}
	items := r.deps.Conversations.Sessions()
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

type endSessionRequest struct {
	GroupID string `json:"group_id"`
}

func (r *router) handleSessionsEnd(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if r.deps.Conversations == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "conversations are not configured"})
		return
	}
	var payload endSessionRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	groupID := strings.TrimSpace(payload.GroupID)
	if groupID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "group_id is required"})
		return
	}
	if !r.deps.Conversations.End(groupID) {
		writeJSON(w, http.StatusNotFound, map[string]any{"group_id": groupID, "ended": false})
		return
	}
	r.deps.Logger.Info("conversation ended via api", "group_id", groupID)
	writeJSON(w, http.StatusOK, map[string]any{"group_id": groupID, "ended": true})
}

func (r *router) handleConversationRuns(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if r.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store is not configured"})
		return
	}
	groupID := strings.TrimSpace(req.URL.Query().Get("group_id"))
	items, err := r.deps.Store.ListConversationRuns(req.Context(), groupID, limitParam(req, 50))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func limitParam(req *http.Request, fallback int) int {
	raw := strings.TrimSpace(req.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}
