package httpapi

import (
	"net/http"
	"strings"

	"github.com/dwizi/assistant-relay/internal/store"
)

type quotaItem struct {
	Bot       string `json:"bot"`
	Day       string `json:"day"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

func (r *router) handleQuota(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if r.deps.Quota == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "quota is not configured"})
		return
	}
	bots := []string{}
	if bot := strings.TrimSpace(req.URL.Query().Get("bot")); bot != "" {
		bots = append(bots, bot)
	} else if r.deps.Conversations != nil {
		bots = r.deps.Conversations.Bots()
	}

	limit := r.deps.Quota.Limit()
	items := make([]quotaItem, 0, len(bots))
	for _, bot := range bots {
		record, err := r.deps.Quota.Usage(req.Context(), bot)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		items = append(items, quotaItem{
			Bot:       bot,
			Day:       record.Day,
			Count:     record.Count,
			Limit:     limit,
			Remaining: max(limit-record.Count, 0),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":   r.deps.Quota.Today(),
		"items": items,
		"count": len(items),
	})
}

func (r *router) handleQA(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if r.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store is not configured"})
		return
	}
	bot := strings.TrimSpace(req.URL.Query().Get("bot"))
	items, err := r.deps.Store.ListQA(req.Context(), bot, limitParam(req, 50))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if items == nil {
		items = []store.QARecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}
