package httpapi

import "net/http"

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *router) handleReady(w http.ResponseWriter, req *http.Request) {
	if r.deps.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": "store is not configured"})
		return
	}
	if err := r.deps.Store.Ping(req.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not-ready", "error": err.Error()})
		return
	}
	for name, check := range r.deps.ReadinessChecks {
		if err := check.Ping(req.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":     "not-ready",
				"dependency": name,
				"error":      err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (r *router) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if r.deps.Heartbeat == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  "heartbeat is disabled",
		})
		return
	}
	snapshot := r.deps.Heartbeat.Snapshot(r.deps.HeartbeatStaleAfter)
	writeJSON(w, http.StatusOK, snapshot)
}

func (r *router) handleInfo(w http.ResponseWriter, req *http.Request) {
	payload := map[string]any{
		"name":          "assistant-relay",
		"environment":   r.deps.Config.Environment,
		"quota_backend": r.deps.Config.QuotaBackend,
	}
	if r.deps.Conversations != nil {
		pacing := r.deps.Conversations.Pacing()
		payload["bots"] = r.deps.Conversations.Bots()
		payload["min_turn_delay_seconds"] = pacing.MinTurnDelay.Seconds()
		payload["target_turn_period_seconds"] = pacing.TargetTurnPeriod.Seconds()
	}
	if r.deps.Quota != nil {
		payload["daily_quota"] = r.deps.Quota.Limit()
	}
	writeJSON(w, http.StatusOK, payload)
}
