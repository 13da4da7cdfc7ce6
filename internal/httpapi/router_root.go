package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dwizi/assistant-relay/internal/config"
	"github.com/dwizi/assistant-relay/internal/conversation"
	"github.com/dwizi/assistant-relay/internal/heartbeat"
	"github.com/dwizi/assistant-relay/internal/metrics"
	"github.com/dwizi/assistant-relay/internal/store"
)

type Conversations interface {
	Bots() []string
	Pacing() conversation.Pacing
	Sessions() []conversation.Session
	End(groupID string) bool
}

type QuotaReader interface {
	Limit() int
	Today() string
	Usage(ctx context.Context, bot string) (store.QuotaRecord, error)
}

// Pinger is an extra readiness dependency, such as the Redis quota backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Config              config.Config
	Store               *store.Store
	Conversations       Conversations
	Quota               QuotaReader
	ReadinessChecks     map[string]Pinger
	Metrics             *metrics.Collector
	Logger              *slog.Logger
	Heartbeat           *heartbeat.Registry
	HeartbeatStaleAfter time.Duration
}

type router struct {
	deps Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	rt := &router{deps: deps}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.handleHealth)
	mux.HandleFunc("/readyz", rt.handleReady)
	mux.Handle("/metrics", deps.Metrics.Handler())
	mux.HandleFunc("/api/v1/heartbeat", rt.handleHeartbeat)
	mux.HandleFunc("/api/v1/info", rt.handleInfo)
	mux.HandleFunc("/api/v1/sessions", rt.handleSessions)
	mux.HandleFunc("/api/v1/sessions/end", rt.handleSessionsEnd)
	mux.HandleFunc("/api/v1/conversations", rt.handleConversationRuns)
	mux.HandleFunc("/api/v1/quota", rt.handleQuota)
	mux.HandleFunc("/api/v1/qa", rt.handleQA)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
